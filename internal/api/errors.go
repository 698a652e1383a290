package api

import (
	"context"
	"errors"

	"github.com/matheus3301/msgcore/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps store and repository errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, store.ErrEntityNotFound):
		code = codes.NotFound
	case errors.Is(err, store.ErrInvalidData):
		code = codes.InvalidArgument
	case errors.Is(err, store.ErrDuplicateKey):
		code = codes.AlreadyExists
	case errors.Is(err, store.ErrMultipleMatches):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return grpcstatus.Error(code, err.Error())
}
