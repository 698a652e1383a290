package repository

import (
	"fmt"

	"github.com/matheus3301/msgcore/internal/store"
)

// Entity kinds reported by NotFoundError.
const (
	KindConversation   = "conversation"
	KindMessage        = "message"
	KindUser           = "user"
	KindActionItem     = "action item"
	KindAIConversation = "ai conversation"
)

// NotFoundError reports a missing entity. It matches store.ErrEntityNotFound
// under errors.Is.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == store.ErrEntityNotFound
}

func notFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidData, fmt.Sprintf(format, args...))
}
