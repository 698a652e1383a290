package model

import (
	"fmt"
	"slices"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// ParseMessageStatus converts a persisted value back into a MessageStatus.
func ParseMessageStatus(s string) (MessageStatus, error) {
	switch MessageStatus(s) {
	case StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return MessageStatus(s), nil
	}
	return "", fmt.Errorf("unknown message status %q", s)
}

// validTransitions defines the allowed status moves. Progress only goes
// forward; failed is left only by a retry or by proof the message got through.
var validTransitions = map[MessageStatus][]MessageStatus{
	StatusSending:   {StatusSent, StatusDelivered, StatusRead, StatusFailed},
	StatusSent:      {StatusDelivered, StatusRead, StatusFailed},
	StatusDelivered: {StatusRead},
	StatusRead:      {},
	StatusFailed:    {StatusSending, StatusSent, StatusDelivered, StatusRead},
}

// CanTransition reports whether a message may move from one status to another.
func CanTransition(from, to MessageStatus) bool {
	return slices.Contains(validTransitions[from], to)
}

// Rank orders the progress states. Failed ranks with sending.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Furthest returns whichever of a and b represents more delivery progress.
// Any progress beats failed.
func Furthest(a, b MessageStatus) MessageStatus {
	if CanTransition(a, b) && b != StatusFailed && b != StatusSending {
		return b
	}
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}
