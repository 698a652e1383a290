package bus

import "time"

// Event represents a domain event published on the bus. Kind is dotted:
// "store.changed" after committed writes, "remote.<kind>" for authoritative
// versions arriving from the transport, "outbox.ack" / "outbox.failed" for
// push results.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
