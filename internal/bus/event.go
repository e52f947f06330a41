package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Namespaces used by the sync core.
const (
	CacheNamespace   = "cache."
	ChannelNamespace = "channel."
	SessionNamespace = "session."
	OutboxNamespace  = "outbox."
)
