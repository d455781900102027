package events

// Publisher emits completion events for downstream consumers (dashboards,
// alerting). Implementations must be safe for sequential reuse.
type Publisher interface {
	Publish(topic string, event any) error
}

// Topics.
const (
	TopicSyncCompleted      = "sync.completed"
	TopicReconcileCompleted = "reconcile.completed"
)

// Nop discards every event; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }
