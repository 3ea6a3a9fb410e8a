package audit

import "context"

// Logger records audit events. Implementations must be safe for concurrent
// use. Record is best-effort from the caller's point of view: mutations are
// never rolled back because an audit write failed, so implementations log
// their own failures.
type Logger interface {
	Record(ctx context.Context, event Event)
	Close() error
}

// NopLogger discards every event. Used when auditing is disabled.
type NopLogger struct{}

func (NopLogger) Record(context.Context, Event) {}
func (NopLogger) Close() error                  { return nil }
