package notify

import (
	"context"
	"time"
)

// Facility is the local notification surface. Registration is fire-and-forget:
// a reminder that cannot be delivered is dropped, never retried.
type Facility interface {
	// CancelAll drops every reminder registered so far.
	CancelAll(ctx context.Context) error
	// ScheduleAfter registers a one-shot reminder firing after the given delay.
	ScheduleAfter(ctx context.Context, title, body string, delay time.Duration) error
}
