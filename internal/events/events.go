// Package events provides in-process publish/subscribe for Dispatcher
// activity, so the HTTP façade (out of scope, §6) can stream task
// progress over a websocket without coupling to the executor internals.
package events

import "time"

// Type identifies the kind of event.
type Type string

const (
	TypePhaseStarted Type = "phase_started"
	TypeComplete     Type = "complete"
	TypeFailed       Type = "failed"
	TypePlanReview   Type = "plan_review"
	TypeLog          Type = "log"
)

// Event is a single published occurrence, scoped to a task.
type Event struct {
	Type   Type      `json:"type"`
	TaskID string    `json:"task_id"`
	Data   any       `json:"data,omitempty"`
	Time   time.Time `json:"time"`
}

// New creates an Event stamped with the current time.
func New(t Type, taskID string, data any) Event {
	return Event{Type: t, TaskID: taskID, Data: data, Time: time.Now()}
}

// Publisher fans events out to subscribers. Implementations must be
// safe for concurrent use: Publish is called from every task executor
// goroutine concurrently.
type Publisher interface {
	Publish(event Event)
	Subscribe() <-chan Event
	Unsubscribe(ch <-chan Event)
	Close()
}
