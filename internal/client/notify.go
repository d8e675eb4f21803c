package client

import (
	"time"

	"github.com/google/uuid"
)

// Notification is a transient message for the user, shown next to the
// status.
type Notification struct {
	ID          string
	Title       string
	Description string
	Destructive bool
	At          time.Time
}

func newNotification(title, description string, destructive bool) Notification {
	return Notification{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Destructive: destructive,
		At:          time.Now(),
	}
}

// Notifier receives notifications on the orchestrator loop. Implementations
// must not block.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
