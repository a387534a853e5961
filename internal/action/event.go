package action

import "github.com/iliyamo/catalogue-reservation/internal/model"

// EventType tags an Event.
type EventType int

const (
	EventPrepared EventType = iota
	EventSubmitted
	EventStatusChanged
	EventAttemptFailed
	EventResolved
	EventFailed
)

func (t EventType) String() string {
	switch t {
	case EventPrepared:
		return "prepared"
	case EventSubmitted:
		return "submitted"
	case EventStatusChanged:
		return "status_changed"
	case EventAttemptFailed:
		return "attempt_failed"
	case EventResolved:
		return "resolved"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// Event is a progress notification.  Action is a snapshot the observer
// may keep.  Which other fields are set depends on Type:
//
//	EventSubmitted      LogID
//	EventStatusChanged  Status
//	EventAttemptFailed  Attempt, Err (nil when the log was simply absent)
//	EventResolved       Outcome, Catalogue, Err (local apply failure)
//	EventFailed         Err
type Event struct {
	Type      EventType
	Action    *model.PendingAction
	Status    model.ActionStatus
	LogID     string
	Attempt   int
	Outcome   model.RemoteOutcome
	Catalogue model.CatalogueRef
	Err       error
}

// Observer receives events.  Calls for one action are sequential and made
// from the goroutine driving it, so OnEvent must not block for long.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type multiObserver []Observer

func (m multiObserver) OnEvent(e Event) {
	for _, o := range m {
		o.OnEvent(e)
	}
}

// Observers fans events out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}
