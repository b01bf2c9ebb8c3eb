package coordinator

import "time"

// EventKind identifies what changed.
type EventKind string

const (
	// EventViewUpdated fires when the view's query, result, error or
	// loading flag changes.
	EventViewUpdated EventKind = "view_updated"
	// EventPhaseChanged fires when a poll moves the ingest phase.
	EventPhaseChanged EventKind = "phase_changed"
	// EventCompletionObserved fires on running -> idle|error.
	EventCompletionObserved EventKind = "completion_observed"
	// EventConnectivityDegraded fires on every failed status poll.
	EventConnectivityDegraded EventKind = "connectivity_degraded"
	// EventAuthRequired fires once when the credential is rejected.
	EventAuthRequired EventKind = "auth_required"
)

// Event is a notification with the view as it was when it fired.
type Event struct {
	Kind EventKind
	View ViewState
	Err  error
	At   time.Time
}

// Subscribe returns a channel of events. A subscriber that falls behind
// loses its oldest pending events, never the newest. The channel is
// closed by Close; on a closed coordinator it is returned already closed.
func (c *Coordinator) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	return ch
}

func (c *Coordinator) emit(kind EventKind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(kind, err)
}

// Must be called with c.mu held. Sends never block.
func (c *Coordinator) emitLocked(kind EventKind, err error) {
	if c.closed || len(c.subs) == 0 {
		return
	}
	ev := Event{Kind: kind, View: c.view, Err: err, At: c.now()}
	for _, ch := range c.subs {
		send(ch, ev)
	}
}

// send delivers ev, dropping the oldest queued event when ch is full.
func send(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}

		select {
		case <-ch:
		default:
		}
	}
}
