package netmon

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// Status is the state reported for an interface address.
type Status int

const (
	InterfaceUp Status = iota + 1
	InterfaceDown
)

func (s Status) String() string {
	switch s {
	case InterfaceUp:
		return "up"
	case InterfaceDown:
		return "down"
	default:
		return "unknown"
	}
}

// Event is a state transition of one interface address.
type Event struct {
	Status    Status
	Interface Interface
}

// Tracker remembers which interface addresses were last seen up and turns
// change notifications into transitions. It is not safe for concurrent use;
// the receive loop owns it.
type Tracker struct {
	mon  Monitor
	log  logrus.FieldLogger
	seen map[string]Interface
}

// NewTracker returns a tracker reading from mon.
func NewTracker(mon Monitor, log logrus.FieldLogger) *Tracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{mon: mon, log: log, seen: make(map[string]Interface)}
}

// Seed records the current state without producing events.
func (t *Tracker) Seed(records []Interface) {
	for _, r := range records {
		if r.IsUpRunning() {
			t.seen[r.key()] = r
		}
	}
}

// Process re-enumerates the interface named by c and returns its
// transitions: InterfaceUp for addresses that are now up and running and
// were not before, InterfaceDown for addresses previously up that are gone
// or no longer running. Enumeration failure is logged and treated as "no
// change".
func (t *Tracker) Process(c Change) []Event {
	records, err := t.mon.List(c.Index)
	if err != nil && c.Index != 0 {
		// A removed interface can no longer be looked up by index.
		if all, errAll := t.mon.List(0); errAll == nil {
			records, err = nil, nil
			for _, r := range all {
				if r.Index == c.Index {
					records = append(records, r)
				}
			}
		}
	}
	if err != nil {
		t.log.WithError(err).WithField("index", c.Index).Warn("interface enumeration failed")
		return nil
	}

	current := make(map[string]Interface, len(records))
	for _, r := range records {
		current[r.key()] = r
	}

	var events []Event
	for k, r := range current {
		if !r.IsUpRunning() {
			continue
		}
		if _, ok := t.seen[k]; !ok {
			t.seen[k] = r
			events = append(events, Event{Status: InterfaceUp, Interface: r})
		}
	}
	for k, r := range t.seen {
		if c.Index != 0 && r.Index != c.Index {
			continue
		}
		if cur, ok := current[k]; ok && cur.IsUpRunning() {
			continue
		}
		delete(t.seen, k)
		down := r
		if cur, ok := current[k]; ok {
			down = cur
		}
		events = append(events, Event{Status: InterfaceDown, Interface: down})
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Interface.Index != events[j].Interface.Index {
			return events[i].Interface.Index < events[j].Interface.Index
		}
		return events[i].Interface.key() < events[j].Interface.key()
	})
	return events
}
