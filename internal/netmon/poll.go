package netmon

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often PollMonitor re-enumerates interfaces.
const DefaultPollInterval = 2 * time.Second

// PollMonitor detects changes by periodically diffing net.Interfaces
// snapshots. It is used where no kernel notification socket exists.
type PollMonitor struct {
	log      logrus.FieldLogger
	interval time.Duration
	list     func(index int) ([]Interface, error)
	changes  chan Change
	done     chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
}

// NewPollMonitor returns a polling monitor. A zero interval selects
// DefaultPollInterval.
func NewPollMonitor(log logrus.FieldLogger, interval time.Duration) *PollMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollMonitor{
		log:      log,
		interval: interval,
		list:     listStd,
		changes:  make(chan Change, 16),
		done:     make(chan struct{}),
	}
}

// List implements Monitor.
func (m *PollMonitor) List(index int) ([]Interface, error) { return m.list(index) }

// Changes implements Monitor.
func (m *PollMonitor) Changes() <-chan Change { return m.changes }

// Start begins polling in a background goroutine.
func (m *PollMonitor) Start(ctx context.Context) error {
	m.startOnce.Do(func() {
		prev := m.snapshot()
		go func() {
			ticker := time.NewTicker(m.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-m.done:
					return
				case <-ticker.C:
				}

				cur := m.snapshot()
				for _, idx := range changedIndexes(prev, cur) {
					select {
					case m.changes <- Change{Index: idx, Kind: ChangePoll}:
					case <-ctx.Done():
						return
					case <-m.done:
						return
					}
				}
				prev = cur
			}
		}()
	})
	return nil
}

// Close stops polling.
func (m *PollMonitor) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// snapshot maps interface index to a canonical description of its records.
func (m *PollMonitor) snapshot() map[int]string {
	records, err := m.list(0)
	if err != nil {
		m.log.WithError(err).Warn("interface enumeration failed")
		return nil
	}
	grouped := make(map[int][]string)
	for _, r := range records {
		grouped[r.Index] = append(grouped[r.Index], r.key()+"|"+r.Flags.String())
	}
	out := make(map[int]string, len(grouped))
	for idx, keys := range grouped {
		sort.Strings(keys)
		out[idx] = strings.Join(keys, ",")
	}
	return out
}

// changedIndexes returns the indexes whose records differ, in ascending order.
// A nil snapshot means enumeration failed and nothing is reported.
func changedIndexes(prev, cur map[int]string) []int {
	if prev == nil || cur == nil {
		return nil
	}
	var out []int
	for idx, v := range cur {
		if prev[idx] != v {
			out = append(out, idx)
		}
	}
	for idx := range prev {
		if _, ok := cur[idx]; !ok {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// StaticMonitor serves a fixed, mutable set of records and only reports
// changes injected with Trigger. It suits hosts without interface
// monitoring and tests.
type StaticMonitor struct {
	mu      sync.Mutex
	records []Interface
	err     error
	changes chan Change
}

// NewStaticMonitor returns a monitor that serves records.
func NewStaticMonitor(records ...Interface) *StaticMonitor {
	return &StaticMonitor{records: records, changes: make(chan Change, 16)}
}

// Set replaces the served records and enumeration error.
func (m *StaticMonitor) Set(err error, records ...Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	m.err = err
}

// Trigger queues a change notification.
func (m *StaticMonitor) Trigger(c Change) {
	m.changes <- c
}

// List implements Monitor.
func (m *StaticMonitor) List(index int) ([]Interface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []Interface
	for _, r := range m.records {
		if index == 0 || r.Index == index {
			out = append(out, r)
		}
	}
	return out, nil
}

// Changes implements Monitor.
func (m *StaticMonitor) Changes() <-chan Change { return m.changes }

// Start implements Monitor.
func (m *StaticMonitor) Start(context.Context) error { return nil }

// Close implements Monitor.
func (m *StaticMonitor) Close() error { return nil }
