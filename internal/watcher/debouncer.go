package watcher

import (
	"sort"
	"sync"
	"time"
)

// EventType represents the type of file event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "CREATE"
	case EventModify:
		return "MODIFY"
	case EventDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Change is the coalesced change of one record file within a batch.
type Change struct {
	Path      string
	EventType EventType
}

// Batch is every change seen before the record store went quiet.
type Batch struct {
	Changes []Change
	At      time.Time
}

// Paths returns the changed paths in order.
func (b Batch) Paths() []string {
	out := make([]string, len(b.Changes))
	for i, c := range b.Changes {
		out[i] = c.Path
	}
	return out
}

// Debouncer collects file events and emits them as one Batch once no new
// event has arrived for the configured delay.
type Debouncer struct {
	delay   time.Duration
	mu      sync.Mutex
	pending map[string]EventType
	timer   *time.Timer

	sendMu   sync.Mutex
	output   chan Batch
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDebouncer creates a new event debouncer
func NewDebouncer(delayMs int) *Debouncer {
	return &Debouncer{
		delay:   time.Duration(delayMs) * time.Millisecond,
		pending: make(map[string]EventType),
		output:  make(chan Batch, 16),
		stopCh:  make(chan struct{}),
	}
}

// Events returns the channel of batches. It is closed by Stop.
func (d *Debouncer) Events() <-chan Batch {
	return d.output
}

// Add records an event and restarts the quiet-period timer.
func (d *Debouncer) Add(path string, eventType EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.stopCh:
		return
	default:
	}

	// Coalesce event types
	// DELETE wins over anything before it
	// CREATE + MODIFY = CREATE
	// DELETE + CREATE = MODIFY (file was replaced)
	if prev, exists := d.pending[path]; exists {
		switch {
		case eventType == EventDelete:
			d.pending[path] = EventDelete
		case prev == EventDelete && eventType == EventCreate:
			d.pending[path] = EventModify
		case prev == EventCreate && eventType == EventModify:
		case prev != EventDelete:
			d.pending[path] = eventType
		}
	} else {
		d.pending[path] = eventType
	}

	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.emit)
	} else {
		d.timer.Reset(d.delay)
	}
}

// emit sends the pending changes as one batch
func (d *Debouncer) emit() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	pending := d.pending
	d.pending = make(map[string]EventType)
	d.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	batch := Batch{At: time.Now(), Changes: make([]Change, 0, len(pending))}
	for path, kind := range pending {
		batch.Changes = append(batch.Changes, Change{Path: path, EventType: kind})
	}
	sort.Slice(batch.Changes, func(i, j int) bool {
		return batch.Changes[i].Path < batch.Changes[j].Path
	})

	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	select {
	case <-d.stopCh:
		return
	default:
	}
	select {
	case d.output <- batch:
	case <-d.stopCh:
	}
}

// Flush immediately emits all pending events
func (d *Debouncer) Flush() {
	d.emit()
}

// Stop discards pending events and closes the output channel
func (d *Debouncer) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)

		d.mu.Lock()
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		d.pending = make(map[string]EventType)
		d.mu.Unlock()

		d.sendMu.Lock()
		close(d.output)
		d.sendMu.Unlock()
	})
}

// PendingCount returns the number of pending paths
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
