// Package emitter delivers the typed events produced by the reconciler to
// an external Notifier, synchronously and in emission order, applying the
// process-wide rate limit on the NodeStale and InternalError categories.
package emitter

import (
	"sync"
	"time"

	"github.com/rocket-pool/beacon-watcher/internal/events"
)

// Notifier is the external collaborator events are delivered to.
type Notifier interface {
	Notify(event events.Event)
}

// NoopNotifier discards every event; used when no real notifier is wired
// up, leaving the rest of the pipeline unaffected.
type NoopNotifier struct{}

func (NoopNotifier) Notify(events.Event) {}

// ChannelNotifier forwards every delivered event onto a channel, for tests
// that want to observe emission order and rate-limiting behavior.
type ChannelNotifier struct {
	Events chan events.Event
}

// NewChannelNotifier returns a ChannelNotifier with a buffered channel of
// the given capacity.
func NewChannelNotifier(capacity int) *ChannelNotifier {
	return &ChannelNotifier{Events: make(chan events.Event, capacity)}
}

func (n *ChannelNotifier) Notify(event events.Event) {
	n.Events <- event
}

// rateLimitedCategories are the only categories subject to the
// notification rate limit.
var rateLimitedCategories = map[events.Category]struct{}{
	events.CategoryNodeStale:     {},
	events.CategoryInternalError: {},
}

// Emitter applies category rate limiting and forwards surviving events to
// a Notifier. Safe for concurrent use; shared rate-limit state is guarded
// by a plain mutex.
type Emitter struct {
	mu         sync.Mutex
	notifier   Notifier
	rateLimit  time.Duration
	lastSentAt map[events.Category]time.Time
	now        func() time.Time
}

// New constructs an Emitter delivering to notifier, with rateLimit applied
// to NodeStale and InternalError events.
func New(notifier Notifier, rateLimit time.Duration) *Emitter {
	return &Emitter{
		notifier:   notifier,
		rateLimit:  rateLimit,
		lastSentAt: make(map[events.Category]time.Time),
		now:        time.Now,
	}
}

// Emit delivers event to the Notifier unless it belongs to a rate-limited
// category and the limit window has not yet elapsed, in which case it is
// silently dropped.
func (e *Emitter) Emit(event events.Event) {
	category := event.Category()

	if _, limited := rateLimitedCategories[category]; limited {
		e.mu.Lock()
		now := e.now()
		last, seen := e.lastSentAt[category]
		if seen && now.Sub(last) < e.rateLimit {
			e.mu.Unlock()
			return
		}
		e.lastSentAt[category] = now
		e.mu.Unlock()
	}

	e.notifier.Notify(event)
}

// EmitAll delivers every event in order, applying Emit's rate limiting to
// each individually. Events for one batch are always delivered before any
// event from the next.
func (e *Emitter) EmitAll(batch []events.Event) {
	for _, event := range batch {
		e.Emit(event)
	}
}
