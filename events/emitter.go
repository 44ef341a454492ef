// events/emitter.go
package events

import (
	"errors"
	"log"
	"sync"

	"github.com/sammcj/deskchat/history"
	"github.com/sammcj/deskchat/metrics"
	"github.com/sammcj/deskchat/types"
)

// Emitter delivers events to a presentation layer
type Emitter interface {
	Emit(e Event) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(e Event) error

// Emit implements Emitter
func (f EmitterFunc) Emit(e Event) error { return f(e) }

// Discard drops every event
var Discard Emitter = EmitterFunc(func(Event) error { return nil })

// Multi delivers each event to every emitter and joins their errors
func Multi(emitters ...Emitter) Emitter {
	return EmitterFunc(func(e Event) error {
		var errs []error
		for _, em := range emitters {
			if err := em.Emit(e); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Recorder keeps every event it receives
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter
func (r *Recorder) Emit(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event kinds in order
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Publisher sends turn updates through an Emitter. Delivery failures are
// logged and never returned: a lost UI update must not abort a turn.
type Publisher struct {
	emitter Emitter
	logger  *log.Logger
}

// NewPublisher creates a publisher. A nil emitter discards events.
func NewPublisher(emitter Emitter, logger *log.Logger) *Publisher {
	if emitter == nil {
		emitter = Discard
	}
	return &Publisher{emitter: emitter, logger: logger}
}

// Start announces a turn
func (p *Publisher) Start() { p.emit(StartEvent()) }

// End closes a turn
func (p *Publisher) End() { p.emit(EndEvent()) }

// Error reports a failed turn, or a turn that produced nothing to show
func (p *Publisher) Error(err error) { p.emit(ErrorEvent(err)) }

// Interaction emits the display events for one interaction
func (p *Publisher) Interaction(i types.Interaction) {
	for _, e := range (UI{}).Convert(i) {
		p.emit(e)
	}
}

// Replay re-emits the whole history, framed by Start and End
func (p *Publisher) Replay(h *history.History) {
	p.Start()
	for _, e := range history.Render[Event](UI{}, h) {
		p.emit(e)
	}
	p.End()
}

func (p *Publisher) emit(e Event) {
	if err := p.emitter.Emit(e); err != nil {
		metrics.UIEventErrors.Inc()
		p.logger.Printf("Failed to emit %s event: %v", e.Type, err)
	}
}
