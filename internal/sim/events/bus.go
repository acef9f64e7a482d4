// Package events carries simulation state transitions to observers
// (websocket hub, index DB, metrics). Publishing happens on the simulation
// goroutine; handlers must return quickly and never block.
package events

import (
	"sync"

	"tis3d.dev/internal/sim/machine"
)

type Type string

const (
	TypeCasingState     Type = "CASING_STATE"
	TypeControllerState Type = "CONTROLLER_STATE"
	TypeModuleFault     Type = "MODULE_FAULT"
	TypeModuleEjected   Type = "MODULE_EJECTED"
)

// Event is a flat record; which fields are meaningful depends on Type.
type Event struct {
	Type Type        `json:"type"`
	Tick uint64      `json:"tick"`
	Pos  machine.Pos `json:"pos"`

	// CASING_STATE
	Enabled bool `json:"enabled,omitempty"`
	Locked  bool `json:"locked,omitempty"`

	// CONTROLLER_STATE
	State    string `json:"state,omitempty"`
	Validity string `json:"validity,omitempty"`
	Casings  int    `json:"casings,omitempty"`

	// MODULE_FAULT, MODULE_EJECTED
	Face string `json:"face,omitempty"`
	Kind string `json:"kind,omitempty"`
	Op   string `json:"op,omitempty"`
	Err  string `json:"error,omitempty"`
}

type Handler func(Event)

// Bus fans events out to subscribers in subscription order. A nil *Bus
// discards everything.
type Bus struct {
	mu    sync.RWMutex
	clock func() uint64
	next  int
	subs  []sub
}

type sub struct {
	id int
	fn Handler
}

// NewBus returns a bus that stamps events with clock() when they carry no tick.
func NewBus(clock func() uint64) *Bus {
	return &Bus{clock: clock}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs = append(b.subs, sub{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Tick == 0 && b.clock != nil {
		e.Tick = b.clock()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(e)
	}
}
