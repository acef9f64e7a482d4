package module

import (
	"fmt"
	"log/slog"
	"sync"

	"tis3d.dev/internal/sim/events"
	"tis3d.dev/internal/sim/machine"
)

const (
	OpStep   = "step"
	OpRender = "render"
)

type faultKey struct {
	kind Kind
	op   string
}

// Faults isolates panicking module code. After the first panic of a kind
// in an operation, that (kind, operation) pair is skipped everywhere.
type Faults struct {
	log *slog.Logger
	bus *events.Bus

	mu     sync.Mutex
	broken map[faultKey]string
}

func NewFaults(log *slog.Logger, bus *events.Bus) *Faults {
	if log == nil {
		log = slog.Default()
	}
	return &Faults{log: log, bus: bus, broken: map[faultKey]string{}}
}

// Step runs m.Step and reports whether it ran to completion.
func (f *Faults) Step(pos machine.Pos, m Module) bool {
	return f.guard(pos, m, OpStep, m.Step)
}

// Render is a no-op for modules without the Renderer capability.
func (f *Faults) Render(pos machine.Pos, m Module, enabled bool, partialTick float32) {
	r := m.Capabilities().Renderer
	if r == nil {
		return
	}
	f.guard(pos, m, OpRender, func() { r.Render(enabled, partialTick) })
}

func (f *Faults) Skipped(k Kind, op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.broken[faultKey{k, op}]
	return ok
}

func (f *Faults) guard(pos machine.Pos, m Module, op string, fn func()) (ok bool) {
	key := faultKey{m.Kind(), op}
	if f.Skipped(key.kind, op) {
		return false
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ok = false
		msg := fmt.Sprint(r)

		f.mu.Lock()
		_, seen := f.broken[key]
		if !seen {
			f.broken[key] = msg
		}
		f.mu.Unlock()
		if seen {
			return
		}
		f.log.Error("module fault; kind disabled for operation",
			"kind", string(key.kind), "op", op, "pos", pos.String(), "face", m.Face().String(), "panic", msg)
		f.bus.Publish(events.Event{
			Type: events.TypeModuleFault,
			Pos:  pos,
			Face: m.Face().String(),
			Kind: string(key.kind),
			Op:   op,
			Err:  msg,
		})
	}()
	fn()
	return true
}
