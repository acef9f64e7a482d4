package module

import (
	"errors"
	"fmt"
	"sort"

	"tis3d.dev/internal/sim/asm"
	"tis3d.dev/internal/sim/machine"
)

var ErrUnknownKind = errors.New("module: unknown kind")

// Params are the per-variant sizes, resolved once from configuration.
type Params struct {
	StackSize         int
	QueueSize         int
	MemorySize        int
	TerminalLines     int
	TerminalColumns   int
	InfraredQueueSize int
	Program           asm.Limits
}

func DefaultParams() Params {
	return Params{
		StackSize:         16,
		QueueSize:         16,
		MemorySize:        256,
		TerminalLines:     24,
		TerminalColumns:   40,
		InfraredQueueSize: 16,
		Program:           asm.Limits{MaxLines: 40, MaxColumns: 18},
	}
}

type Factory func(b Base, p Params) Module

// Registry maps kinds to constructors. It is built once and never mutated,
// so it can be shared freely.
type Registry struct {
	params    Params
	factories map[Kind]Factory
}

func NewRegistry(p Params) *Registry {
	return &Registry{
		params: p,
		factories: map[Kind]Factory{
			KindExecution:       newExecutionNode,
			KindMemory:          newMemory,
			KindStack:           newStack,
			KindQueue:           newQueue,
			KindRandom:          newRandom,
			KindDisplay:         newDisplay,
			KindKeypad:          newKeypad,
			KindInfrared:        newInfrared,
			KindRedstone:        newRedstone,
			KindBundledRedstone: newBundledRedstone,
			KindTerminal:        newTerminal,
			KindMirror:          newMirror,
		},
	}
}

func (r *Registry) Params() Params { return r.params }

func (r *Registry) Has(k Kind) bool {
	_, ok := r.factories[k]
	return ok
}

func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) New(k Kind, host Host, face machine.Face) (Module, error) {
	f, ok := r.factories[k]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	return f(NewBase(k, host, face), r.params), nil
}

// With returns a copy of the registry with k bound to f.
func (r *Registry) With(k Kind, f Factory) *Registry {
	out := &Registry{params: r.params, factories: make(map[Kind]Factory, len(r.factories)+1)}
	for kk, ff := range r.factories {
		out.factories[kk] = ff
	}
	out.factories[k] = f
	return out
}
