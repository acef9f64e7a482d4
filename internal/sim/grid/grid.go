// Package grid is the host world: it owns every block, tracks which regions
// are loaded, holds the redstone signals entering casings and advances
// controllers and infrared packets one tick at a time.
//
// A Grid is single-threaded. All methods except Run, Do, RequestSnapshot,
// CurrentTick and Metrics must be called from the goroutine that steps it.
package grid

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"tis3d.dev/internal/persistence/snapshot"
	"tis3d.dev/internal/sim/casing"
	"tis3d.dev/internal/sim/controller"
	"tis3d.dev/internal/sim/events"
	"tis3d.dev/internal/sim/infrared"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/module"
	"tis3d.dev/internal/sim/scan"
)

var (
	ErrOccupied    = errors.New("grid: position occupied")
	ErrUnloaded    = errors.New("grid: region not loaded")
	ErrNoBlock     = errors.New("grid: nothing at position")
	ErrNoCasing    = errors.New("grid: no casing at position")
	ErrWrongModule = errors.New("grid: module does not accept this input")
)

type Config struct {
	TickRateHz           int
	Seed                 int64
	MaxCasings           int
	IncompleteRetryTicks int
	RegionSize           int
	SnapshotEveryTicks   int
	Infrared             infrared.Config
	Modules              module.Params
}

func (c *Config) applyDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.MaxCasings <= 0 {
		c.MaxCasings = 16
	}
	if c.IncompleteRetryTicks <= 0 {
		c.IncompleteRetryTicks = 20
	}
	if c.RegionSize <= 0 {
		c.RegionSize = 16
	}
	if c.Modules == (module.Params{}) {
		c.Modules = module.DefaultParams()
	}
}

// TickLogEntry is written once per tick when a tick logger is attached.
type TickLogEntry struct {
	Tick   uint64         `json:"tick"`
	Inputs []Input        `json:"inputs,omitempty"`
	Events []events.Event `json:"events,omitempty"`
	Digest string         `json:"digest"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type side struct {
	pos  machine.Pos
	face machine.Face
}

type Grid struct {
	cfg    Config
	log    *slog.Logger
	reg    *module.Registry
	bus    *events.Bus
	faults *module.Faults
	router *infrared.Router

	// tick counts completed ticks; now is the tick being simulated.
	tick atomic.Uint64
	now  uint64

	casings     map[machine.Pos]*casing.Casing
	controllers map[machine.Pos]*controller.Controller
	solids      map[machine.Pos]bool
	unloaded    map[Region]regionState
	lookups     map[machine.Pos]bool

	redstoneIn      map[side]int16
	bundledIn       map[side][module.BundledChannels]int16
	redstoneUpdates uint64
	lookupsResolved uint64

	pending []events.Event
	inputs  []Input

	cmds     chan command
	snapReq  chan snapshotReq
	stop     chan struct{}
	stopOnce atomic.Bool

	tickLogger   TickLogger
	snapshotSink chan<- snapshot.Snapshot
	metrics      atomic.Value
}

func New(cfg Config, log *slog.Logger) *Grid {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	g := &Grid{
		cfg:         cfg,
		log:         log,
		reg:         module.NewRegistry(cfg.Modules),
		casings:     map[machine.Pos]*casing.Casing{},
		controllers: map[machine.Pos]*controller.Controller{},
		solids:      map[machine.Pos]bool{},
		unloaded:    map[Region]regionState{},
		lookups:     map[machine.Pos]bool{},
		redstoneIn:  map[side]int16{},
		bundledIn:   map[side][module.BundledChannels]int16{},
		cmds:        make(chan command, 256),
		snapReq:     make(chan snapshotReq, 8),
		stop:        make(chan struct{}),
	}
	g.bus = events.NewBus(func() uint64 { return g.now })
	g.bus.Subscribe(func(e events.Event) { g.pending = append(g.pending, e) })
	g.faults = module.NewFaults(log, g.bus)
	g.router = infrared.NewRouter(g, cfg.Infrared, log)
	g.metrics.Store(Metrics{})
	return g
}

func (g *Grid) Config() Config             { return g.cfg }
func (g *Grid) Registry() *module.Registry { return g.reg }
func (g *Grid) Faults() *module.Faults     { return g.faults }
func (g *Grid) Router() *infrared.Router   { return g.router }

func (g *Grid) SetTickLogger(l TickLogger)                  { g.tickLogger = l }
func (g *Grid) SetSnapshotSink(ch chan<- snapshot.Snapshot) { g.snapshotSink = ch }

// CurrentTick is the number of completed ticks. Safe from any goroutine.
func (g *Grid) CurrentTick() uint64 { return g.tick.Load() }

// Environment shared by casings and controllers.

func (g *Grid) Tick() uint64     { return g.now }
func (g *Grid) Seed() int64      { return g.cfg.Seed }
func (g *Grid) Bus() *events.Bus { return g.bus }

func (g *Grid) ControllerAt(p machine.Pos) (casing.ControllerHandle, bool) {
	c, ok := g.controllers[p]
	if !ok {
		return nil, false
	}
	return c, true
}

func (g *Grid) RequestLookup(p machine.Pos) { g.lookups[p] = true }

func (g *Grid) EmitInfrared(from machine.Pos, f machine.Face, v int16) {
	g.router.Emit(from, f, v)
}

func (g *Grid) KindAt(p machine.Pos) scan.Kind {
	switch {
	case !g.Loaded(p):
		return scan.Unloaded
	case g.controllers[p] != nil:
		return scan.Controller
	case g.casings[p] != nil:
		return scan.Casing
	}
	return scan.None
}

func (g *Grid) CasingAt(p machine.Pos) (*casing.Casing, bool) {
	c, ok := g.casings[p]
	return c, ok
}

func (g *Grid) ControllerOf(p machine.Pos) (*controller.Controller, bool) {
	c, ok := g.controllers[p]
	return c, ok
}

// Casings returns every loaded casing position in step order.
func (g *Grid) Casings() []machine.Pos { return sortedKeys(g.casings) }

func (g *Grid) Controllers() []machine.Pos { return sortedKeys(g.controllers) }

func sortedKeys[V any](m map[machine.Pos]V) []machine.Pos {
	out := make([]machine.Pos, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	machine.SortPositions(out)
	return out
}

// Step advances the world by one tick: queued controller lookups are
// resolved, every controller steps in position order, then infrared
// packets move.
func (g *Grid) Step() (tick uint64, digest string) {
	start := time.Now()
	g.now = g.tick.Load() + 1

	g.resolveLookups()
	for _, p := range g.Controllers() {
		g.controllers[p].Step()
	}
	g.router.Step()

	digest = g.stateDigest()
	if g.tickLogger != nil {
		entry := TickLogEntry{
			Tick:   g.now,
			Inputs: append([]Input(nil), g.inputs...),
			Events: append([]events.Event(nil), g.pending...),
			Digest: digest,
		}
		if err := g.tickLogger.WriteTick(entry); err != nil {
			g.log.Warn("tick log write failed", "tick", g.now, "err", err)
		}
	}
	g.pending = g.pending[:0]
	g.inputs = g.inputs[:0]

	if g.snapshotSink != nil && g.cfg.SnapshotEveryTicks > 0 && g.now%uint64(g.cfg.SnapshotEveryTicks) == 0 {
		select {
		case g.snapshotSink <- g.Snapshot(digest):
		default:
			g.log.Warn("snapshot sink backed up; dropping snapshot", "tick", g.now)
		}
	}

	g.tick.Store(g.now)
	g.storeMetrics(time.Since(start))
	return g.now, digest
}

// resolveLookups runs the controller searches casings queued since the
// last tick. A found controller is asked to rescan. A casing that reaches
// no controller, or too many casings before finding one, is disabled.
// Reaching an unloaded region changes nothing.
func (g *Grid) resolveLookups() {
	if len(g.lookups) == 0 {
		return
	}
	ps := sortedKeys(g.lookups)
	clear(g.lookups)
	for _, p := range ps {
		c, ok := g.casings[p]
		if !ok {
			continue
		}
		g.lookupsResolved++
		res := scan.FindController(g, p, g.cfg.MaxCasings)
		switch res.Outcome {
		case scan.ResultController:
			if ctrl, ok := g.controllers[res.Controller]; ok {
				ctrl.ScheduleScan()
			}
		case scan.ResultNoController, scan.ResultTooManyCasings:
			c.ClearController()
			c.Disable()
		case scan.ResultBoundary:
		}
	}
}

// Render gives every renderer one frame. Faults are isolated per module kind.
func (g *Grid) Render(partialTick float32) {
	for _, p := range g.Casings() {
		c := g.casings[p]
		for _, m := range c.Modules() {
			g.faults.Render(p, m, c.Enabled(), partialTick)
		}
	}
}

// Metrics is a point-in-time summary published after every tick.
type Metrics struct {
	Tick               uint64
	Casings            int
	EnabledCasings     int
	Controllers        int
	ControllersByState map[string]int
	Packets            int
	Infrared           infrared.Stats
	LookupsResolved    uint64
	RedstoneUpdates    uint64
	UnloadedRegions    int
	StepMS             float64
}

// Metrics is safe to call from any goroutine.
func (g *Grid) Metrics() Metrics { return g.metrics.Load().(Metrics) }

func (g *Grid) storeMetrics(d time.Duration) {
	m := Metrics{
		Tick:               g.tick.Load(),
		Casings:            len(g.casings),
		Controllers:        len(g.controllers),
		ControllersByState: map[string]int{},
		Packets:            g.router.Len(),
		Infrared:           g.router.Stats(),
		LookupsResolved:    g.lookupsResolved,
		RedstoneUpdates:    g.redstoneUpdates,
		UnloadedRegions:    len(g.unloaded),
		StepMS:             float64(d.Microseconds()) / 1000.0,
	}
	for _, c := range g.casings {
		if c.Enabled() {
			m.EnabledCasings++
		}
	}
	for _, c := range g.controllers {
		m.ControllersByState[c.State().String()]++
	}
	g.metrics.Store(m)
}

func (g *Grid) controllerConfig() controller.Config {
	return controller.Config{MaxCasings: g.cfg.MaxCasings, IncompleteRetryTicks: g.cfg.IncompleteRetryTicks}
}
