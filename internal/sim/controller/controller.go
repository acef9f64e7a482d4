// Package controller drives a multi-block: it scans for member casings,
// validates the structure and steps every member module once per tick.
package controller

import (
	"log/slog"
	"sort"
	"strconv"

	"tis3d.dev/internal/sim/casing"
	"tis3d.dev/internal/sim/events"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/module"
	"tis3d.dev/internal/sim/scan"
	"tis3d.dev/internal/sim/tag"
)

type State uint8

const (
	StateScanning State = iota
	StateValid
	StateError
)

var stateNames = [...]string{"SCANNING", "VALID", "ERROR"}

func (s State) String() string { return stateNames[s] }

type Validity uint8

const (
	Valid Validity = iota
	TooManyCasings
	MultipleControllers
	Incomplete
	Halted
)

var validityNames = [...]string{"VALID", "TOO_MANY_CASINGS", "MULTIPLE_CONTROLLERS", "INCOMPLETE", "HALTED"}

func (v Validity) String() string { return validityNames[v] }

// Env is the world as seen by a controller.
type Env interface {
	scan.Graph
	CasingAt(p machine.Pos) (*casing.Casing, bool)
	RedstoneInput(p machine.Pos, f machine.Face) int16
	BundledRedstoneInput(p machine.Pos, f machine.Face, channel int) int16
	Bus() *events.Bus
}

type Config struct {
	MaxCasings           int
	IncompleteRetryTicks int
}

type Controller struct {
	pos    machine.Pos
	env    Env
	cfg    Config
	faults *module.Faults
	log    *slog.Logger

	members  []*casing.Casing
	dirty    bool
	state    State
	validity Validity
	tick     uint64
	retryIn  int
	halt     bool
}

func New(pos machine.Pos, env Env, cfg Config, faults *module.Faults, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		pos:    pos,
		env:    env,
		cfg:    cfg,
		faults: faults,
		log:    log,
		dirty:  true,
		state:  StateScanning,
	}
}

func (c *Controller) Pos() machine.Pos   { return c.pos }
func (c *Controller) State() State       { return c.state }
func (c *Controller) Validity() Validity { return c.validity }
func (c *Controller) Tick() uint64       { return c.tick }

// Members returns the member casing positions in step order.
func (c *Controller) Members() []machine.Pos {
	out := make([]machine.Pos, len(c.members))
	for i, m := range c.members {
		out[i] = m.Pos()
	}
	return out
}

// ScheduleScan requests a rescan at the start of the next Step. Repeated
// requests within a tick collapse into one scan.
func (c *Controller) ScheduleScan() { c.dirty = true }

// HaltAndCatchFire stops the structure once the current module phase is
// over. It stays halted until the next scan.
func (c *Controller) HaltAndCatchFire() { c.halt = true }

func (c *Controller) Step() {
	if c.retryIn > 0 {
		c.retryIn--
		if c.retryIn == 0 {
			c.dirty = true
		}
	}
	if c.dirty {
		c.dirty = false
		c.rescan()
	}
	if c.state != StateValid {
		return
	}

	c.tick++
	c.stepRedstone()
	c.stepModules()

	if c.halt {
		c.halt = false
		for _, cs := range c.members {
			cs.Disable()
		}
		c.setState(StateError, Halted)
	}
}

func (c *Controller) stepRedstone() {
	for _, cs := range c.members {
		if !cs.Enabled() || !cs.RedstoneDirty() {
			continue
		}
		cs.ClearRedstoneDirty()
		for _, m := range cs.Modules() {
			caps := m.Capabilities()
			if caps.Redstone != nil {
				caps.Redstone.SetRedstoneInput(c.env.RedstoneInput(cs.Pos(), m.Face()))
			}
			if caps.BundledRedstone != nil {
				for ch := 0; ch < module.BundledChannels; ch++ {
					caps.BundledRedstone.SetBundledRedstoneInput(ch, c.env.BundledRedstoneInput(cs.Pos(), m.Face(), ch))
				}
			}
		}
	}
}

func (c *Controller) stepModules() {
	for _, cs := range c.members {
		if !cs.Enabled() {
			continue
		}
		for _, m := range cs.Modules() {
			c.faults.Step(cs.Pos(), m)
		}
	}
}

func (c *Controller) rescan() {
	res := scan.Structure(c.env, c.pos, c.cfg.MaxCasings)
	switch res.Outcome {
	case scan.ResultValid:
		next := make([]*casing.Casing, 0, len(res.Casings))
		in := make(map[machine.Pos]bool, len(res.Casings))
		for _, p := range res.Casings {
			if cs, ok := c.env.CasingAt(p); ok {
				next = append(next, cs)
				in[p] = true
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i].Pos().Less(next[j].Pos()) })
		for _, cs := range c.members {
			if !in[cs.Pos()] {
				c.release(cs)
				cs.Disable()
			}
		}
		for _, cs := range next {
			cs.SetController(c.pos)
			cs.Enable()
		}
		c.members = next
		c.setState(StateValid, Valid)

	case scan.ResultTooManyCasings, scan.ResultMultipleControllers:
		for _, cs := range c.members {
			c.release(cs)
			cs.Disable()
		}
		for _, p := range res.Casings {
			if cs, ok := c.env.CasingAt(p); ok {
				c.release(cs)
				cs.Disable()
			}
		}
		c.members = nil
		v := TooManyCasings
		if res.Outcome == scan.ResultMultipleControllers {
			v = MultipleControllers
		}
		c.setState(StateError, v)

	case scan.ResultBoundary:
		c.retryIn = c.cfg.IncompleteRetryTicks
		c.setState(StateError, Incomplete)
	}
}

// release drops the casing's reference if it points here.
func (c *Controller) release(cs *casing.Casing) {
	if p, ok := cs.ControllerPos(); ok && p == c.pos {
		cs.ClearController()
	}
}

func (c *Controller) setState(s State, v Validity) {
	if s == c.state && v == c.validity {
		return
	}
	c.state, c.validity = s, v
	c.log.Info("controller state", "pos", c.pos.String(), "state", s.String(), "validity", v.String(), "casings", len(c.members))
	c.env.Bus().Publish(events.Event{
		Type:     events.TypeControllerState,
		Pos:      c.pos,
		State:    s.String(),
		Validity: v.String(),
		Casings:  len(c.members),
	})
}

// Dispose releases all members. A removed controller also disables them;
// an unloaded one leaves their state for the next load.
func (c *Controller) Dispose(removed bool) {
	for _, cs := range c.members {
		c.release(cs)
		if removed {
			cs.Disable()
		}
	}
	c.members = nil
}

func (c *Controller) WriteState(t tag.Compound) {
	t.SetLong("tick", int64(c.tick))
	t.SetString("state", c.state.String())
	t.SetString("validity", c.validity.String())
	t.SetBool("dirty", c.dirty)
	t.SetInt("retry_in", c.retryIn)
	members := tag.New()
	for i, cs := range c.members {
		members.SetString(strconv.Itoa(i), cs.Pos().String())
	}
	t.SetCompound("members", members)
}

// ReadState restores the controller as saved. Members are resolved through
// the environment, so member casings must be in place first. A save without
// a member list, or one naming a casing that is gone, rescans on the next
// step.
func (c *Controller) ReadState(t tag.Compound) {
	c.tick = uint64(t.Long("tick"))
	c.state, c.validity = StateScanning, Valid
	c.members = nil
	c.retryIn = 0
	c.dirty = true
	if !t.Has("members") {
		return
	}

	s, okS := parseState(t.Text("state"))
	v, okV := parseValidity(t.Text("validity"))
	if !okS || !okV {
		return
	}
	members := t.Compound("members")
	for i := 0; members.Has(strconv.Itoa(i)); i++ {
		p, err := machine.ParsePos(members.Text(strconv.Itoa(i)))
		if err != nil {
			c.members = nil
			return
		}
		cs, ok := c.env.CasingAt(p)
		if !ok {
			c.members = nil
			return
		}
		c.members = append(c.members, cs)
	}
	c.state, c.validity = s, v
	c.dirty = t.Bool("dirty")
	c.retryIn = max(t.Int("retry_in"), 0)
}

func parseState(s string) (State, bool) {
	for i, n := range stateNames {
		if n == s {
			return State(i), true
		}
	}
	return 0, false
}

func parseValidity(s string) (Validity, bool) {
	for i, n := range validityNames {
		if n == s {
			return Validity(i), true
		}
	}
	return 0, false
}
