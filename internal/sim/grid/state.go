package grid

import (
	"strings"

	"tis3d.dev/internal/persistence/snapshot"
	"tis3d.dev/internal/sim/casing"
	"tis3d.dev/internal/sim/controller"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/module"
	"tis3d.dev/internal/sim/tag"
)

const (
	keyCasings     = "casings"
	keyControllers = "controllers"
	keySolids      = "solids"
)

// writeBlocks saves every block for which in reports true, keyed by position.
func (g *Grid) writeBlocks(in func(machine.Pos) bool) tag.Compound {
	cs, ctrls, solids := tag.New(), tag.New(), tag.New()
	for p, c := range g.casings {
		if in(p) {
			t := tag.New()
			c.WriteState(t)
			cs.SetCompound(p.String(), t)
		}
	}
	for p, c := range g.controllers {
		if in(p) {
			t := tag.New()
			c.WriteState(t)
			ctrls.SetCompound(p.String(), t)
		}
	}
	for p := range g.solids {
		if in(p) {
			solids.SetBool(p.String(), true)
		}
	}
	st := tag.New()
	st.SetCompound(keyCasings, cs)
	st.SetCompound(keyControllers, ctrls)
	st.SetCompound(keySolids, solids)
	return st
}

// readBlocks recreates the blocks saved by writeBlocks and returns their
// positions. Casings are linked before their state is read so modules on
// shared faces are dropped. With load set the blocks are treated as freshly
// loaded and every restored casing and controller schedules a scan;
// otherwise they resume exactly where they were saved.
func (g *Grid) readBlocks(st tag.Compound, load bool) []machine.Pos {
	var placed []machine.Pos
	cs := st.Compound(keyCasings)
	var fresh []*casing.Casing
	for _, k := range cs.Keys() {
		p, err := machine.ParsePos(k)
		if err != nil {
			g.log.Warn("skipping casing with bad position", "key", k)
			continue
		}
		c := casing.New(p, g, g.reg)
		g.casings[p] = c
		fresh = append(fresh, c)
		placed = append(placed, p)
	}
	for _, c := range fresh {
		g.link(c)
	}
	for _, c := range fresh {
		c.ReadState(cs.Compound(c.Pos().String()))
	}

	ctrls := st.Compound(keyControllers)
	for _, k := range ctrls.Keys() {
		p, err := machine.ParsePos(k)
		if err != nil {
			g.log.Warn("skipping controller with bad position", "key", k)
			continue
		}
		c := controller.New(p, g, g.controllerConfig(), g.faults, g.log)
		c.ReadState(ctrls.Compound(k))
		if load {
			c.ScheduleScan()
		}
		g.controllers[p] = c
		placed = append(placed, p)
	}

	solids := st.Compound(keySolids)
	for _, k := range solids.Keys() {
		if p, err := machine.ParsePos(k); err == nil && solids.Bool(k) {
			g.solids[p] = true
			placed = append(placed, p)
		}
	}

	if load {
		for _, c := range fresh {
			c.OnLoad()
		}
	}
	return placed
}

func sideKey(s side) string { return s.pos.String() + "|" + s.face.String() }

func parseSideKey(k string) (side, bool) {
	ps, fs, ok := strings.Cut(k, "|")
	if !ok {
		return side{}, false
	}
	p, err := machine.ParsePos(ps)
	if err != nil {
		return side{}, false
	}
	f, err := machine.ParseFace(fs)
	if err != nil {
		return side{}, false
	}
	return side{p, f}, true
}

// ExportState saves the whole world, loaded and unloaded, into one tree.
func (g *Grid) ExportState() tag.Compound {
	st := tag.New()
	st.SetLong("tick", int64(g.now))
	st.SetLong("seed", g.cfg.Seed)
	st.SetCompound("blocks", g.writeBlocks(func(machine.Pos) bool { return true }))

	un := tag.New()
	for r, s := range g.unloaded {
		un.SetCompound(r.String(), s)
	}
	st.SetCompound("unloaded", un)

	ir := tag.New()
	g.router.WriteState(ir)
	st.SetCompound("infrared", ir)

	rs, bs := tag.New(), tag.New()
	for k, v := range g.redstoneIn {
		rs.SetShort(sideKey(k), v)
	}
	for k, v := range g.bundledIn {
		bs.SetShorts(sideKey(k), v[:])
	}
	st.SetCompound("redstone", rs)
	st.SetCompound("bundled", bs)

	lk := tag.New()
	for p := range g.lookups {
		lk.SetBool(p.String(), true)
	}
	st.SetCompound("lookups", lk)
	return st
}

// ImportState replaces the world with a saved one. Existing blocks are
// dropped without notifications and the saved blocks resume without any
// load notifications, so the next Step matches the grid that was saved.
func (g *Grid) ImportState(st tag.Compound) {
	for _, c := range g.controllers {
		c.Dispose(false)
	}
	for _, c := range g.casings {
		c.Dispose()
	}
	clear(g.casings)
	clear(g.controllers)
	clear(g.solids)
	clear(g.unloaded)
	clear(g.lookups)
	clear(g.redstoneIn)
	clear(g.bundledIn)
	g.pending = g.pending[:0]
	g.inputs = g.inputs[:0]

	tick := uint64(st.Long("tick"))
	g.tick.Store(tick)
	g.now = tick

	un := st.Compound("unloaded")
	for _, k := range un.Keys() {
		if r, err := ParseRegion(k); err == nil {
			g.unloaded[r] = un.Compound(k)
		}
	}
	g.readBlocks(st.Compound("blocks"), false)
	g.router.ReadState(st.Compound("infrared"))

	rs := st.Compound("redstone")
	for _, k := range rs.Keys() {
		if s, ok := parseSideKey(k); ok {
			g.redstoneIn[s] = rs.Short(k)
		}
	}
	bs := st.Compound("bundled")
	for _, k := range bs.Keys() {
		if s, ok := parseSideKey(k); ok {
			var ch [module.BundledChannels]int16
			copy(ch[:], bs.Shorts(k))
			g.bundledIn[s] = ch
		}
	}
	lk := st.Compound("lookups")
	for _, k := range lk.Keys() {
		if p, err := machine.ParsePos(k); err == nil && lk.Bool(k) {
			g.lookups[p] = true
		}
	}
	g.storeMetrics(0)
}

// Snapshot captures the world for the snapshot writer.
func (g *Grid) Snapshot(digest string) snapshot.Snapshot {
	return snapshot.Snapshot{
		Header: snapshot.Header{
			Version:  snapshot.Version,
			Tick:     g.now,
			Seed:     g.cfg.Seed,
			Casings:  len(g.casings),
			Digest:   digest,
			TickRate: g.cfg.TickRateHz,
		},
		State: g.ExportState(),
	}
}
