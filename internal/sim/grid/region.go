package grid

import (
	"fmt"
	"strconv"
	"strings"

	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/mathx"
	"tis3d.dev/internal/sim/tag"
)

// Region is a cube of RegionSize blocks that loads and unloads as a unit.
type Region struct{ X, Y, Z int }

func (r Region) String() string { return fmt.Sprintf("%d,%d,%d", r.X, r.Y, r.Z) }

func ParseRegion(s string) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Region{}, fmt.Errorf("bad region %q", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Region{}, fmt.Errorf("bad region %q: %w", s, err)
		}
		v[i] = n
	}
	return Region{v[0], v[1], v[2]}, nil
}

// regionState holds the blocks of an unloaded region.
type regionState = tag.Compound

func (g *Grid) RegionOf(p machine.Pos) Region {
	s := g.cfg.RegionSize
	return Region{mathx.FloorDiv(p.X, s), mathx.FloorDiv(p.Y, s), mathx.FloorDiv(p.Z, s)}
}

func (g *Grid) Loaded(p machine.Pos) bool {
	_, gone := g.unloaded[g.RegionOf(p)]
	return !gone
}

func (g *Grid) RegionLoaded(r Region) bool {
	_, gone := g.unloaded[r]
	return !gone
}

// UnloadRegion saves and removes every block in r. Casings keep their
// enabled flag; their controllers see the region as unknown territory.
func (g *Grid) UnloadRegion(r Region) {
	if !g.RegionLoaded(r) {
		return
	}
	in := func(p machine.Pos) bool { return g.RegionOf(p) == r }
	st := g.writeBlocks(in)

	var border []machine.Pos
	for _, p := range g.Controllers() {
		if in(p) {
			g.controllers[p].Dispose(false)
			delete(g.controllers, p)
			border = append(border, p)
		}
	}
	for _, p := range g.Casings() {
		if !in(p) {
			continue
		}
		c := g.casings[p]
		c.Dispose()
		g.unlink(c)
		delete(g.casings, p)
		delete(g.lookups, p)
		border = append(border, p)
	}
	for p := range g.solids {
		if in(p) {
			delete(g.solids, p)
		}
	}
	g.unloaded[r] = st

	for _, p := range border {
		g.notifyNeighbors(p)
	}
	g.log.Debug("region unloaded", "region", r.String())
}

// LoadRegion restores the blocks saved by UnloadRegion. Loading a region
// that is already loaded does nothing.
func (g *Grid) LoadRegion(r Region) {
	st, ok := g.unloaded[r]
	if !ok {
		return
	}
	delete(g.unloaded, r)
	placed := g.readBlocks(st, true)
	for _, p := range placed {
		g.notifyNeighbors(p)
	}
	g.log.Debug("region loaded", "region", r.String(), "blocks", len(placed))
}

// UnloadedRegions lists the regions currently unloaded.
func (g *Grid) UnloadedRegions() []Region {
	out := make([]Region, 0, len(g.unloaded))
	for r := range g.unloaded {
		out = append(out, r)
	}
	return out
}
