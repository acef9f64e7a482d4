package grid

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/persistence/snapshot"
	"tis3d.dev/internal/sim/controller"
	"tis3d.dev/internal/sim/events"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/module"
	"tis3d.dev/internal/sim/tag"
)

func newTestGrid(t *testing.T, cfg Config) *Grid {
	t.Helper()
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// line places a controller at the origin and casings at X=1..n.
func line(t *testing.T, g *Grid, n int) *controller.Controller {
	t.Helper()
	c, err := g.PlaceController(machine.Pos{})
	require.NoError(t, err)
	for x := 1; x <= n; x++ {
		_, err := g.PlaceCasing(machine.Pos{X: x})
		require.NoError(t, err)
	}
	return c
}

func steps(g *Grid, n int) {
	for i := 0; i < n; i++ {
		g.Step()
	}
}

type tickRecorder struct{ entries []TickLogEntry }

func (r *tickRecorder) WriteTick(e TickLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func TestGrid_ValidStructureEnablesCasings(t *testing.T) {
	g := newTestGrid(t, Config{})
	rec := &tickRecorder{}
	g.SetTickLogger(rec)
	ctrl := line(t, g, 3)

	tick, digest := g.Step()
	assert.Equal(t, uint64(1), tick)
	assert.Len(t, digest, 64)
	assert.Equal(t, controller.StateValid, ctrl.State())
	for _, p := range g.Casings() {
		c, _ := g.CasingAt(p)
		assert.True(t, c.Enabled(), p.String())
	}

	require.Len(t, rec.entries, 1)
	var enabled int
	for _, e := range rec.entries[0].Events {
		if e.Type == events.TypeCasingState && e.Enabled {
			enabled++
			assert.Equal(t, uint64(1), e.Tick)
		}
	}
	assert.Equal(t, 3, enabled)

	m := g.Metrics()
	assert.Equal(t, uint64(1), m.Tick)
	assert.Equal(t, 3, m.EnabledCasings)
	assert.Equal(t, 1, m.ControllersByState["VALID"])
}

func TestGrid_SixtyFiveCasingsOverMaximum(t *testing.T) {
	g := newTestGrid(t, Config{MaxCasings: 64})
	ctrl := line(t, g, 65)
	g.Step()

	assert.Equal(t, controller.StateError, ctrl.State())
	assert.Equal(t, controller.TooManyCasings, ctrl.Validity())
	assert.Equal(t, 0, g.Metrics().EnabledCasings)
}

func TestGrid_MovToStackScenario(t *testing.T) {
	g := newTestGrid(t, Config{})
	line(t, g, 2)
	a, b := machine.Pos{X: 1}, machine.Pos{X: 2}

	_, err := g.InstallModule(a, machine.YPos, module.KindExecution)
	require.NoError(t, err)
	require.NoError(t, g.LoadProgram(a, machine.YPos, "MOV 1, ACC\nADD 2\nMOV ACC, RIGHT"))
	m, err := g.InstallModule(b, machine.YPos, module.KindStack)
	require.NoError(t, err)
	stack := m.(*module.Stack)

	steps(g, 3)
	assert.Empty(t, stack.Items())
	g.Step()
	assert.Equal(t, []int16{3}, stack.Items())
}

func TestGrid_BlockErrors(t *testing.T) {
	g := newTestGrid(t, Config{RegionSize: 4})
	line(t, g, 1)

	_, err := g.PlaceCasing(machine.Pos{X: 1})
	assert.ErrorIs(t, err, ErrOccupied)
	_, err = g.InstallModule(machine.Pos{X: 9}, machine.YPos, module.KindStack)
	assert.ErrorIs(t, err, ErrNoCasing)
	assert.ErrorIs(t, g.Remove(machine.Pos{Y: 2}), ErrNoBlock)

	_, err = g.InstallModule(machine.Pos{X: 1}, machine.YPos, module.KindStack)
	require.NoError(t, err)
	assert.ErrorIs(t, g.LoadProgram(machine.Pos{X: 1}, machine.YPos, "NOP"), ErrWrongModule)
	_, err = g.KeypadInput(machine.Pos{X: 1}, machine.YPos, 4)
	assert.ErrorIs(t, err, ErrWrongModule)

	g.UnloadRegion(Region{X: 2})
	_, err = g.PlaceCasing(machine.Pos{X: 9})
	assert.ErrorIs(t, err, ErrUnloaded)
}

func TestGrid_RemovedCasingDisablesStrandedNeighbor(t *testing.T) {
	g := newTestGrid(t, Config{})
	line(t, g, 2)
	g.Step()

	require.NoError(t, g.Remove(machine.Pos{X: 1}))
	g.Step()
	c, ok := g.CasingAt(machine.Pos{X: 2})
	require.True(t, ok)
	assert.False(t, c.Enabled())
}

func TestGrid_LookupWithoutControllerDisables(t *testing.T) {
	g := newTestGrid(t, Config{})
	c, err := g.PlaceCasing(machine.Pos{Y: 5})
	require.NoError(t, err)
	c.Enable()

	g.Step()
	assert.False(t, c.Enabled())
	assert.Equal(t, uint64(1), g.Metrics().LookupsResolved)
}

// Only the casing whose lookup overflowed is disabled.
func TestGrid_LookupOverMaximumDisablesOnlyOrigin(t *testing.T) {
	g := newTestGrid(t, Config{MaxCasings: 4})
	for x := 0; x < 6; x++ {
		_, err := g.PlaceCasing(machine.Pos{X: x, Y: 5})
		require.NoError(t, err)
	}
	g.Step()

	origin, _ := g.CasingAt(machine.Pos{X: 0, Y: 5})
	other, _ := g.CasingAt(machine.Pos{X: 3, Y: 5})
	origin.Enable()
	other.Enable()
	origin.ScheduleScan()

	g.Step()
	assert.False(t, origin.Enabled())
	assert.True(t, other.Enabled())
}

func TestGrid_LookupIntoUnloadedRegionKeepsState(t *testing.T) {
	g := newTestGrid(t, Config{RegionSize: 4})
	g.UnloadRegion(Region{X: 1})
	_, err := g.PlaceCasing(machine.Pos{X: 2})
	require.NoError(t, err)
	c, err := g.PlaceCasing(machine.Pos{X: 3})
	require.NoError(t, err)
	g.Step()

	c.Enable()
	c.ScheduleScan()
	g.Step()
	assert.True(t, c.Enabled())
}

func TestGrid_RegionUnloadAndReload(t *testing.T) {
	g := newTestGrid(t, Config{RegionSize: 4})
	ctrl := line(t, g, 5)
	m, err := g.InstallModule(machine.Pos{X: 5}, machine.ZPos, module.KindStack)
	require.NoError(t, err)
	st := tag.New()
	st.SetShorts("stack", []int16{7, 8})
	m.ReadState(st)

	g.Step()
	require.Equal(t, controller.StateValid, ctrl.State())

	g.UnloadRegion(Region{X: 1})
	assert.False(t, g.Loaded(machine.Pos{X: 4}))
	_, ok := g.CasingAt(machine.Pos{X: 4})
	assert.False(t, ok)

	g.Step()
	assert.Equal(t, controller.StateError, ctrl.State())
	assert.Equal(t, controller.Incomplete, ctrl.Validity())
	c3, _ := g.CasingAt(machine.Pos{X: 3})
	assert.True(t, c3.Enabled(), "incomplete leaves casings as they were")

	g.LoadRegion(Region{X: 1})
	g.Step()
	assert.Equal(t, controller.StateValid, ctrl.State())
	assert.Len(t, ctrl.Members(), 5)
	for x := 1; x <= 5; x++ {
		c, ok := g.CasingAt(machine.Pos{X: x})
		require.True(t, ok)
		assert.True(t, c.Enabled())
	}
	restored, err := g.Module(machine.Pos{X: 5}, machine.ZPos)
	require.NoError(t, err)
	assert.Equal(t, []int16{7, 8}, restored.(*module.Stack).Items())
}

func TestGrid_RegionReloadKeepsPendingWrites(t *testing.T) {
	g := newTestGrid(t, Config{RegionSize: 4})
	line(t, g, 5)
	m, err := g.InstallModule(machine.Pos{X: 5}, machine.ZPos, module.KindStack)
	require.NoError(t, err)
	st := tag.New()
	st.SetShorts("stack", []int16{7, 8})
	m.ReadState(st)
	g.Step()
	c5, _ := g.CasingAt(machine.Pos{X: 5})
	require.True(t, c5.IsWriting(machine.ZPos, machine.Up))

	g.UnloadRegion(Region{X: 1})
	g.LoadRegion(Region{X: 1})
	c5, ok := g.CasingAt(machine.Pos{X: 5})
	require.True(t, ok)
	for _, p := range machine.Ports {
		assert.True(t, c5.IsWriting(machine.ZPos, p), "offer on %s survives the reload", p)
	}
}

// randomIntoStack builds one casing whose random module feeds the stack on
// the adjacent face.
func randomIntoStack(t *testing.T, seed int64) (*Grid, *module.Stack) {
	t.Helper()
	g := newTestGrid(t, Config{Seed: seed})
	line(t, g, 1)
	p := machine.Pos{X: 1}
	_, err := g.InstallModule(p, machine.YPos, module.KindRandom)
	require.NoError(t, err)
	m, err := g.InstallModule(p, machine.ZPos, module.KindStack)
	require.NoError(t, err)
	return g, m.(*module.Stack)
}

func pendingWrites(g *Grid) int {
	n := 0
	for _, p := range g.Casings() {
		c, _ := g.CasingAt(p)
		for _, f := range machine.Faces {
			for _, port := range machine.Ports {
				if c.IsWriting(f, port) {
					n++
				}
			}
		}
	}
	return n
}

func TestGrid_ImportResumesTrafficInFlight(t *testing.T) {
	a, liveStack := randomIntoStack(t, 3)
	steps(a, 5)
	require.NotEmpty(t, liveStack.Items())
	require.Positive(t, pendingWrites(a))

	check := func(t *testing.T, b *Grid) {
		m, err := b.Module(machine.Pos{X: 1}, machine.ZPos)
		require.NoError(t, err)
		stack := m.(*module.Stack)
		assert.Equal(t, liveStack.Items(), stack.Items())
		assert.Equal(t, pendingWrites(a), pendingWrites(b))

		for i := 0; i < 8; i++ {
			_, da := a.Step()
			_, db := b.Step()
			require.Equal(t, da, db, "tick %d", a.CurrentTick())
			require.Equal(t, liveStack.Items(), stack.Items())
			require.Equal(t, pendingWrites(a), pendingWrites(b))
		}
	}

	t.Run("state tree", func(t *testing.T) {
		b := newTestGrid(t, Config{Seed: 3})
		b.ImportState(a.ExportState())
		check(t, b)
	})
	t.Run("snapshot file", func(t *testing.T) {
		path := snapshot.PathFor(t.TempDir(), a.CurrentTick())
		require.NoError(t, snapshot.WriteSnapshot(path, a.Snapshot("")))
		snap, err := snapshot.ReadSnapshot(path)
		require.NoError(t, err)
		b := newTestGrid(t, Config{Seed: 3})
		b.ImportState(snap.State)
		check(t, b)
	})
}

func TestGrid_ImportKeepsHaltedController(t *testing.T) {
	a := newTestGrid(t, Config{})
	ctrl := line(t, a, 2)
	_, err := a.InstallModule(machine.Pos{X: 2}, machine.YPos, module.KindExecution)
	require.NoError(t, err)
	require.NoError(t, a.LoadProgram(machine.Pos{X: 2}, machine.YPos, "HCF"))
	a.Step()
	require.Equal(t, controller.Halted, ctrl.Validity())

	b := newTestGrid(t, Config{})
	b.ImportState(a.ExportState())
	restored, ok := b.ControllerOf(machine.Pos{})
	require.True(t, ok)
	assert.Equal(t, controller.Halted, restored.Validity())
	assert.Equal(t, ctrl.Members(), restored.Members())

	_, da := a.Step()
	_, db := b.Step()
	assert.Equal(t, da, db)
	assert.Equal(t, controller.Halted, restored.Validity(), "import is not a reload")
}

func TestGrid_InfraredBetweenCasings(t *testing.T) {
	g := newTestGrid(t, Config{})
	a, b := machine.Pos{X: 1}, machine.Pos{X: 4}
	_, err := g.PlaceController(machine.Pos{X: 1, Y: -1})
	require.NoError(t, err)
	_, err = g.PlaceCasing(a)
	require.NoError(t, err)
	_, err = g.PlaceCasing(b)
	require.NoError(t, err)

	_, err = g.InstallModule(a, machine.YPos, module.KindExecution)
	require.NoError(t, err)
	require.NoError(t, g.LoadProgram(a, machine.YPos, "MOV 42, RIGHT"))
	_, err = g.InstallModule(a, machine.XPos, module.KindInfrared)
	require.NoError(t, err)
	rm, err := g.InstallModule(b, machine.XNeg, module.KindInfrared)
	require.NoError(t, err)
	receiver := rm.(*module.Infrared)

	for i := 0; i < 10 && len(receiver.Received()) == 0; i++ {
		g.Step()
	}
	assert.Contains(t, receiver.Received(), int16(42))
	assert.GreaterOrEqual(t, g.Router().Stats().Consumed, uint64(1))
}

func TestGrid_DigestIsDeterministic(t *testing.T) {
	build := func(seed int64) *Grid {
		g := newTestGrid(t, Config{Seed: seed})
		line(t, g, 2)
		_, err := g.InstallModule(machine.Pos{X: 1}, machine.YPos, module.KindExecution)
		require.NoError(t, err)
		require.NoError(t, g.LoadProgram(machine.Pos{X: 1}, machine.YPos, "MOV 1, ACC\nADD 2\nMOV ACC, RIGHT"))
		_, err = g.InstallModule(machine.Pos{X: 2}, machine.YPos, module.KindRandom)
		require.NoError(t, err)
		return g
	}
	a, b, c := build(7), build(7), build(8)
	for i := 0; i < 6; i++ {
		_, da := a.Step()
		_, db := b.Step()
		_, dc := c.Step()
		require.Equal(t, da, db, "tick %d", i+1)
		assert.NotEqual(t, da, dc)
	}
}

func TestGrid_ExportImportRoundTrip(t *testing.T) {
	a := newTestGrid(t, Config{RegionSize: 4})
	line(t, a, 3)
	require.NoError(t, a.PlaceSolid(machine.Pos{Y: 3}))
	a.SetRedstoneInput(machine.Pos{X: 2}, machine.ZNeg, 9)
	a.SetBundledRedstoneInput(machine.Pos{X: 2}, machine.ZNeg, 3, 5)
	a.UnloadRegion(Region{Y: 2})
	steps(a, 2)

	b := newTestGrid(t, Config{RegionSize: 4})
	b.ImportState(a.ExportState())
	assert.Equal(t, uint64(2), b.CurrentTick())
	assert.Equal(t, a.Casings(), b.Casings())
	assert.Equal(t, int16(9), b.RedstoneInput(machine.Pos{X: 2}, machine.ZNeg))
	assert.Equal(t, int16(5), b.BundledRedstoneInput(machine.Pos{X: 2}, machine.ZNeg, 3))
	assert.False(t, b.RegionLoaded(Region{Y: 2}))

	_, da := a.Step()
	_, db := b.Step()
	assert.Equal(t, da, db)
}

func TestGrid_SnapshotFileRoundTrip(t *testing.T) {
	a := newTestGrid(t, Config{})
	line(t, a, 2)
	_, err := a.InstallModule(machine.Pos{X: 2}, machine.ZPos, module.KindStack)
	require.NoError(t, err)
	_, digest := a.Step()

	path := snapshot.PathFor(t.TempDir(), a.CurrentTick())
	require.NoError(t, snapshot.WriteSnapshot(path, a.Snapshot(digest)))
	snap, err := snapshot.ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, digest, snap.Header.Digest)
	assert.Equal(t, 2, snap.Header.Casings)

	b := newTestGrid(t, Config{})
	b.ImportState(snap.State)
	assert.Equal(t, a.Casings(), b.Casings())
	m, err := b.Module(machine.Pos{X: 2}, machine.ZPos)
	require.NoError(t, err)
	assert.Equal(t, module.KindStack, m.Kind())
	c, _ := b.CasingAt(machine.Pos{X: 1})
	assert.True(t, c.Enabled())
}

func TestGrid_RunDoAndSnapshotRequest(t *testing.T) {
	g := newTestGrid(t, Config{TickRateHz: 200})
	sink := make(chan snapshot.Snapshot, 1)
	g.SetSnapshotSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.NoError(t, g.Do(ctx, func(g *Grid) error {
		_, err := g.PlaceController(machine.Pos{})
		return err
	}))
	err := g.Do(ctx, func(g *Grid) error {
		_, err := g.PlaceController(machine.Pos{})
		return err
	})
	assert.ErrorIs(t, err, ErrOccupied)

	require.Eventually(t, func() bool { return g.CurrentTick() >= 3 }, 2*time.Second, 5*time.Millisecond)

	tick, err := g.RequestSnapshot(ctx)
	require.NoError(t, err)
	snap := <-sink
	assert.Equal(t, tick, snap.Header.Tick)

	g.Stop()
	g.Stop()
	require.NoError(t, <-done)
	assert.ErrorIs(t, g.Do(ctx, func(*Grid) error { return nil }), ErrStopped)
}

func TestGrid_ApplyRecordsInputs(t *testing.T) {
	g := newTestGrid(t, Config{})
	rec := &tickRecorder{}
	g.SetTickLogger(rec)
	line(t, g, 1)
	p := machine.Pos{X: 1}
	_, err := g.InstallModule(p, machine.YPos, module.KindKeypad)
	require.NoError(t, err)

	key := Input{Kind: InputKeypad, Pos: p, Face: machine.YPos, Value: 5}
	ok, err := g.Apply(key)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.Apply(key)
	require.NoError(t, err)
	assert.False(t, ok, "keypad still holds the first value")

	_, err = g.Apply(Input{Kind: InputTerminal, Pos: p, Face: machine.YPos, Line: "hi"})
	assert.ErrorIs(t, err, ErrWrongModule)
	_, err = g.Apply(Input{Kind: InputBundled, Pos: p, Face: machine.ZNeg, Channel: 16, Value: 1})
	assert.Error(t, err)
	_, err = g.Apply(Input{Kind: "lever"})
	assert.Error(t, err)

	red := Input{Kind: InputRedstone, Pos: p, Face: machine.ZNeg, Value: 3}
	_, err = g.Apply(red)
	require.NoError(t, err)
	assert.Equal(t, int16(3), g.RedstoneInput(p, machine.ZNeg))

	steps(g, 2)
	require.Len(t, rec.entries, 2)
	assert.Equal(t, []Input{key, red}, rec.entries[0].Inputs)
	assert.Empty(t, rec.entries[1].Inputs)
}

func TestGrid_ApplyRegionInput(t *testing.T) {
	g := newTestGrid(t, Config{RegionSize: 4})
	rec := &tickRecorder{}
	g.SetTickLogger(rec)
	ctrl := line(t, g, 5)
	g.Step()
	require.Equal(t, controller.StateValid, ctrl.State())

	unload := Input{Kind: InputRegion, Region: "1, 0, 0"}
	ok, err := g.Apply(unload)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, g.RegionLoaded(Region{X: 1}))

	ok, err = g.Apply(unload)
	require.NoError(t, err)
	assert.False(t, ok, "already unloaded")

	_, err = g.Apply(Input{Kind: InputRegion, Region: "nowhere"})
	assert.Error(t, err)

	g.Step()
	assert.Equal(t, controller.Incomplete, ctrl.Validity())
	require.Len(t, rec.entries, 2)
	assert.Equal(t, []Input{{Kind: InputRegion, Region: "1,0,0"}}, rec.entries[1].Inputs, "recorded once, normalised")

	ok, err = g.Apply(Input{Kind: InputRegion, Region: "1,0,0", Loaded: true})
	require.NoError(t, err)
	assert.True(t, ok)
	g.Step()
	assert.Equal(t, controller.StateValid, ctrl.State())
	assert.Len(t, ctrl.Members(), 5)
}
