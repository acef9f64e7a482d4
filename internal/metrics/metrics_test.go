package metrics

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/persistence/indexdb"
	"tis3d.dev/internal/persistence/mirror"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/infrared"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/transport/ws"
)

func TestCollector_GridMetrics(t *testing.T) {
	c := NewCollector(Sources{Grid: func() grid.Metrics {
		return grid.Metrics{
			Tick:               12,
			Casings:            3,
			EnabledCasings:     2,
			ControllersByState: map[string]int{"VALID": 2, "ERROR": 1},
			Infrared:           infrared.Stats{Emitted: 5, Consumed: 3, Lost: 1},
		}
	}})

	expected := `
# HELP tis3d_grid_casings_enabled Loaded casings that are enabled.
# TYPE tis3d_grid_casings_enabled gauge
tis3d_grid_casings_enabled 2
# HELP tis3d_grid_controllers Loaded controllers by scheduler state.
# TYPE tis3d_grid_controllers gauge
tis3d_grid_controllers{state="ERROR"} 1
tis3d_grid_controllers{state="SCANNING"} 0
tis3d_grid_controllers{state="VALID"} 2
# HELP tis3d_grid_infrared_packets_total Infrared packet outcomes.
# TYPE tis3d_grid_infrared_packets_total counter
tis3d_grid_infrared_packets_total{outcome="consumed"} 3
tis3d_grid_infrared_packets_total{outcome="emitted"} 5
tis3d_grid_infrared_packets_total{outcome="expired"} 0
tis3d_grid_infrared_packets_total{outcome="lost"} 1
tis3d_grid_infrared_packets_total{outcome="redirected"} 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"tis3d_grid_casings_enabled", "tis3d_grid_controllers", "tis3d_grid_infrared_packets_total"))

	// tick, casings, enabled, 3 controllers, packets, 5 outcomes, lookups,
	// redstone, unloaded regions, step.
	assert.Equal(t, 16, testutil.CollectAndCount(c))
}

func TestCollector_PipelineStats(t *testing.T) {
	c := NewCollector(Sources{
		Index:     func() indexdb.Stats { return indexdb.Stats{QueueDepth: 4, QueueCapacity: 64, DropTickTotal: 2} },
		Mirror:    func() mirror.Stats { return mirror.Stats{UploadSuccessTotal: 7, UploadFailTotal: 1} },
		Observers: func() ws.Stats { return ws.Stats{Clients: 2, SentTotal: 10, DroppedTotal: 3} },
	})

	expected := `
# HELP tis3d_index_dropped_total Index records dropped because the queue was full.
# TYPE tis3d_index_dropped_total counter
tis3d_index_dropped_total{kind="snapshot"} 0
tis3d_index_dropped_total{kind="tick"} 2
# HELP tis3d_mirror_uploads_total Finished uploads by result.
# TYPE tis3d_mirror_uploads_total counter
tis3d_mirror_uploads_total{result="fail"} 1
tis3d_mirror_uploads_total{result="success"} 7
# HELP tis3d_observer_messages_total State messages offered to observers by result.
# TYPE tis3d_observer_messages_total counter
tis3d_observer_messages_total{result="dropped"} 3
tis3d_observer_messages_total{result="sent"} 10
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"tis3d_index_dropped_total", "tis3d_mirror_uploads_total", "tis3d_observer_messages_total"))
}

func TestRegistry_LiveGrid(t *testing.T) {
	g := grid.New(grid.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := g.PlaceController(machine.Pos{})
	require.NoError(t, err)
	for x := 1; x <= 2; x++ {
		_, err := g.PlaceCasing(machine.Pos{X: x})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		g.Step()
	}

	reg := NewRegistry(Sources{Grid: g.Metrics})
	expected := `
# HELP tis3d_grid_casings_enabled Loaded casings that are enabled.
# TYPE tis3d_grid_casings_enabled gauge
tis3d_grid_casings_enabled 2
# HELP tis3d_grid_tick Last completed grid tick.
# TYPE tis3d_grid_tick gauge
tis3d_grid_tick 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"tis3d_grid_casings_enabled", "tis3d_grid_tick"))
}
