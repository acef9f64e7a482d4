// Package tuning loads the simulator knobs from YAML. Missing fields take
// their defaults.
package tuning

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tis3d.dev/internal/sim/asm"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/infrared"
	"tis3d.dev/internal/sim/module"
)

type Tuning struct {
	TickRateHz              int   `yaml:"tick_rate_hz"`
	Seed                    int64 `yaml:"seed"`
	MaxCasingsPerController int   `yaml:"max_casings_per_controller"`
	IncompleteRetryTicks    int   `yaml:"incomplete_retry_ticks"`
	RegionSize              int   `yaml:"region_size"`
	SnapshotEveryTicks      int   `yaml:"snapshot_every_ticks"`
	SnapshotKeep            int   `yaml:"snapshot_keep"`
	ArchiveEveryTicks       int   `yaml:"archive_every_ticks"`

	Infrared Infrared `yaml:"infrared"`
	Modules  Modules  `yaml:"modules"`
	Log      Log      `yaml:"log"`
}

type Infrared struct {
	Speed      float64 `yaml:"speed"`
	Lifetime   int     `yaml:"lifetime"`
	QueueSize  int     `yaml:"queue_size"`
	MaxBounces int     `yaml:"max_bounces"`
}

type Modules struct {
	StackSize         int `yaml:"stack_size"`
	QueueSize         int `yaml:"queue_size"`
	MemorySize        int `yaml:"memory_size"`
	TerminalLines     int `yaml:"terminal_lines"`
	TerminalColumns   int `yaml:"terminal_columns"`
	MaxProgramLines   int `yaml:"max_program_lines"`
	MaxProgramColumns int `yaml:"max_program_columns"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Tuning {
	p := module.DefaultParams()
	ir := infrared.DefaultConfig()
	return Tuning{
		TickRateHz:              20,
		MaxCasingsPerController: 16,
		IncompleteRetryTicks:    20,
		RegionSize:              16,
		SnapshotEveryTicks:      3000,
		SnapshotKeep:            24,
		ArchiveEveryTicks:       72000,
		Infrared: Infrared{
			Speed:      ir.Speed,
			Lifetime:   ir.Lifetime,
			QueueSize:  p.InfraredQueueSize,
			MaxBounces: ir.MaxBounces,
		},
		Modules: Modules{
			StackSize:         p.StackSize,
			QueueSize:         p.QueueSize,
			MemorySize:        p.MemorySize,
			TerminalLines:     p.TerminalLines,
			TerminalColumns:   p.TerminalColumns,
			MaxProgramLines:   p.Program.MaxLines,
			MaxProgramColumns: p.Program.MaxColumns,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0 || t.TickRateHz > 1000:
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	case t.MaxCasingsPerController <= 0:
		return fmt.Errorf("max_casings_per_controller must be positive: %d", t.MaxCasingsPerController)
	case t.RegionSize <= 0:
		return fmt.Errorf("region_size must be positive: %d", t.RegionSize)
	case t.Infrared.Speed <= 0 || t.Infrared.Speed > infrared.MaxSpeed:
		return fmt.Errorf("infrared.speed must be in (0, %g]: %g", infrared.MaxSpeed, t.Infrared.Speed)
	case t.SnapshotEveryTicks < 0:
		return fmt.Errorf("snapshot_every_ticks must not be negative: %d", t.SnapshotEveryTicks)
	case t.SnapshotKeep < 0 || t.ArchiveEveryTicks < 0:
		return fmt.Errorf("snapshot_keep and archive_every_ticks must not be negative")
	}
	if _, err := ParseLevel(t.Log.Level); err != nil {
		return err
	}
	return nil
}

// GridConfig resolves the tuning into the grid's configuration.
func (t Tuning) GridConfig() grid.Config {
	return grid.Config{
		TickRateHz:           t.TickRateHz,
		Seed:                 t.Seed,
		MaxCasings:           t.MaxCasingsPerController,
		IncompleteRetryTicks: t.IncompleteRetryTicks,
		RegionSize:           t.RegionSize,
		SnapshotEveryTicks:   t.SnapshotEveryTicks,
		Infrared: infrared.Config{
			Speed:      t.Infrared.Speed,
			Lifetime:   t.Infrared.Lifetime,
			MaxBounces: t.Infrared.MaxBounces,
		},
		Modules: module.Params{
			StackSize:         t.Modules.StackSize,
			QueueSize:         t.Modules.QueueSize,
			MemorySize:        t.Modules.MemorySize,
			TerminalLines:     t.Modules.TerminalLines,
			TerminalColumns:   t.Modules.TerminalColumns,
			InfraredQueueSize: t.Infrared.QueueSize,
			Program:           asm.Limits{MaxLines: t.Modules.MaxProgramLines, MaxColumns: t.Modules.MaxProgramColumns},
		},
	}
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
