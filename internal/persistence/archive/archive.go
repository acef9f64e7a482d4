// Package archive keeps the snapshot directory bounded. Snapshots on an
// epoch boundary are copied to archives/epoch_NNN/ with a meta.json, and
// all but the newest few are pruned from the working directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"tis3d.dev/internal/persistence/snapshot"
)

type Meta struct {
	Epoch      int    `json:"epoch"`
	EndTick    uint64 `json:"end_tick"`
	Seed       int64  `json:"seed"`
	Casings    int    `json:"casings"`
	Digest     string `json:"digest,omitempty"`
	Snapshot   string `json:"snapshot"`
	CreatedAt  string `json:"created_at"`
	EpochTicks uint64 `json:"epoch_length_ticks"`
	TickRateHz int    `json:"tick_rate_hz,omitempty"`
}

// Epoch copies snapshotPath into dataDir/archives/epoch_<NNN>/ when h.Tick
// is a positive multiple of epochTicks. It reports archived=false otherwise.
func Epoch(dataDir, snapshotPath string, h snapshot.Header, epochTicks uint64) (epoch int, archivedPath string, archived bool, err error) {
	if epochTicks == 0 || h.Tick == 0 || h.Tick%epochTicks != 0 {
		return 0, "", false, nil
	}
	epoch = int(h.Tick / epochTicks)

	dir := filepath.Join(dataDir, "archives", fmt.Sprintf("epoch_%03d", epoch))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := Meta{
		Epoch:      epoch,
		EndTick:    h.Tick,
		Seed:       h.Seed,
		Casings:    h.Casings,
		Digest:     h.Digest,
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		EpochTicks: epochTicks,
		TickRateHz: h.TickRate,
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, "", false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return 0, "", false, err
	}
	return epoch, dst, true, nil
}

// ReadMeta loads the meta.json of one epoch directory.
func ReadMeta(dataDir string, epoch int) (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(dataDir, "archives", fmt.Sprintf("epoch_%03d", epoch), "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

// Prune deletes all but the newest keep snapshots in snapDir. keep <= 0
// disables pruning.
func Prune(snapDir string, keep int) (removed []string, err error) {
	if keep <= 0 {
		return nil, nil
	}
	ticks, err := snapshot.List(snapDir)
	if err != nil {
		return nil, err
	}
	if len(ticks) <= keep {
		return nil, nil
	}
	for _, t := range ticks[:len(ticks)-keep] {
		p := snapshot.PathFor(snapDir, t)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
