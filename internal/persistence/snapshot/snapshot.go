package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"tis3d.dev/internal/persistence/nbtstate"
	"tis3d.dev/internal/sim/tag"
)

const Version = 1

const fileSuffix = ".snap.zst"

var ErrNoSnapshot = errors.New("snapshot: none found")

type Header struct {
	Version  int    `json:"version"`
	Tick     uint64 `json:"tick"`
	Seed     int64  `json:"seed"`
	Casings  int    `json:"casings"`
	Digest   string `json:"digest,omitempty"`
	TickRate int    `json:"tick_rate_hz,omitempty"`
}

// Snapshot is a full grid state. The state tree is stored as NBT after a
// one-line JSON header, the whole file zstd-compressed.
type Snapshot struct {
	Header Header
	State  tag.Compound
}

func PathFor(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", tick, fileSuffix))
}

func WriteSnapshot(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := nbtstate.Write(bw, snap.State); err != nil {
		return fmt.Errorf("snapshot state: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("snapshot header: %w", err)
	}
	if err := json.Unmarshal(line, &snap.Header); err != nil {
		return snap, fmt.Errorf("snapshot header: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot: unsupported version %d", snap.Header.Version)
	}
	st, err := nbtstate.Read(br)
	if err != nil {
		return snap, fmt.Errorf("snapshot state: %w", err)
	}
	snap.State = st
	return snap, nil
}

// List returns the ticks of the snapshots in dir, oldest first.
func List(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ticks []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		ticks = append(ticks, n)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks, nil
}

// Latest returns the path of the highest-tick snapshot in dir.
func Latest(dir string) (string, uint64, error) {
	ticks, err := List(dir)
	if err != nil {
		return "", 0, err
	}
	if len(ticks) == 0 {
		return "", 0, ErrNoSnapshot
	}
	t := ticks[len(ticks)-1]
	return PathFor(dir, t), t, nil
}
