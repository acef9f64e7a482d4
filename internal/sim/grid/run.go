package grid

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStopped          = errors.New("grid: stopped")
	ErrNoSnapshotSink   = errors.New("grid: snapshot sink not configured")
	ErrSnapshotBackedUp = errors.New("grid: snapshot sink backpressure")
)

type command struct {
	fn   func(*Grid) error
	resp chan error
}

type snapshotReq struct {
	resp chan snapshotResp
}

type snapshotResp struct {
	tick uint64
	err  error
}

// Run ticks the grid at the configured rate until ctx is done or Stop is
// called. Commands are applied as they arrive; snapshot requests are
// answered after the next tick.
func (g *Grid) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(g.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingSnaps []snapshotReq
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.stop:
			return nil
		case cmd := <-g.cmds:
			err := cmd.fn(g)
			select {
			case cmd.resp <- err:
			default:
			}
		case req := <-g.snapReq:
			pendingSnaps = append(pendingSnaps, req)
		case <-ticker.C:
			_, digest := g.Step()
			g.Render(0)
			g.handleSnapshotRequests(pendingSnaps, digest)
			pendingSnaps = pendingSnaps[:0]
		}
	}
}

// Stop ends Run. Calling it more than once is fine.
func (g *Grid) Stop() {
	if g.stopOnce.CompareAndSwap(false, true) {
		close(g.stop)
	}
}

// Do runs fn on the simulation goroutine between ticks and returns its
// error. It is safe to call from other goroutines while Run is active.
func (g *Grid) Do(ctx context.Context, fn func(*Grid) error) error {
	resp := make(chan error, 1)
	select {
	case g.cmds <- command{fn: fn, resp: resp}:
	case <-g.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-g.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestSnapshot asks the loop to hand a snapshot to the sink after the
// next tick and reports the tick it was taken at.
func (g *Grid) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan snapshotResp, 1)
	select {
	case g.snapReq <- snapshotReq{resp: resp}:
	case <-g.stop:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.tick, r.err
	case <-g.stop:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (g *Grid) handleSnapshotRequests(reqs []snapshotReq, digest string) {
	if len(reqs) == 0 {
		return
	}
	res := snapshotResp{tick: g.now}
	if g.snapshotSink == nil {
		res.err = ErrNoSnapshotSink
	} else {
		select {
		case g.snapshotSink <- g.Snapshot(digest):
		default:
			res.err = ErrSnapshotBackedUp
		}
	}
	for _, r := range reqs {
		select {
		case r.resp <- res:
		default:
			// Caller gave up; never block the loop.
		}
	}
}
