package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tis3d.dev/internal/protocol"
	"tis3d.dev/internal/sim/casing"
	"tis3d.dev/internal/sim/events"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/transport/ws"
)

type eventQuerier interface {
	EventsAt(ctx context.Context, p machine.Pos, limit int) ([]events.Event, error)
}

type adminAPI struct {
	g      *grid.Grid
	events eventQuerier
	log    *slog.Logger
}

func newMux(g *grid.Grid, q eventQuerier, obs *ws.Server, reg *prometheus.Registry, enableAdmin bool, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/observe", obs.Handler())

	if !enableAdmin {
		log.Info("admin endpoints disabled (TIS3D_ENABLE_ADMIN_HTTP=false)")
		return mux
	}
	a := &adminAPI{g: g, events: q, log: log}
	mux.HandleFunc("/admin/v1/state", loopbackOnly(a.state))
	mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(a.snapshot))
	mux.HandleFunc("/admin/v1/input", loopbackOnly(a.input))
	mux.HandleFunc("/admin/v1/region", loopbackOnly(a.region))
	mux.HandleFunc("/admin/v1/events", loopbackOnly(a.eventsAt))
	return mux
}

func (a *adminAPI) state(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	var welcome protocol.WelcomeMsg
	err := a.g.Do(ctx, func(g *grid.Grid) error {
		welcome = ws.Welcome(g, "admin")
		return nil
	})
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, struct {
		State   protocol.WelcomeMsg `json:"state"`
		Metrics grid.Metrics        `json:"metrics"`
	}{welcome, a.g.Metrics()})
}

func (a *adminAPI) snapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	tick, err := a.g.RequestSnapshot(ctx)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
}

// input takes a grid.Input as JSON, e.g.
// {"kind":"keypad","pos":[1,0,0],"face":"Y_POS","value":7}.
func (a *adminAPI) input(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in grid.Input
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 64*1024)).Decode(&in); err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.NewError(protocol.ErrBadRequest, err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	var accepted bool
	err := a.g.Do(ctx, func(g *grid.Grid) error {
		var err error
		accepted, err = g.Apply(in)
		return err
	})
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "accepted": accepted, "tick": a.g.CurrentTick()})
}

// region loads or unloads one region: {"region":"0,0,0","loaded":false}.
// The change goes through the grid's input path so replays see it.
func (a *adminAPI) region(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Region string `json:"region"`
		Loaded bool   `json:"loaded"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.NewError(protocol.ErrBadRequest, err.Error()))
		return
	}
	reg, err := grid.ParseRegion(req.Region)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.NewError(protocol.ErrBadRequest, err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	var changed bool
	err = a.g.Do(ctx, func(g *grid.Grid) error {
		var err error
		changed, err = g.Apply(grid.Input{Kind: grid.InputRegion, Region: reg.String(), Loaded: req.Loaded})
		return err
	})
	if err != nil {
		a.fail(rw, err)
		return
	}
	a.log.Info("region changed", "region", reg.String(), "loaded", req.Loaded, "changed", changed)
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "region": reg.String(), "loaded": req.Loaded, "changed": changed})
}

// eventsAt lists indexed state events for one block, newest first:
// /admin/v1/events?pos=1,0,0&limit=20.
func (a *adminAPI) eventsAt(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.events == nil {
		writeJSON(rw, http.StatusServiceUnavailable, protocol.NewError(protocol.ErrBusy, "index disabled"))
		return
	}
	p, err := machine.ParsePos(r.URL.Query().Get("pos"))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.NewError(protocol.ErrBadRequest, err.Error()))
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	evs, err := a.events.EventsAt(r.Context(), p, limit)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"pos": p, "events": evs})
}

func (a *adminAPI) fail(rw http.ResponseWriter, err error) {
	status, code := errorCode(err)
	if status >= 500 {
		a.log.Warn("admin request failed", "err", err)
	}
	writeJSON(rw, status, protocol.NewError(code, err.Error()))
}

func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, grid.ErrNoCasing), errors.Is(err, casing.ErrNoModule):
		return http.StatusNotFound, protocol.ErrNoCasing
	case errors.Is(err, grid.ErrWrongModule):
		return http.StatusConflict, protocol.ErrWrongModule
	case errors.Is(err, grid.ErrUnloaded):
		return http.StatusConflict, protocol.ErrUnloaded
	case errors.Is(err, grid.ErrStopped), errors.Is(err, grid.ErrSnapshotBackedUp),
		errors.Is(err, grid.ErrNoSnapshotSink), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, protocol.ErrBusy
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, protocol.ErrBusy
	}
	return http.StatusBadRequest, protocol.ErrBadRequest
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
