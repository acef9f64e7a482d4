// Package infrared moves infrared packets through the world. Packets fly in
// straight lines, are handed to whatever receiver they hit and live for a
// bounded number of ticks.
package infrared

import (
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/module"
	"tis3d.dev/internal/sim/tag"
)

// World is what the router needs from the host.
type World interface {
	// Raycast returns the first solid (or unloaded) block on the segment.
	Raycast(from, to mgl64.Vec3) (Hit, bool)
	Loaded(p machine.Pos) bool
	// Receiver returns the receiver mounted on face f of the block at p.
	Receiver(p machine.Pos, f machine.Face) module.InfraredReceiver
}

type Config struct {
	// Speed is the distance travelled per tick. It is capped at MaxSpeed.
	Speed      float64
	Lifetime   int
	MaxBounces int
}

const MaxSpeed = 4.0

func DefaultConfig() Config {
	return Config{Speed: MaxSpeed, Lifetime: 20, MaxBounces: 8}
}

type Stats struct {
	Emitted    uint64
	Consumed   uint64
	Redirected uint64
	Expired    uint64
	Lost       uint64
}

type Router struct {
	world   World
	cfg     Config
	log     *slog.Logger
	packets []*Packet
	stats   Stats
}

func NewRouter(w World, cfg Config, log *slog.Logger) *Router {
	if cfg.Speed <= 0 || cfg.Speed > MaxSpeed {
		cfg.Speed = MaxSpeed
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultConfig().Lifetime
	}
	if cfg.MaxBounces <= 0 {
		cfg.MaxBounces = DefaultConfig().MaxBounces
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{world: w, cfg: cfg, log: log}
}

// Emit launches a packet from the centre of face f of the block at p,
// heading straight out of the face.
func (r *Router) Emit(p machine.Pos, f machine.Face, v int16) *Packet {
	return r.Spawn(p.FaceCenter(f), f.Normal(), v)
}

// Spawn launches a packet at an arbitrary position and heading.
func (r *Router) Spawn(pos, dir mgl64.Vec3, v int16) *Packet {
	pk := &Packet{
		id:       uuid.New(),
		value:    v,
		pos:      pos,
		dir:      dir.Normalize(),
		lifetime: r.cfg.Lifetime,
	}
	r.packets = append(r.packets, pk)
	r.stats.Emitted++
	return pk
}

func (r *Router) Len() int     { return len(r.packets) }
func (r *Router) Stats() Stats { return r.stats }

// Packets returns a snapshot of the live packets in launch order.
func (r *Router) Packets() []PacketView {
	out := make([]PacketView, len(r.packets))
	for i, pk := range r.packets {
		out[i] = pk.View()
	}
	return out
}

// Step advances every packet by one tick. Packets launched by receivers
// during the step start moving on the next one.
func (r *Router) Step() {
	live := r.packets[:0]
	current := r.packets
	r.packets = nil
	for _, pk := range current {
		if r.advance(pk) {
			live = append(live, pk)
		}
	}
	r.packets = append(live, r.packets...)
}

// advance moves pk for one tick and reports whether it survives.
func (r *Router) advance(pk *Packet) bool {
	pk.lifetime--
	if pk.lifetime <= 0 {
		r.stats.Expired++
		return false
	}

	budget := r.cfg.Speed
	pk.travelled = 0
	for bounces := 0; budget > nudge; bounces++ {
		if bounces > r.cfg.MaxBounces {
			r.log.Debug("infrared packet bounce limit", "id", pk.id, "pos", pk.pos)
			r.stats.Lost++
			return false
		}
		end := pk.pos.Add(pk.dir.Mul(budget))
		hit, ok := r.world.Raycast(pk.pos, end)
		if !ok {
			pk.travelled += budget
			pk.pos = end
			if !r.world.Loaded(BlockAt(end)) {
				r.stats.Lost++
				return false
			}
			return true
		}

		dist := hit.Point.Sub(pk.pos).Len()
		budget -= dist
		pk.travelled += dist
		pk.pos = hit.Point
		if !r.world.Loaded(hit.Pos) {
			r.stats.Lost++
			return false
		}
		rcv := r.world.Receiver(hit.Pos, hit.Face)
		if rcv == nil {
			r.stats.Lost++
			return false
		}

		pk.verdict = verdictNone
		rcv.OnInfraredPacket(pk, hit.Point)
		switch pk.verdict {
		case verdictConsumed:
			r.stats.Consumed++
			return false
		case verdictNone:
			r.stats.Lost++
			return false
		}

		r.stats.Redirected++
		moved := pk.redirect.pos.Sub(hit.Point)
		shift := moved.Len()
		if shift > budget {
			moved = moved.Mul(budget / shift)
			shift = budget
		}
		budget -= shift
		pk.travelled += shift
		pk.pos = hit.Point.Add(moved)
		pk.dir = pk.redirect.dir
		pk.lifetime += pk.redirect.added
		if pk.lifetime <= 0 {
			r.stats.Expired++
			return false
		}
	}
	return true
}

// WriteState saves the live packets in launch order.
func (r *Router) WriteState(t tag.Compound) {
	t.SetInt("count", len(r.packets))
	for i, pk := range r.packets {
		c := tag.New()
		pk.writeState(c)
		t.SetCompound(indexKey(i), c)
	}
}

func (r *Router) ReadState(t tag.Compound) {
	r.packets = nil
	n := t.Int("count")
	for i := 0; i < n; i++ {
		c := t.Compound(indexKey(i))
		pk, ok := readPacket(c)
		if ok {
			r.packets = append(r.packets, pk)
		}
	}
}
