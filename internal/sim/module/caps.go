package module

import (
	"github.com/go-gl/mathgl/mgl64"

	"tis3d.dev/internal/sim/machine"
)

// Caps is the explicit capability set of a module. A nil handle means the
// module does not have that capability.
type Caps struct {
	Redstone         Redstone
	BundledRedstone  BundledRedstone
	BlockChangeAware BlockChangeAware
	InfraredReceiver InfraredReceiver
	Renderer         Renderer
}

// Redstone signals are 0..15.
type Redstone interface {
	SetRedstoneInput(v int16)
	RedstoneOutput() int16
}

// BundledRedstone has 16 independent channels of 0..15.
type BundledRedstone interface {
	SetBundledRedstoneInput(channel int, v int16)
	BundledRedstoneOutput(channel int) int16
}

type BlockChangeAware interface {
	OnNeighborBlockChange(neighbor machine.Pos)
}

// InfraredPacket is the view of an in-flight packet given to a receiver.
// A receiver either consumes it, redirects it, or leaves it alone (which
// destroys it).
type InfraredPacket interface {
	Value() int16
	Direction() mgl64.Vec3
	Consume()
	Redirect(pos, dir mgl64.Vec3, addedLifetime int)
}

type InfraredReceiver interface {
	OnInfraredPacket(p InfraredPacket, hit mgl64.Vec3)
}

// Renderer is advisory. It must not change simulation state.
type Renderer interface {
	Render(enabled bool, partialTick float32)
}

const BundledChannels = 16
