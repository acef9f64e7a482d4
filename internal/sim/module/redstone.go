package module

import (
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/mathx"
	"tis3d.dev/internal/sim/tag"
)

const maxSignal = 15

func clampSignal(v int16) int16 { return int16(mathx.Clamp(int(v), 0, maxSignal)) }

// RedstoneIO bridges one world signal. Values read from ports set the output;
// the current input is offered on all ports continuously.
type RedstoneIO struct {
	Base
	input, output int16
}

func newRedstone(b Base, _ Params) Module { return &RedstoneIO{Base: b} }

func (r *RedstoneIO) Capabilities() Caps {
	return Caps{Redstone: r, BlockChangeAware: r}
}

func (r *RedstoneIO) SetRedstoneInput(v int16) {
	v = clampSignal(v)
	if v == r.input {
		return
	}
	r.input = v
	r.cancelAll()
}

func (r *RedstoneIO) RedstoneOutput() int16 { return r.output }

func (r *RedstoneIO) OnNeighborBlockChange(machine.Pos) { r.cancelAll() }

func (r *RedstoneIO) Step() {
	if v, _, ok := r.readAny(); ok {
		r.setOutput(clampSignal(v))
	}
	r.writeAll(r.input)
}

func (r *RedstoneIO) setOutput(v int16) {
	if v == r.output {
		return
	}
	r.output = v
	r.host.NotifyRedstoneChanged(r.face)
}

func (r *RedstoneIO) OnDisabled() {
	r.input = 0
	r.setOutput(0)
}

func (r *RedstoneIO) ReadState(t tag.Compound) {
	r.input = clampSignal(t.Short("input"))
	r.output = clampSignal(t.Short("output"))
}

func (r *RedstoneIO) WriteState(t tag.Compound) {
	t.SetShort("input", r.input)
	t.SetShort("output", r.output)
}

// BundledRedstoneIO drives 16 channels. Reads come in pairs: a channel
// number, then the signal for it. It offers a bitmask of the channels
// whose input is non-zero.
type BundledRedstoneIO struct {
	Base
	inputs, outputs [BundledChannels]int16
	channel         int
	haveChannel     bool
}

func newBundledRedstone(b Base, _ Params) Module { return &BundledRedstoneIO{Base: b} }

func (r *BundledRedstoneIO) Capabilities() Caps {
	return Caps{BundledRedstone: r}
}

func (r *BundledRedstoneIO) SetBundledRedstoneInput(channel int, v int16) {
	if channel < 0 || channel >= BundledChannels {
		return
	}
	v = clampSignal(v)
	if r.inputs[channel] == v {
		return
	}
	r.inputs[channel] = v
	r.cancelAll()
}

func (r *BundledRedstoneIO) BundledRedstoneOutput(channel int) int16 {
	if channel < 0 || channel >= BundledChannels {
		return 0
	}
	return r.outputs[channel]
}

func (r *BundledRedstoneIO) mask() int16 {
	var m uint16
	for ch, v := range r.inputs {
		if v > 0 {
			m |= 1 << ch
		}
	}
	return int16(m)
}

func (r *BundledRedstoneIO) Step() {
	if v, _, ok := r.readAny(); ok {
		if !r.haveChannel {
			r.channel = int(v) & (BundledChannels - 1)
			r.haveChannel = true
		} else {
			r.haveChannel = false
			if out := clampSignal(v); out != r.outputs[r.channel] {
				r.outputs[r.channel] = out
				r.host.NotifyRedstoneChanged(r.face)
			}
		}
	}
	r.writeAll(r.mask())
}

func (r *BundledRedstoneIO) OnDisabled() {
	r.inputs = [BundledChannels]int16{}
	r.haveChannel = false
	if r.outputs != ([BundledChannels]int16{}) {
		r.outputs = [BundledChannels]int16{}
		r.host.NotifyRedstoneChanged(r.face)
	}
}

func (r *BundledRedstoneIO) ReadState(t tag.Compound) {
	r.inputs, r.outputs = [BundledChannels]int16{}, [BundledChannels]int16{}
	copy(r.inputs[:], t.Shorts("inputs"))
	copy(r.outputs[:], t.Shorts("outputs"))
	r.channel = t.Int("channel") & (BundledChannels - 1)
	r.haveChannel = t.Bool("have_channel")
}

func (r *BundledRedstoneIO) WriteState(t tag.Compound) {
	t.SetShorts("inputs", r.inputs[:])
	t.SetShorts("outputs", r.outputs[:])
	t.SetInt("channel", r.channel)
	t.SetBool("have_channel", r.haveChannel)
}
