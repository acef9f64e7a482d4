package grid

import (
	"fmt"

	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/module"
)

type InputKind string

const (
	InputKeypad   InputKind = "keypad"
	InputTerminal InputKind = "terminal"
	InputRedstone InputKind = "redstone"
	InputBundled  InputKind = "bundled_redstone"
	InputRegion   InputKind = "region"
)

// Input is an external stimulus delivered between ticks. Inputs are
// recorded in the next tick log entry so a replay can apply them again.
type Input struct {
	Kind    InputKind    `json:"kind"`
	Pos     machine.Pos  `json:"pos"`
	Face    machine.Face `json:"face"`
	Value   int16        `json:"value,omitempty"`
	Channel int          `json:"channel,omitempty"`
	Line    string       `json:"line,omitempty"`
	// Region and Loaded drive InputRegion.
	Region string `json:"region,omitempty"`
	Loaded bool   `json:"loaded,omitempty"`
}

// Apply delivers in. Keypad and terminal modules may decline a value while
// they still hold the previous one, and a region input that would not change
// the region's load state is declined; accepted reports that.
func (g *Grid) Apply(in Input) (accepted bool, err error) {
	switch in.Kind {
	case InputKeypad:
		accepted, err = g.KeypadInput(in.Pos, in.Face, in.Value)
	case InputTerminal:
		accepted, err = g.TerminalInput(in.Pos, in.Face, in.Line)
	case InputRedstone:
		g.SetRedstoneInput(in.Pos, in.Face, in.Value)
		accepted = true
	case InputBundled:
		if in.Channel < 0 || in.Channel >= module.BundledChannels {
			return false, fmt.Errorf("grid: bundled channel %d out of range", in.Channel)
		}
		g.SetBundledRedstoneInput(in.Pos, in.Face, in.Channel, in.Value)
		accepted = true
	case InputRegion:
		r, perr := ParseRegion(in.Region)
		if perr != nil {
			return false, perr
		}
		in.Region = r.String()
		if accepted = g.RegionLoaded(r) != in.Loaded; accepted {
			if in.Loaded {
				g.LoadRegion(r)
			} else {
				g.UnloadRegion(r)
			}
		}
	default:
		return false, fmt.Errorf("grid: unknown input kind %q", in.Kind)
	}
	if err != nil {
		return false, err
	}
	if accepted {
		g.inputs = append(g.inputs, in)
	}
	return accepted, nil
}
