package module

import (
	"strings"

	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/tag"
)

const (
	DisplayWidth  = 32
	DisplayHeight = 32
)

// Display reads draw commands of five values: color, x, y, width, height.
// Colors index a 16-entry palette.
type Display struct {
	Base
	image   [DisplayWidth * DisplayHeight]byte
	pending []int16

	presented [DisplayWidth * DisplayHeight]byte
	frames    int
}

func newDisplay(b Base, _ Params) Module { return &Display{Base: b} }

func (d *Display) Capabilities() Caps { return Caps{Renderer: d} }

func (d *Display) Pixel(x, y int) byte { return d.image[y*DisplayWidth+x] }

// Presented is the image as of the last Render call.
func (d *Display) Presented() []byte { return append([]byte(nil), d.presented[:]...) }

func (d *Display) Frames() int { return d.frames }

func (d *Display) Step() {
	for _, p := range anyOrder {
		v, err := d.host.Read(d.face, p)
		if err != nil {
			continue
		}
		d.pending = append(d.pending, v)
		if len(d.pending) == 5 {
			d.draw(d.pending[0], d.pending[1], d.pending[2], d.pending[3], d.pending[4])
			d.pending = d.pending[:0]
		}
	}
}

func (d *Display) draw(color, x, y, w, h int16) {
	c := byte(color & 0xF)
	x0, y0 := clampInt(int(x), 0, DisplayWidth), clampInt(int(y), 0, DisplayHeight)
	x1, y1 := clampInt(int(x)+int(w), 0, DisplayWidth), clampInt(int(y)+int(h), 0, DisplayHeight)
	for py := y0; py < y1; py++ {
		for px := x0; px < x1; px++ {
			d.image[py*DisplayWidth+px] = c
		}
	}
}

func (d *Display) Render(enabled bool, _ float32) {
	if enabled {
		d.presented = d.image
	} else {
		d.presented = [DisplayWidth * DisplayHeight]byte{}
	}
	d.frames++
}

func (d *Display) OnDisabled() {
	d.image = [DisplayWidth * DisplayHeight]byte{}
	d.pending = d.pending[:0]
}

func (d *Display) ReadState(t tag.Compound) {
	d.image = [DisplayWidth * DisplayHeight]byte{}
	copy(d.image[:], t.Bytes("image"))
	d.pending = t.Shorts("pending")
	if len(d.pending) >= 5 {
		d.pending = d.pending[:0]
	}
}

func (d *Display) WriteState(t tag.Compound) {
	t.SetBytes("image", d.image[:])
	t.SetShorts("pending", d.pending)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Terminal prints characters it reads and sends typed lines out one
// character at a time, terminated by a newline.
type Terminal struct {
	Base
	maxLines, columns int

	lines []string
	cur   []rune
	input []int16
}

func newTerminal(b Base, p Params) Module {
	return &Terminal{Base: b, maxLines: p.TerminalLines, columns: p.TerminalColumns}
}

// Submit queues a line of input. It reports false while a previous line
// is still being sent.
func (t *Terminal) Submit(line string) bool {
	if len(t.input) > 0 {
		return false
	}
	for _, r := range line {
		if r < 32 || r > 126 {
			continue
		}
		t.input = append(t.input, int16(r))
	}
	t.input = append(t.input, '\n')
	return true
}

// Lines returns the displayed text, including the line being written.
func (t *Terminal) Lines() []string {
	out := append([]string(nil), t.lines...)
	return append(out, string(t.cur))
}

func (t *Terminal) Step() {
	for _, p := range anyOrder {
		if v, err := t.host.Read(t.face, p); err == nil {
			t.print(v)
		}
	}
	if len(t.input) > 0 {
		t.writeAll(t.input[0])
	}
}

func (t *Terminal) print(v int16) {
	switch {
	case v == '\n':
		t.newline()
	case v == '\b':
		if len(t.cur) > 0 {
			t.cur = t.cur[:len(t.cur)-1]
		}
	case v >= 32 && v <= 126:
		if len(t.cur) >= t.columns {
			t.newline()
		}
		t.cur = append(t.cur, rune(v))
	}
}

func (t *Terminal) newline() {
	t.lines = append(t.lines, string(t.cur))
	t.cur = t.cur[:0]
	if over := len(t.lines) - (t.maxLines - 1); over > 0 {
		t.lines = t.lines[over:]
	}
}

func (t *Terminal) OnWriteComplete(machine.Port) {
	if len(t.input) > 0 {
		t.input = t.input[1:]
	}
	t.cancelAll()
}

func (t *Terminal) OnDisabled() {
	t.lines, t.cur, t.input = nil, nil, nil
}

func (t *Terminal) ReadState(c tag.Compound) {
	t.lines, t.cur = nil, nil
	if text := c.Text("display"); text != "" {
		all := strings.Split(text, "\n")
		t.lines = all[:len(all)-1]
		t.cur = []rune(all[len(all)-1])
	}
	t.input = c.Shorts("input")
}

func (t *Terminal) WriteState(c tag.Compound) {
	c.SetString("display", strings.Join(t.Lines(), "\n"))
	c.SetShorts("input", t.input)
}
