// Package layout describes a starting arrangement of blocks in YAML and
// places it into a grid.
package layout

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/module"
)

type Layout struct {
	Name        string     `yaml:"name"`
	Controllers [][3]int   `yaml:"controllers"`
	Casings     []Casing   `yaml:"casings"`
	Solids      [][3]int   `yaml:"solids"`
	Redstone    []Redstone `yaml:"redstone"`
}

type Casing struct {
	Pos     [3]int            `yaml:"pos"`
	Lock    string            `yaml:"lock"`
	Modules map[string]Module `yaml:"modules"`
}

// Module is keyed by face name (Y_NEG .. X_POS) in its casing.
type Module struct {
	Kind    string `yaml:"kind"`
	Program string `yaml:"program"`
}

type Redstone struct {
	Pos   [3]int `yaml:"pos"`
	Face  string `yaml:"face"`
	Value int16  `yaml:"value"`
}

func Load(path string) (Layout, error) {
	var l Layout
	raw, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return l, fmt.Errorf("layout %s: %w", path, err)
	}
	return l, nil
}

// Apply places the layout. Controllers go down first, then casings with
// their modules, then solids and redstone inputs. The first failure stops
// the build and is returned with the block it concerns.
func Apply(g *grid.Grid, l Layout) error {
	for _, c := range l.Controllers {
		p := machine.PosFromArray(c)
		if _, err := g.PlaceController(p); err != nil {
			return fmt.Errorf("controller %s: %w", p, err)
		}
	}
	for _, cs := range l.Casings {
		if err := applyCasing(g, cs); err != nil {
			return err
		}
	}
	for _, s := range l.Solids {
		p := machine.PosFromArray(s)
		if err := g.PlaceSolid(p); err != nil {
			return fmt.Errorf("solid %s: %w", p, err)
		}
	}
	for _, r := range l.Redstone {
		p := machine.PosFromArray(r.Pos)
		f, err := machine.ParseFace(r.Face)
		if err != nil {
			return fmt.Errorf("redstone %s: %w", p, err)
		}
		g.SetRedstoneInput(p, f, r.Value)
	}
	return nil
}

func applyCasing(g *grid.Grid, cs Casing) error {
	p := machine.PosFromArray(cs.Pos)
	c, err := g.PlaceCasing(p)
	if err != nil {
		return fmt.Errorf("casing %s: %w", p, err)
	}
	faces := make([]string, 0, len(cs.Modules))
	for name := range cs.Modules {
		faces = append(faces, name)
	}
	sort.Strings(faces)
	for _, name := range faces {
		spec := cs.Modules[name]
		f, err := machine.ParseFace(name)
		if err != nil {
			return fmt.Errorf("casing %s: %w", p, err)
		}
		if _, err := g.InstallModule(p, f, module.Kind(spec.Kind)); err != nil {
			return fmt.Errorf("casing %s %s: %w", p, f, err)
		}
		if spec.Program != "" {
			if err := g.LoadProgram(p, f, spec.Program); err != nil {
				return fmt.Errorf("casing %s %s: %w", p, f, err)
			}
		}
	}
	if cs.Lock != "" {
		key, err := uuid.Parse(cs.Lock)
		if err != nil {
			return fmt.Errorf("casing %s lock: %w", p, err)
		}
		if err := c.Lock(key); err != nil {
			return fmt.Errorf("casing %s: %w", p, err)
		}
	}
	return nil
}
