// Package nbtstate encodes simulation tag trees as NBT.
package nbtstate

import (
	"fmt"
	"io"

	"github.com/Tnze/go-mc/nbt"

	"tis3d.dev/internal/sim/tag"
)

// Encode serialises c as an unnamed root compound.
func Encode(c tag.Compound) ([]byte, error) {
	b, err := nbt.Marshal(normalize(c))
	if err != nil {
		return nil, fmt.Errorf("nbt encode: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (tag.Compound, error) {
	var m map[string]any
	if err := nbt.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("nbt decode: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return tag.Compound(m), nil
}

func Write(w io.Writer, c tag.Compound) error {
	b, err := Encode(c)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func Read(r io.Reader) (tag.Compound, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// normalize maps Go values onto the NBT tag types. Booleans become bytes,
// plain ints become longs and short slices become int arrays.
func normalize(v any) any {
	switch x := v.(type) {
	case tag.Compound:
		return normalizeMap(x)
	case map[string]any:
		return normalizeMap(x)
	case bool:
		if x {
			return int8(1)
		}
		return int8(0)
	case int:
		return int64(x)
	case uint8:
		return int8(x)
	case uint16:
		return int16(x)
	case uint32:
		return int32(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []int16:
		out := make([]int32, len(x))
		for i, n := range x {
			out[i] = int32(n)
		}
		return out
	case []int:
		out := make([]int64, len(x))
		for i, n := range x {
			out[i] = int64(n)
		}
		return out
	}
	return v
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}
