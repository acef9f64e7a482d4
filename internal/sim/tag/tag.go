// Package tag is the generic key/value tree that simulation state is saved
// into. Getters never fail: a missing or mistyped key reads as the zero
// value (or the supplied default), so older saves load into newer code.
package tag

import "sort"

type Compound map[string]any

func New() Compound { return Compound{} }

func (c Compound) Has(key string) bool {
	_, ok := c[key]
	return ok
}

func (c Compound) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c Compound) SetBool(key string, v bool) {
	var b int8
	if v {
		b = 1
	}
	c[key] = b
}

func (c Compound) SetShort(key string, v int16)   { c[key] = v }
func (c Compound) SetInt(key string, v int)       { c[key] = int32(v) }
func (c Compound) SetLong(key string, v int64)    { c[key] = v }
func (c Compound) SetString(key string, v string) { c[key] = v }
func (c Compound) SetBytes(key string, v []byte)  { c[key] = append([]byte(nil), v...) }

func (c Compound) SetDouble(key string, v float64) { c[key] = v }

func (c Compound) SetShorts(key string, v []int16) {
	out := make([]int32, len(v))
	for i, s := range v {
		out[i] = int32(s)
	}
	c[key] = out
}

func (c Compound) SetCompound(key string, v Compound) { c[key] = v }

func (c Compound) Bool(key string) bool {
	n, ok := asInt64(c[key])
	return ok && n != 0
}

func (c Compound) Short(key string) int16 { return int16(c.Long(key)) }

func (c Compound) Int(key string) int { return int(c.Long(key)) }

func (c Compound) IntOr(key string, def int) int {
	n, ok := asInt64(c[key])
	if !ok {
		return def
	}
	return int(n)
}

func (c Compound) Long(key string) int64 {
	n, _ := asInt64(c[key])
	return n
}

func (c Compound) Double(key string) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	}
	n, _ := asInt64(c[key])
	return float64(n)
}

func (c Compound) Text(key string) string {
	s, _ := c[key].(string)
	return s
}

func (c Compound) Bytes(key string) []byte {
	switch v := c[key].(type) {
	case []byte:
		return append([]byte(nil), v...)
	case []int8:
		out := make([]byte, len(v))
		for i, b := range v {
			out[i] = byte(b)
		}
		return out
	case []any:
		out := make([]byte, 0, len(v))
		for _, e := range v {
			n, ok := asInt64(e)
			if !ok {
				return nil
			}
			out = append(out, byte(n))
		}
		return out
	}
	return nil
}

func (c Compound) Shorts(key string) []int16 {
	var out []int16
	switch v := c[key].(type) {
	case []int32:
		for _, n := range v {
			out = append(out, int16(n))
		}
	case []int16:
		out = append(out, v...)
	case []int64:
		for _, n := range v {
			out = append(out, int16(n))
		}
	case []any:
		for _, e := range v {
			n, ok := asInt64(e)
			if !ok {
				return nil
			}
			out = append(out, int16(n))
		}
	}
	return out
}

// Compound returns the nested compound under key, or an empty one.
func (c Compound) Compound(key string) Compound {
	switch v := c[key].(type) {
	case Compound:
		return v
	case map[string]any:
		return Compound(v)
	}
	return Compound{}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case uint8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
