package models

import (
	"bytes"
	"encoding/json"
	"math"
)

// Series is one numeric sequence per observation index. NaN marks a missing
// or unclassified observation. JSON encodes NaN as null.
type Series []float64

// Len returns the number of observations.
func (s Series) Len() int { return len(s) }

// Valid counts the non-NaN observations.
func (s Series) Valid() int {
	n := 0
	for _, v := range s {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Clone returns an independent copy; a nil series clones to an empty one.
func (s Series) Clone() Series {
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Tail returns the last n observations (all of them when n >= len).
func (s Series) Tail(n int) Series {
	if n >= len(s) {
		return s.Clone()
	}
	if n <= 0 {
		return Series{}
	}
	return s[len(s)-n:].Clone()
}

// MarshalJSON writes NaN and infinities as null.
func (s Series) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads null entries back as NaN.
func (s *Series) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Series, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*s = out
	return nil
}

// RegimeID is a discrete market state. Valid ids are positive.
type RegimeID int

// UnknownRegime marks an unclassified observation; it is never a regime key.
const UnknownRegime RegimeID = 0

// Valid reports whether r can be used as a regime key.
func (r RegimeID) Valid() bool { return r > 0 }

// LabelAt converts the label stored at index i to a regime id. Only finite
// positive integers are regime keys; anything else reports false.
func LabelAt(labels Series, i int) (RegimeID, bool) {
	if i < 0 || i >= len(labels) {
		return UnknownRegime, false
	}
	return LabelFromFloat(labels[i])
}

// LabelFromFloat converts one raw label value.
func LabelFromFloat(v float64) (RegimeID, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 1 || v != math.Trunc(v) || v > math.MaxInt32 {
		return UnknownRegime, false
	}
	return RegimeID(v), true
}
