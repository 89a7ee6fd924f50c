package mapping

import (
	"fmt"
	"math"

	"github.com/leandrodaf/midimapper/sdk/contracts"
)

// Curve names the shape used to map a raw MIDI value onto the output range.
type Curve string

const (
	CurveLinear      Curve = "linear"      // out = lerp(n)
	CurveInverted    Curve = "inverted"    // out = lerp(1 - n)
	CurveExponential Curve = "exponential" // out = lerp(n ^ exponent)
	CurveToggle      Curve = "toggle"      // out = max when n >= threshold, min otherwise
	CurveConstant    Curve = "constant"    // out = value, whatever the input
)

// Release decides what a note-off does to a parameter mapped from a note.
type Release string

const (
	// ReleaseMin drives the parameter to the minimum of its range.
	ReleaseMin Release = "min"
	// ReleaseValue maps the note-off velocity through the transform like any other value.
	ReleaseValue Release = "value"
	// ReleaseIgnore produces no update on note-off.
	ReleaseIgnore Release = "ignore"
)

// Transform describes a value transform. It is the serializable form of a TransformFunc.
type Transform struct {
	Curve     Curve            `json:"curve,omitempty" yaml:"curve,omitempty"`
	Out       *contracts.Range `json:"out,omitempty" yaml:"out,omitempty"` // defaults to the entry range
	Exponent  float64          `json:"exponent,omitempty" yaml:"exponent,omitempty"`
	Threshold float64          `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Value     float64          `json:"value,omitempty" yaml:"value,omitempty"`
	Release   Release          `json:"release,omitempty" yaml:"release,omitempty"`
}

// TransformFunc maps a raw MIDI value to a parameter value. It must be pure:
// the same input always yields the same output and nothing else is touched.
type TransformFunc func(raw uint16) float64

func (t Transform) validate() error {
	switch t.Curve {
	case "", CurveLinear, CurveInverted, CurveToggle, CurveConstant:
	case CurveExponential:
		if t.Exponent < 0 || math.IsNaN(t.Exponent) || math.IsInf(t.Exponent, 0) {
			return fmt.Errorf("exponent must be a finite non-negative number, got %v", t.Exponent)
		}
	default:
		return fmt.Errorf("unknown curve %q", t.Curve)
	}
	switch t.Release {
	case "", ReleaseMin, ReleaseValue, ReleaseIgnore:
	default:
		return fmt.Errorf("unknown release policy %q", t.Release)
	}
	if math.IsNaN(t.Threshold) || t.Threshold < 0 || t.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0, 1], got %v", t.Threshold)
	}
	if math.IsNaN(t.Value) || math.IsInf(t.Value, 0) {
		return fmt.Errorf("constant value must be finite, got %v", t.Value)
	}
	if t.Out != nil {
		if !finite(t.Out.Min) || !finite(t.Out.Max) || t.Out.Min > t.Out.Max {
			return fmt.Errorf("output range [%v, %v] must be finite with min <= max", t.Out.Min, t.Out.Max)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// compile builds the TransformFunc for values of kind k landing in out.
func (t Transform) compile(k contracts.Kind, out contracts.Range) TransformFunc {
	if t.Out != nil {
		out = *t.Out
	}
	max := float64(k.MaxValue())
	norm := func(raw uint16) float64 {
		n := float64(raw) / max
		if n > 1 {
			n = 1
		}
		return n
	}

	switch t.Curve {
	case CurveInverted:
		return func(raw uint16) float64 { return out.Lerp(1 - norm(raw)) }
	case CurveExponential:
		exp := t.Exponent
		if exp == 0 {
			exp = 2
		}
		return func(raw uint16) float64 { return out.Lerp(math.Pow(norm(raw), exp)) }
	case CurveToggle:
		threshold := t.Threshold
		if threshold == 0 {
			threshold = 0.5
		}
		return func(raw uint16) float64 {
			if norm(raw) >= threshold {
				return out.Max
			}
			return out.Min
		}
	case CurveConstant:
		v := t.Value
		return func(uint16) float64 { return v }
	default:
		return func(raw uint16) float64 { return out.Lerp(norm(raw)) }
	}
}

func (t Transform) release() Release {
	if t.Release == "" {
		return ReleaseMin
	}
	return t.Release
}
