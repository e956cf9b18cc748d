// Package mapping implements piecewise-constant functions over simulated
// time and, optionally, a discrete set of frequency bands (subcarriers).
//
// A Function is described by a leading value and an ordered list of
// breakpoints. Each breakpoint carries two values: the value exactly at the
// breakpoint and the value on the open interval up to the next breakpoint.
// This lets closed intervals such as a frame's [start, end] be represented
// exactly: a rectangle keeps its value at both ends and drops to zero only
// after the end.
//
// Functions are immutable once built; every operation returns a new
// Function. Builder is the one mutable result buffer.
package mapping

import (
	"math"
	"sort"
	"time"
)

// Point addresses the domain of a Function. Freq is ignored by time-only
// functions.
type Point struct {
	Time time.Time
	Freq float64
}

// At returns a time-only Point.
func At(t time.Time) Point { return Point{Time: t} }

// AtFreq returns a Point in the time x frequency domain.
func AtFreq(t time.Time, freq float64) Point { return Point{Time: t, Freq: freq} }

type knot struct {
	t     time.Time
	at    []float64
	after []float64
}

// Function is a piecewise-constant scalar function. The zero value is the
// empty function: it evaluates to 0 everywhere but FindMax/FindMin report
// the "no data" sentinels on it.
type Function struct {
	bands []float64 // nil for time-only functions, sorted ascending otherwise
	lead  []float64 // value before the first knot, one entry per band
	knots []knot
}

// Empty returns a function that carries no data.
func Empty() *Function { return &Function{} }

// Constant returns a time-only function with value v everywhere.
func Constant(v float64) *Function {
	return &Function{lead: []float64{v}}
}

// ConstantBands returns a function holding values[i] on band bands[i] at
// all times. bands must be sorted ascending and match values in length.
func ConstantBands(bands, values []float64) *Function {
	if len(bands) == 0 {
		if len(values) == 0 {
			return Constant(0)
		}
		return Constant(values[0])
	}
	b := NewBuilder(bands)
	b.SetLead(values...)
	return b.Build()
}

// Rectangle returns a time-only function with value v on the closed
// interval [start, end] and 0 elsewhere.
func Rectangle(start, end time.Time, v float64) *Function {
	b := NewBuilder(nil)
	b.Set(start, v)
	b.SetAfter(end, 0)
	return b.Build()
}

// IsEmpty reports whether f carries no data.
func (f *Function) IsEmpty() bool {
	return f == nil || f.lead == nil
}

// IsTimeOnly reports whether f has no frequency dimension.
func (f *Function) IsTimeOnly() bool {
	return f == nil || len(f.bands) == 0
}

// Bands returns a copy of the frequency bands of f, nil for time-only
// functions.
func (f *Function) Bands() []float64 {
	if f.IsTimeOnly() {
		return nil
	}
	return append([]float64(nil), f.bands...)
}

// Len returns the number of breakpoints of f.
func (f *Function) Len() int {
	if f == nil {
		return 0
	}
	return len(f.knots)
}

func (f *Function) width() int {
	if len(f.bands) == 0 {
		return 1
	}
	return len(f.bands)
}

// band maps a frequency to a band index. Frequencies between bands take
// the nearest lower band; frequencies outside the band set take the edge
// band.
func (f *Function) band(freq float64) int {
	if len(f.bands) == 0 {
		return 0
	}
	i := sort.SearchFloat64s(f.bands, freq)
	if i < len(f.bands) && f.bands[i] == freq {
		return i
	}
	if i == 0 {
		return 0
	}
	return i - 1
}

// lastKnot returns the index of the last knot at or before t, or -1.
func (f *Function) lastKnot(t time.Time) int {
	i := sort.Search(len(f.knots), func(i int) bool {
		return f.knots[i].t.After(t)
	})
	return i - 1
}

// Value evaluates f at p.
func (f *Function) Value(p Point) float64 {
	if f.IsEmpty() {
		return 0
	}
	b := f.band(p.Freq)
	i := f.lastKnot(p.Time)
	if i < 0 {
		return f.lead[b]
	}
	if f.knots[i].t.Equal(p.Time) {
		return f.knots[i].at[b]
	}
	return f.knots[i].after[b]
}

// ValueAfter returns the value of f immediately after p.Time, i.e. on the
// open interval between p.Time and the next breakpoint.
func (f *Function) ValueAfter(p Point) float64 {
	if f.IsEmpty() {
		return 0
	}
	b := f.band(p.Freq)
	i := f.lastKnot(p.Time)
	if i < 0 {
		return f.lead[b]
	}
	return f.knots[i].after[b]
}

// Breakpoints returns the breakpoint times of f strictly inside (from, to).
func (f *Function) Breakpoints(from, to time.Time) []time.Time {
	if f.IsEmpty() {
		return nil
	}
	var out []time.Time
	for _, k := range f.knots {
		if k.t.After(from) && k.t.Before(to) {
			out = append(out, k.t)
		}
	}
	return out
}

// Segment is a maximal open interval on which a Function is constant.
type Segment struct {
	Start time.Time
	End   time.Time
	Value float64
}

// Duration returns the length of the segment.
func (s Segment) Duration() time.Duration { return s.End.Sub(s.Start) }

// Segments partitions [from, to] at the breakpoints of f. Each segment
// carries the value f takes just after its start. Zero-length intervals are
// skipped.
func (f *Function) Segments(from, to time.Time, freq float64) []Segment {
	if !from.Before(to) {
		return nil
	}
	bounds := append([]time.Time{from}, f.Breakpoints(from, to)...)
	bounds = append(bounds, to)

	segs := make([]Segment, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		segs = append(segs, Segment{
			Start: bounds[i],
			End:   bounds[i+1],
			Value: f.ValueAfter(AtFreq(bounds[i], freq)),
		})
	}
	return segs
}

// FindMax returns the largest value f takes on the closed box [from, to].
// Frequency bounds select the bands whose frequency lies in
// [from.Freq, to.Freq]. The empty function yields -Inf.
func FindMax(f *Function, from, to Point) float64 {
	if f.IsEmpty() {
		return math.Inf(-1)
	}
	res := math.Inf(-1)
	f.scan(from, to, func(v float64) {
		if v > res {
			res = v
		}
	})
	return res
}

// FindMin returns the smallest value f takes on the closed box [from, to].
// The empty function yields +Inf.
func FindMin(f *Function, from, to Point) float64 {
	if f.IsEmpty() {
		return math.Inf(1)
	}
	res := math.Inf(1)
	f.scan(from, to, func(v float64) {
		if v < res {
			res = v
		}
	})
	return res
}

// scan visits every value f attains on [from, to], per selected band.
// A breakpoint that coincides with a bound is visited once.
func (f *Function) scan(from, to Point, visit func(float64)) {
	if to.Time.Before(from.Time) {
		from.Time, to.Time = to.Time, from.Time
	}
	if to.Freq < from.Freq {
		from.Freq, to.Freq = to.Freq, from.Freq
	}
	for _, freq := range f.selectBands(from.Freq, to.Freq) {
		visit(f.Value(AtFreq(from.Time, freq)))
		if !from.Time.Before(to.Time) {
			continue
		}
		visit(f.ValueAfter(AtFreq(from.Time, freq)))
		for _, t := range f.Breakpoints(from.Time, to.Time) {
			p := AtFreq(t, freq)
			visit(f.Value(p))
			visit(f.ValueAfter(p))
		}
		visit(f.Value(AtFreq(to.Time, freq)))
	}
}

func (f *Function) selectBands(lo, hi float64) []float64 {
	if len(f.bands) == 0 {
		return []float64{lo}
	}
	var out []float64
	for _, b := range f.bands {
		if b >= lo && b <= hi {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		out = append(out, f.bands[f.band(lo)])
	}
	return out
}
