package mapping

import (
	"sort"
	"time"
)

// Add returns a + b.
func Add(a, b *Function) *Function {
	return combine(a, b, func(x, y float64) float64 { return x + y })
}

// Subtract returns a - b.
func Subtract(a, b *Function) *Function {
	return combine(a, b, func(x, y float64) float64 { return x - y })
}

// Multiply returns a * b.
func Multiply(a, b *Function) *Function {
	return combine(a, b, func(x, y float64) float64 { return x * y })
}

// Divide returns a / b. Wherever b is exactly zero the result takes
// fallback instead.
func Divide(a, b *Function, fallback float64) *Function {
	return combine(a, b, func(x, y float64) float64 {
		if y == 0 {
			return fallback
		}
		return x / y
	})
}

// combine evaluates op over the union of both operands' breakpoints and
// bands. An empty operand contributes zeros; the result is empty only when
// both operands are.
func combine(a, b *Function, op func(x, y float64) float64) *Function {
	if a.IsEmpty() && b.IsEmpty() {
		return Empty()
	}
	if a.IsEmpty() {
		a = zeroLike(b)
	}
	if b.IsEmpty() {
		b = zeroLike(a)
	}

	bands := unionBands(a.bands, b.bands)
	res := &Function{bands: bands}
	w := res.width()
	freqs := bands
	if len(freqs) == 0 {
		freqs = []float64{0}
	}

	res.lead = make([]float64, w)
	for i, freq := range freqs {
		ia, ib := a.band(freq), b.band(freq)
		res.lead[i] = op(a.lead[ia], b.lead[ib])
	}

	times := unionTimes(a.knots, b.knots)
	res.knots = make([]knot, 0, len(times))
	for _, t := range times {
		k := knot{t: t, at: make([]float64, w), after: make([]float64, w)}
		for i, freq := range freqs {
			p := AtFreq(t, freq)
			k.at[i] = op(a.Value(p), b.Value(p))
			k.after[i] = op(a.ValueAfter(p), b.ValueAfter(p))
		}
		res.knots = append(res.knots, k)
	}
	return res
}

func zeroLike(f *Function) *Function {
	if len(f.bands) == 0 {
		return Constant(0)
	}
	return ConstantBands(f.bands, make([]float64, len(f.bands)))
}

func unionBands(a, b []float64) []float64 {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]float64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// unionTimes merges two sorted knot lists; coinciding times appear once.
func unionTimes(a, b []knot) []time.Time {
	out := make([]time.Time, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].t.Before(b[j].t)):
			out = append(out, a[i].t)
			i++
		case i >= len(a) || b[j].t.Before(a[i].t):
			out = append(out, b[j].t)
			j++
		default:
			out = append(out, a[i].t)
			i++
			j++
		}
	}
	return out
}

// Builder accumulates breakpoints for a new Function. It is not safe for
// concurrent use.
type Builder struct {
	bands []float64
	lead  []float64
	ops   []builderOp
}

type builderOp struct {
	t         time.Time
	values    []float64
	afterOnly bool
}

// NewBuilder starts a function over the given bands; nil bands builds a
// time-only function.
func NewBuilder(bands []float64) *Builder {
	var bs []float64
	if len(bands) > 0 {
		bs = append([]float64(nil), bands...)
		sort.Float64s(bs)
	}
	return &Builder{bands: bs}
}

func (b *Builder) width() int {
	if len(b.bands) == 0 {
		return 1
	}
	return len(b.bands)
}

// expand turns one value into a per-band vector; shorter vectors are padded
// with their last element.
func (b *Builder) expand(values []float64) []float64 {
	out := make([]float64, b.width())
	if len(values) == 0 {
		return out
	}
	for i := range out {
		if i < len(values) {
			out[i] = values[i]
		} else {
			out[i] = values[len(values)-1]
		}
	}
	return out
}

// SetLead sets the value before the first breakpoint (default 0).
func (b *Builder) SetLead(values ...float64) *Builder {
	b.lead = b.expand(values)
	return b
}

// Set makes the function take values from t on, including t itself.
func (b *Builder) Set(t time.Time, values ...float64) *Builder {
	b.ops = append(b.ops, builderOp{t: t, values: b.expand(values)})
	return b
}

// SetAfter makes the function take values strictly after t; the value at t
// stays what it was before.
func (b *Builder) SetAfter(t time.Time, values ...float64) *Builder {
	b.ops = append(b.ops, builderOp{t: t, values: b.expand(values), afterOnly: true})
	return b
}

// Build returns the Function described so far. Operations at the same time
// apply in call order.
func (b *Builder) Build() *Function {
	lead := b.lead
	if lead == nil {
		lead = make([]float64, b.width())
	}
	ops := append([]builderOp(nil), b.ops...)
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].t.Before(ops[j].t) })

	f := &Function{bands: b.bands, lead: append([]float64(nil), lead...)}
	prev := f.lead
	for _, op := range ops {
		n := len(f.knots)
		if n == 0 || !f.knots[n-1].t.Equal(op.t) {
			f.knots = append(f.knots, knot{
				t:     op.t,
				at:    append([]float64(nil), prev...),
				after: append([]float64(nil), prev...),
			})
			n++
		}
		k := &f.knots[n-1]
		copy(k.after, op.values)
		if !op.afterOnly {
			copy(k.at, op.values)
		}
		prev = k.after
	}
	return f
}
