package mulaw

// Resampler converts linear PCM between sample rates using linear
// interpolation. Unlike the one-shot converters it is stateful: the fractional
// read position and the final input sample are carried across calls, so a
// stream fed in arbitrary capture-callback-sized slices resamples without a
// click at every buffer boundary.
//
// A Resampler is not safe for concurrent use; create one per stream.
type Resampler struct {
	srcRate int
	dstRate int

	pos  float64 // fractional read position within the carried stream
	tail []int16 // final sample of the previous call, for boundary interpolation
}

// NewResampler creates a Resampler from srcRate Hz to dstRate Hz. Both rates
// must be positive; equal rates make Resample a pass-through.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{srcRate: srcRate, dstRate: dstRate}
}

// Resample converts src to the destination rate, interpolating across the
// boundary with the previous call's input. The returned slice is freshly
// allocated; it may be empty when src is too short to advance the read
// position past a sample pair.
func (r *Resampler) Resample(src []int16) []int16 {
	if len(src) == 0 {
		return nil
	}
	if r.srcRate == r.dstRate || r.srcRate <= 0 || r.dstRate <= 0 {
		out := make([]int16, len(src))
		copy(out, src)
		return out
	}

	buf := src
	if len(r.tail) > 0 {
		buf = make([]int16, 0, len(r.tail)+len(src))
		buf = append(buf, r.tail...)
		buf = append(buf, src...)
	}

	step := float64(r.srcRate) / float64(r.dstRate)
	out := make([]int16, 0, int(float64(len(buf))/step)+1)

	pos := r.pos
	for int(pos)+1 < len(buf) {
		i := int(pos)
		frac := pos - float64(i)
		s := float64(buf[i])*(1-frac) + float64(buf[i+1])*frac
		out = append(out, int16(s))
		pos += step
	}

	// Keep the last sample and rebase the fractional position onto it so the
	// next call interpolates seamlessly across the buffer boundary.
	consumed := len(buf) - 1
	r.pos = pos - float64(consumed)
	r.tail = []int16{buf[len(buf)-1]}
	return out
}

// Reset discards all carried state. Use when the input stream restarts.
func (r *Resampler) Reset() {
	r.pos = 0
	r.tail = nil
}
