package mulaw_test

import (
	"math"
	"testing"

	"github.com/vocata-ai/vocata/pkg/mulaw"
)

// sine produces n samples of a sine wave at freq Hz sampled at rate Hz.
func sine(n, freq, rate int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(10000 * math.Sin(2*math.Pi*float64(freq)*float64(i)/float64(rate)))
	}
	return out
}

func TestResamplePassThrough(t *testing.T) {
	t.Parallel()

	r := mulaw.NewResampler(8000, 8000)
	in := sine(160, 440, 8000)
	out := r.Resample(in)
	if len(out) != len(in) {
		t.Fatalf("length: want %d, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d changed on pass-through", i)
		}
	}
}

func TestResampleHalvesRate(t *testing.T) {
	t.Parallel()

	r := mulaw.NewResampler(16000, 8000)
	in := sine(1600, 440, 16000)
	out := r.Resample(in)

	// 2:1 downsampling of 1600 samples yields ~800, minus edge carry.
	if len(out) < 790 || len(out) > 800 {
		t.Fatalf("output length %d outside expected range", len(out))
	}
}

// TestResampleChunkedMatchesWhole is the property the browser capture path
// depends on: resampling a stream in small pieces must produce the same
// samples as resampling it in one call. Discarded fractional state shows up
// here as a click every buffer boundary.
func TestResampleChunkedMatchesWhole(t *testing.T) {
	t.Parallel()

	const srcRate, dstRate = 44100, 8000
	in := sine(44100/2, 300, srcRate)

	whole := mulaw.NewResampler(srcRate, dstRate).Resample(in)

	chunked := mulaw.NewResampler(srcRate, dstRate)
	var got []int16
	for off := 0; off < len(in); off += 441 {
		end := off + 441
		if end > len(in) {
			end = len(in)
		}
		got = append(got, chunked.Resample(in[off:end])...)
	}

	if len(got) != len(whole) {
		t.Fatalf("length: whole %d, chunked %d", len(whole), len(got))
	}
	for i := range got {
		if got[i] != whole[i] {
			t.Fatalf("sample %d: whole %d, chunked %d", i, whole[i], got[i])
		}
	}
}

func TestResamplerReset(t *testing.T) {
	t.Parallel()

	r := mulaw.NewResampler(16000, 8000)
	in := sine(320, 440, 16000)

	first := r.Resample(in)
	r.Reset()
	second := r.Resample(in)

	if len(first) != len(second) {
		t.Fatalf("length after reset: want %d, got %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sample %d differs after Reset", i)
		}
	}
}
