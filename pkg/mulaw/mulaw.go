// Package mulaw implements the G.711 μ-law companding codec used on the
// telephony media stream, together with the 20 ms framing helpers the rest of
// the pipeline relies on.
//
// All audio on the wire is 8 kHz mono μ-law; one frame is exactly 20 ms, i.e.
// 160 bytes. Linear PCM is represented as little-endian int16 samples.
package mulaw

// Wire format constants. A media frame is FrameBytes of μ-law at SampleRate.
const (
	// SampleRate is the telephony sample rate in Hz.
	SampleRate = 8000

	// FrameMs is the duration of one media frame in milliseconds.
	FrameMs = 20

	// FrameBytes is the size of one media frame: 20 ms at 8 kHz, one byte per
	// sample.
	FrameBytes = SampleRate * FrameMs / 1000

	// SilenceByte is the μ-law encoding of a zero-amplitude sample. Telephony
	// providers fill idle stretches with it.
	SilenceByte = 0xFF
)

const (
	bias = 0x84
	clip = 32635
)

// EncodeSample compands a single 16-bit linear PCM sample to μ-law.
// Samples are clipped to ±32635; the −32768 edge case saturates to 32767
// after negation instead of overflowing.
func EncodeSample(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		s = -s
		sign = 0x80
		if s > 32767 {
			s = 32767
		}
	}
	if s > clip {
		s = clip
	}
	s += bias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeSample expands a single μ-law byte to a 16-bit linear PCM sample
// using the standard bias/sign/exponent/mantissa decomposition.
func DecodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	t := (int32(mantissa)<<3 + bias) << exponent
	t -= bias
	if sign != 0 {
		t = -t
	}
	return int16(t)
}

// Encode compands a buffer of linear PCM samples to μ-law bytes.
func Encode(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = EncodeSample(s)
	}
	return out
}

// Decode expands a buffer of μ-law bytes to linear PCM samples.
func Decode(mulaw []byte) []int16 {
	out := make([]int16, len(mulaw))
	for i, b := range mulaw {
		out[i] = DecodeSample(b)
	}
	return out
}

// IsSilentFrame reports whether a μ-law frame is provider idle fill: at least
// 95% of its first FrameBytes bytes equal SilenceByte. Frames shorter than
// FrameBytes are inspected whole.
func IsSilentFrame(frame []byte) bool {
	n := len(frame)
	if n == 0 {
		return true
	}
	if n > FrameBytes {
		n = FrameBytes
	}
	silent := 0
	for _, b := range frame[:n] {
		if b == SilenceByte {
			silent++
		}
	}
	return silent*100 >= n*95
}

// Split chops payload into exact FrameBytes chunks for paced transmission.
// The final chunk is padded with SilenceByte so every emitted frame is a full
// 20 ms; a nil or empty payload yields no chunks.
func Split(payload []byte) [][]byte {
	if len(payload) == 0 {
		return nil
	}
	n := (len(payload) + FrameBytes - 1) / FrameBytes
	chunks := make([][]byte, 0, n)
	for off := 0; off < len(payload); off += FrameBytes {
		end := off + FrameBytes
		if end <= len(payload) {
			chunks = append(chunks, payload[off:end])
			continue
		}
		last := make([]byte, FrameBytes)
		copy(last, payload[off:])
		for i := len(payload) - off; i < FrameBytes; i++ {
			last[i] = SilenceByte
		}
		chunks = append(chunks, last)
	}
	return chunks
}

// Framer re-chunks an inbound byte stream into exact FrameBytes frames,
// carrying any remainder across calls. Providers are allowed to send media
// payloads of any size; the VAD operates on whole 20 ms frames only.
//
// A Framer is not safe for concurrent use; create one per stream.
type Framer struct {
	rem []byte
}

// Push appends b to the internal buffer and returns all complete frames now
// available, in order. Returned slices are freshly allocated and safe to
// retain.
func (f *Framer) Push(b []byte) [][]byte {
	f.rem = append(f.rem, b...)
	if len(f.rem) < FrameBytes {
		return nil
	}
	n := len(f.rem) / FrameBytes
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		frame := make([]byte, FrameBytes)
		copy(frame, f.rem[i*FrameBytes:(i+1)*FrameBytes])
		frames = append(frames, frame)
	}
	f.rem = append(f.rem[:0], f.rem[n*FrameBytes:]...)
	return frames
}

// Pending returns the number of buffered bytes not yet emitted as a frame.
func (f *Framer) Pending() int { return len(f.rem) }

// Reset discards any buffered remainder.
func (f *Framer) Reset() { f.rem = f.rem[:0] }
