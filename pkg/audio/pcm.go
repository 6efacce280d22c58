package audio

import "math"

// sampleAt decodes the little-endian int16 sample starting at byte offset i.
func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i]) | int16(pcm[i+1])<<8
}

// RMS returns the root-mean-square amplitude of 16-bit little-endian PCM:
// sqrt(mean(sample^2)). A trailing odd byte is ignored. Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n*2; i += 2 {
		s := float64(sampleAt(pcm, i))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Resample converts 16-bit mono PCM from srcRate to dstRate with linear
// interpolation. The input is returned unchanged when the rates match or
// either rate is not positive.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcN := len(pcm) / 2
	dstN := int(int64(srcN) * int64(dstRate) / int64(srcRate))
	if dstN == 0 {
		return nil
	}

	out := make([]byte, dstN*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstN {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx*2)
		s1 := s0
		if idx+1 < srcN {
			s1 = sampleAt(pcm, (idx+1)*2)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Drain reads from ch until it is closed, discarding every value. It keeps
// producers of streaming channels from blocking when the consumer has no use
// for the data.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
