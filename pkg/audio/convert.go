package audio

import "math"

// FloatToPCM16 converts float32 samples in [-1.0, 1.0] to 16-bit signed PCM,
// appending to dst and returning the extended slice. Out-of-range input is
// clamped rather than wrapped.
func FloatToPCM16(dst []int16, samples []float32) []int16 {
	for _, s := range samples {
		v := float64(s) * 32767.0
		switch {
		case math.IsNaN(v):
			v = 0
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		dst = append(dst, int16(v))
	}
	return dst
}

// PCM16ToFloat converts 16-bit signed PCM to float32 samples normalised to
// [-1.0, 1.0].
func PCM16ToFloat(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// ResampleMono resamples mono float32 audio from srcRate to dstRate using
// linear interpolation. If the rates match, the input is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
