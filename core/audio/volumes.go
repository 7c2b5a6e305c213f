package audio

import (
	"encoding/binary"
	"math"
)

// SliceVolumes splits 16-bit little endian PCM into sliceMs windows and
// returns the RMS of each window, normalised so the loudest window is 1.
func SliceVolumes(pcm []byte, encoding EncodingInfo, sliceMs int) []float64 {
	if encoding.Format != EncodingLinear16 || sliceMs <= 0 {
		return nil
	}
	sliceBytes := encoding.BytesPerSlice(sliceMs)
	if sliceBytes <= 0 {
		return nil
	}

	volumes := []float64{}
	peak := 0.0
	for start := 0; start < len(pcm); start += sliceBytes {
		end := min(start+sliceBytes, len(pcm))
		window := pcm[start:end]
		samples := len(window) / 2
		if samples == 0 {
			break
		}

		var sum float64
		for i := 0; i+1 < len(window); i += 2 {
			sample := float64(int16(binary.LittleEndian.Uint16(window[i:]))) / math.MaxInt16
			sum += sample * sample
		}
		rms := math.Sqrt(sum / float64(samples))
		peak = max(peak, rms)
		volumes = append(volumes, rms)
	}

	if peak > 0 {
		for i := range volumes {
			volumes[i] /= peak
		}
	}
	return volumes
}
