// Package resample converts slot audio between sample rates.
package resample

import (
	"fmt"
	"math"

	"github.com/dh1tw/gosamplerate"
)

// Quality is the libsamplerate converter used by Convert.
var Quality = gosamplerate.SRC_SINC_MEDIUM_QUALITY

// Convert resamples mono 16-bit audio from one rate to another. Equal or
// unknown rates return a copy of the input.
func Convert(audio []int16, from, to int) ([]int16, error) {
	if from <= 0 || to <= 0 || from == to || len(audio) == 0 {
		return append([]int16(nil), audio...), nil
	}

	in := make([]float32, len(audio))
	for i, w := range audio {
		in[i] = float32(w) / 32768
	}

	out, err := gosamplerate.Simple(in, float64(to)/float64(from), 1, Quality)
	if err != nil {
		return nil, fmt.Errorf("resample %d -> %d Hz: %w", from, to, err)
	}

	words := make([]int16, len(out))
	for i, v := range out {
		s := math.Round(float64(v) * 32768)
		words[i] = int16(max(math.MinInt16, min(math.MaxInt16, s)))
	}
	return words, nil
}
