package caption

import (
	"fmt"
	"math"
)

type Padding string

const (
	Pre  Padding = "pre"
	Post Padding = "post"
)

// PadSequence fits seq to exactly maxLen entries the way Keras pad_sequences
// does: truncating drops entries from the front (Pre) or back (Post), and
// padding inserts zeros before (Pre) or after (Post) the sequence.
func PadSequence(seq []int, maxLen int, padding, truncating Padding) []int64 {
	if len(seq) > maxLen {
		if truncating == Post {
			seq = seq[:maxLen]
		} else {
			seq = seq[len(seq)-maxLen:]
		}
	}
	out := make([]int64, maxLen)
	offset := 0
	if padding != Post {
		offset = maxLen - len(seq)
	}
	for i, v := range seq {
		out[offset+i] = int64(v)
	}
	return out
}

// Argmax returns the index of the largest value, preferring the lowest index
// on ties. A NaN wins immediately, which is what numpy.argmax does.
func Argmax(probs []float32) (int, error) {
	if len(probs) == 0 {
		return 0, fmt.Errorf("empty distribution")
	}
	best := 0
	for i, p := range probs {
		if math.IsNaN(float64(p)) {
			return i, nil
		}
		if p > probs[best] {
			best = i
		}
	}
	return best, nil
}
