package verify

import "math"

// minEntropy is the floor for a random terminal pass, in bits per byte. ChaCha20
// output sampled at the default sizes sits above 7.9.
const minEntropy = 7.0

// minStatBytes is the smallest sample for which entropy is judged at all.
const minStatBytes = 256

type histogram struct {
	counts [256]int64
	n      int64
}

func (h *histogram) add(b []byte) {
	for _, c := range b {
		h.counts[c]++
	}
	h.n += int64(len(b))
}

// entropy is the Shannon entropy in bits per byte.
func (h *histogram) entropy() float64 {
	if h.n == 0 {
		return 0
	}
	var e float64
	for _, c := range h.counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(h.n)
		e -= p * math.Log2(p)
	}
	return e
}

// chiSquare is Pearson's statistic against a uniform byte distribution (255 degrees of freedom).
func (h *histogram) chiSquare() float64 {
	if h.n == 0 {
		return 0
	}
	expected := float64(h.n) / 256
	var x float64
	for _, c := range h.counts {
		d := float64(c) - expected
		x += d * d / expected
	}
	return x
}

// lowEntropy reports whether enough bytes were seen to judge and they look structured.
func (h *histogram) lowEntropy() bool {
	return h.n >= minStatBytes && h.entropy() < minEntropy
}
