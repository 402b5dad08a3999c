// Package logits turns a logits vector into the next token id.
package logits

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
)

// SamplerConfig configures the behaviour of a Sampler. Zero values of the
// optional knobs disable them: TopK 0 keeps the full vocabulary, TopP 0 or 1
// keeps every candidate, MinP 0 keeps every candidate and RepeatPenalty 0
// or 1 applies no penalty.
type SamplerConfig struct {
	Seed          int64
	Temperature   float32
	TopK          int
	TopP          float32
	MinP          float32
	RepeatPenalty float32
	RepeatLastN   int
}

// Validate rejects values that cannot describe a distribution. It never
// clamps.
func (c SamplerConfig) Validate() error {
	var errs []error
	t := float64(c.Temperature)
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		errs = append(errs, fmt.Errorf("temperature must be finite and >= 0, got %v", c.Temperature))
	}
	if c.TopK < 0 {
		errs = append(errs, fmt.Errorf("top_k must be >= 0, got %d", c.TopK))
	}
	if p := float64(c.TopP); math.IsNaN(p) || p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("top_p must be in [0, 1], got %v", c.TopP))
	}
	if p := float64(c.MinP); math.IsNaN(p) || p < 0 || p >= 1 {
		errs = append(errs, fmt.Errorf("min_p must be in [0, 1), got %v", c.MinP))
	}
	if p := float64(c.RepeatPenalty); math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		errs = append(errs, fmt.Errorf("repeat_penalty must be finite and >= 0, got %v", c.RepeatPenalty))
	}
	if c.RepeatLastN < 0 {
		errs = append(errs, fmt.Errorf("repeat_last_n must be >= 0, got %d", c.RepeatLastN))
	}
	return errors.Join(errs...)
}

type Sampler struct {
	rng       *rand.Rand
	cfg       SamplerConfig
	greedy    bool
	order     []int
	topIdx    []int
	topVal    []float32
	prob      []float64
	seenMark  []uint32
	seenEpoch uint32
	seenList  []int
}

// NewSampler returns a new sampler with the provided configuration.
// Temperature 0 selects the arg-max.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1.0
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Greedy reports whether the sampler always returns the arg-max.
func (s *Sampler) Greedy() bool { return s.greedy }

// Sample draws a single index from the provided logits vector. logits may be
// modified in place. The steps are:
//
//  1. Apply the repetition penalty over the last RepeatLastN ids of recent.
//  2. Greedy samplers return the arg-max.
//  3. Scale by the inverse temperature and keep the TopK largest (all when
//     TopK is 0), sorted descending.
//  4. Softmax over the kept values, then drop candidates under MinP times
//     the top probability.
//  5. Truncate at cumulative probability TopP and draw from what is left.
func (s *Sampler) Sample(logits []float32, recent []int) int {
	if len(logits) == 0 {
		return 0
	}
	if s.cfg.RepeatPenalty != 1.0 && len(recent) > 0 {
		s.penalize(logits, recent)
	}

	if s.greedy {
		return argmax(logits)
	}

	invTemp := float32(1.0) / s.cfg.Temperature
	k := s.cfg.TopK
	if k <= 0 || k > len(logits) {
		k = len(logits)
	}
	if k == 1 {
		return argmax(logits)
	}

	var topIdx []int
	var topVal []float32
	if k*8 < len(logits) {
		topIdx, topVal = s.topK(logits, k, invTemp)
	} else {
		topIdx, topVal = s.sorted(logits, k, invTemp)
	}

	maxv := topVal[0]
	if cap(s.prob) < len(topVal) {
		s.prob = make([]float64, len(topVal))
	}
	prob := s.prob[:len(topVal)]
	var sum float64
	for i := range topVal {
		e := math.Exp(float64(topVal[i] - maxv))
		prob[i] = e
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) {
		return topIdx[0]
	}
	invSum := 1.0 / sum
	for i := range prob {
		prob[i] *= invSum
	}

	if s.cfg.MinP > 0 {
		threshold := prob[0] * float64(s.cfg.MinP)
		n := 0
		var kept float64
		for i := range prob {
			if prob[i] >= threshold {
				prob[n] = prob[i]
				topIdx[n] = topIdx[i]
				kept += prob[i]
				n++
			}
		}
		prob = prob[:n]
		if kept > 0 {
			for i := range prob {
				prob[i] /= kept
			}
		}
	}

	cut := len(prob)
	if s.cfg.TopP < 1 {
		var c float64
		for i := range prob {
			c += prob[i]
			if float32(c) >= s.cfg.TopP {
				cut = i + 1
				break
			}
		}
	}

	var total float64
	for i := range cut {
		total += prob[i]
	}
	r := s.rng.Float64() * total
	var c float64
	for i := range cut {
		c += prob[i]
		if r < c {
			return topIdx[i]
		}
	}
	return topIdx[cut-1]
}

func (s *Sampler) penalize(logits []float32, recent []int) {
	start := max(len(recent)-s.cfg.RepeatLastN, 0)

	if len(s.seenMark) < len(logits) {
		s.seenMark = make([]uint32, len(logits))
	}
	s.seenEpoch++
	if s.seenEpoch == 0 {
		clear(s.seenMark)
		s.seenEpoch = 1
	}
	s.seenList = s.seenList[:0]
	for _, id := range recent[start:] {
		if id >= 0 && id < len(logits) && s.seenMark[id] != s.seenEpoch {
			s.seenMark[id] = s.seenEpoch
			s.seenList = append(s.seenList, id)
		}
	}
	for _, id := range s.seenList {
		if logits[id] > 0 {
			logits[id] /= s.cfg.RepeatPenalty
		} else {
			logits[id] *= s.cfg.RepeatPenalty
		}
	}
}

// argmax returns the index of the maximum value. Ties go to the lowest index.
func argmax(x []float32) int {
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// sorted ranks every logit and keeps the first k.
func (s *Sampler) sorted(logits []float32, k int, invTemp float32) ([]int, []float32) {
	if cap(s.order) < len(logits) {
		s.order = make([]int, len(logits))
	}
	order := s.order[:len(logits)]
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(logits[b], logits[a]) })

	if cap(s.topVal) < k {
		s.topVal = make([]float32, k)
	}
	topVal := s.topVal[:k]
	for i := range k {
		topVal[i] = logits[order[i]] * invTemp
	}
	return order[:k], topVal
}

// topK returns the indices and values of the k largest elements in logits, scaled by invTemp.
// The returned slices are ordered from largest to smallest by value.
// This is an O(V*K) algorithm suitable for small K.
func (s *Sampler) topK(logits []float32, k int, invTemp float32) ([]int, []float32) {
	if cap(s.topIdx) < k+1 {
		s.topIdx = make([]int, 0, k+1)
		s.topVal = make([]float32, 0, k+1)
	}
	topIdx := s.topIdx[:0]
	topVal := s.topVal[:0]

	for i, l := range logits {
		v := l * invTemp

		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}

		topIdx = append(topIdx, 0)
		topVal = append(topVal, 0)
		copy(topIdx[pos+1:], topIdx[pos:])
		copy(topVal[pos+1:], topVal[pos:])
		topIdx[pos] = i
		topVal[pos] = v

		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}
	s.topIdx = topIdx
	s.topVal = topVal
	return topIdx, topVal
}
