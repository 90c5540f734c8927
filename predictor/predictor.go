package predictor

import (
	"math"
	"sort"
	"time"
)

// Example is a labeled cry used as corpus input: a past recording that has
// both an embedding and a reason/solution the user or the engine settled on.
type Example struct {
	Embedding  []float32
	Reason     string
	Solution   string
	RecordedAt time.Time
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceNormal Confidence = "normal"
)

// Outcome is either a prediction or a signal that the caller must label the
// recording manually.
type Outcome struct {
	NeedsLabel bool
	Reason     string
	Solution   string
	Confidence Confidence
}

type scored struct {
	Example
	score float64
}

type pair struct {
	reason   string
	solution string
}

// Predict compares the target embedding against every corpus example and
// votes among the nearest neighbors. It is a pure function: inputs are never
// mutated and identical inputs always produce the identical outcome.
func Predict(target []float32, corpus []Example, opts ...Option) Outcome {
	options := NewOptions(opts...)

	if len(corpus) < options.MinCorpus {
		return Outcome{NeedsLabel: true}
	}

	ranked := make([]scored, 0, len(corpus))
	for _, ex := range corpus {
		ranked = append(ranked, scored{Example: ex, score: CosineSimilarity(target, ex.Embedding)})
	}

	// Exact score ties go to the more recent example: recency reflects the
	// current caregiving context better than an older match.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].RecordedAt.After(ranked[j].RecordedAt)
	})

	k := options.Neighbors
	if len(ranked) < k {
		k = len(ranked)
	}
	neighbors := ranked[:k]

	// 1. Strong agreement on one exact (reason, solution) pair
	pairCounts := map[pair]int{}
	var pairOrder []pair
	reasonCounts := map[string]int{}
	var reasonOrder []string

	for _, n := range neighbors {
		p := pair{reason: n.Reason, solution: n.Solution}
		if pairCounts[p] == 0 {
			pairOrder = append(pairOrder, p)
		}
		pairCounts[p]++

		if reasonCounts[n.Reason] == 0 {
			reasonOrder = append(reasonOrder, n.Reason)
		}
		reasonCounts[n.Reason]++
	}

	var topPair pair
	best := 0
	for _, p := range pairOrder {
		if pairCounts[p] > best {
			best = pairCounts[p]
			topPair = p
		}
	}

	if float64(best) >= options.Agreement*float64(k) {
		return Outcome{Reason: topPair.reason, Solution: topPair.solution, Confidence: ConfidenceHigh}
	}

	// 2. Strict plurality on reason alone
	var topReason string
	bestReason, runnerUp := 0, 0
	for _, r := range reasonOrder {
		c := reasonCounts[r]
		if c > bestReason {
			runnerUp = bestReason
			bestReason = c
			topReason = r
		} else if c > runnerUp {
			runnerUp = c
		}
	}

	if bestReason == runnerUp {
		// a tied vote (3-way or worse split) is not a prediction
		return Outcome{NeedsLabel: true}
	}

	// 3. Most common solution within the winning reason's subgroup
	solCounts := map[string]int{}
	var solOrder []string
	for _, n := range neighbors {
		if n.Reason != topReason {
			continue
		}
		if solCounts[n.Solution] == 0 {
			solOrder = append(solOrder, n.Solution)
		}
		solCounts[n.Solution]++
	}

	var topSolution string
	best = 0
	for _, s := range solOrder {
		if solCounts[s] > best {
			best = solCounts[s]
			topSolution = s
		}
	}

	return Outcome{Reason: topReason, Solution: topSolution, Confidence: ConfidenceNormal}
}

// CosineSimilarity is invariant to loudness: two clips with the same acoustic
// shape score 1 regardless of vector magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
