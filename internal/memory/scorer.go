package memory

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/driftline/gardener/internal/store"
)

// Weights are the utility mix (access, salience, density). Normalized to
// sum 1 before use.
type Weights struct {
	Alpha float64 // access recency/frequency
	Beta  float64 // semantic salience
	Gamma float64 // information density
}

// DefaultWeights returns the 0.5/0.3/0.2 mix.
func DefaultWeights() Weights {
	return Weights{Alpha: 0.5, Beta: 0.3, Gamma: 0.2}
}

func (w Weights) normalized() Weights {
	total := w.Alpha + w.Beta + w.Gamma
	if total <= 0 {
		return DefaultWeights()
	}
	return Weights{w.Alpha / total, w.Beta / total, w.Gamma / total}
}

// SalienceFunc estimates semantic importance of a summary, in [0,1]. A
// collaborator-backed implementation may fail; the scorer falls back to its
// keyword heuristic on any error.
type SalienceFunc func(ctx context.Context, summary string) (float64, error)

// Scorer computes per-node utility
//
//	U(n,t) = α·access(n,t) + β·salience(n) + γ·density(n)
//
// The result is always in [0,1] and the scorer never returns an error: every
// external dependency degrades to a deterministic heuristic.
type Scorer struct {
	Weights     Weights
	LambdaDecay float64 // access decay per day
	Salience    SalienceFunc
}

// NewScorer returns a Scorer with the given weights and a λ=0.01/day decay.
func NewScorer(w Weights) *Scorer {
	return &Scorer{Weights: w.normalized(), LambdaDecay: 0.01}
}

// Score computes a node's utility against the given population. vectors maps
// node id to a cached embedding; nodes without vectors fall back to lexical
// similarity for the density term.
func (s *Scorer) Score(ctx context.Context, node *store.MemoryNode, now time.Time, population []store.MemoryNode, vectors map[string][]float64) float64 {
	w := s.Weights.normalized()

	a := s.accessScore(node, now)
	b := s.salienceScore(ctx, node.Summary)
	g := s.densityScore(node, population, vectors)

	return clip01(w.Alpha*a + w.Beta*b + w.Gamma*g)
}

// accessScore decays from the last access (or creation if never accessed)
// and scales by normalized access frequency. Never-accessed nodes get a low
// floor rather than zero so cold memories are not instantly evicted.
func (s *Scorer) accessScore(node *store.MemoryNode, now time.Time) float64 {
	if node.AccessCount == 0 {
		return 0.1
	}

	ref := node.CreatedAt
	if node.LastAccess != nil {
		ref = *node.LastAccess
	}

	deltaDays := now.Sub(time.UnixMilli(ref)).Hours() / 24
	if deltaDays < 0 {
		deltaDays = 0
	}

	lambda := s.LambdaDecay
	if lambda <= 0 {
		lambda = 0.01
	}
	decay := math.Exp(-lambda * deltaDays)
	freq := math.Min(float64(node.AccessCount)/100.0, 1.0)
	return decay * freq
}

func (s *Scorer) salienceScore(ctx context.Context, summary string) float64 {
	if s.Salience != nil {
		if score, err := s.Salience(ctx, summary); err == nil {
			return clip01(score)
		}
		// Collaborator failed; heuristic takes over.
	}
	return HeuristicSalience(summary)
}

// HeuristicSalience buckets a summary by keyword class: anomaly/failure
// language scores highest, completion language next, routine manipulation
// language mid, everything else low.
func HeuristicSalience(summary string) float64 {
	text := strings.ToLower(summary)

	for _, kw := range []string{"failed", "failure", "error", "collision", "fell", "dropped", "stuck", "anomaly"} {
		if strings.Contains(text, kw) {
			return 0.9
		}
	}
	for _, kw := range []string{"completed", "succeeded", "success", "achieved", "finished", "first time"} {
		if strings.Contains(text, kw) {
			return 0.7
		}
	}
	for _, kw := range []string{"grasp", "pick", "place", "move", "navigate", "open", "close"} {
		if strings.Contains(text, kw) {
			return 0.5
		}
	}
	return 0.3
}

// densityScore measures uniqueness: 1 − the max similarity to any other
// population member. A population of one is maximally unique.
func (s *Scorer) densityScore(node *store.MemoryNode, population []store.MemoryNode, vectors map[string][]float64) float64 {
	if len(population) <= 1 {
		return 1.0
	}

	own := vectors[node.ID]
	maxSim := 0.0
	compared := false
	for i := range population {
		other := &population[i]
		if other.ID == node.ID {
			continue
		}
		compared = true

		var sim float64
		if otherVec, ok := vectors[other.ID]; ok && len(own) > 0 {
			sim = CosineSimilarity(own, otherVec)
		} else {
			sim = Jaccard(node.Summary, other.Summary)
		}
		if sim > maxSim {
			maxSim = sim
		}
	}
	if !compared {
		return 1.0
	}
	return clip01(1.0 - maxSim)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
