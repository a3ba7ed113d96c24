package failover

import (
	"fmt"
	"sort"
)

// Strategy ranks failover candidates. The highest-ranked candidate receives
// the redirected traffic. Implementations must be pure: same input, same
// order.
type Strategy interface {
	Name() string
	Rank(candidates []Candidate) []Candidate
}

// Built-in strategy names, usable in configuration.
const (
	StrategyFirstFit    = "first-fit"
	StrategyLeastLoaded = "least-loaded"
	StrategyWeighted    = "weighted"
)

// StrategyByName resolves a built-in strategy from its config name.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case StrategyFirstFit, "":
		return FirstFit{}, nil
	case StrategyLeastLoaded:
		return LeastLoaded{}, nil
	case StrategyWeighted:
		return WeightedByCapability{}, nil
	default:
		return nil, fmt.Errorf("unknown failover strategy %q", name)
	}
}

// FirstFit picks candidates in registration order.
type FirstFit struct{}

func (FirstFit) Name() string { return StrategyFirstFit }

func (FirstFit) Rank(candidates []Candidate) []Candidate {
	return rankBy(candidates, func(a, b Candidate) bool {
		return a.Seq < b.Seq
	})
}

// LeastLoaded prefers the candidate with the lowest current load.
type LeastLoaded struct{}

func (LeastLoaded) Name() string { return StrategyLeastLoaded }

func (LeastLoaded) Rank(candidates []Candidate) []Candidate {
	return rankBy(candidates, func(a, b Candidate) bool {
		if a.Load != b.Load {
			return a.Load < b.Load
		}
		return tieBreak(a, b)
	})
}

// WeightedByCapability prefers the candidate with the highest
// weight-adjusted health score.
type WeightedByCapability struct{}

func (WeightedByCapability) Name() string { return StrategyWeighted }

func (WeightedByCapability) Rank(candidates []Candidate) []Candidate {
	return rankBy(candidates, func(a, b Candidate) bool {
		wa, wb := weighted(a), weighted(b)
		if wa != wb {
			return wa > wb
		}
		return tieBreak(a, b)
	})
}

func weighted(c Candidate) float64 {
	w := c.Weight
	if w <= 0 {
		w = 1
	}
	return w * c.Score
}

// tieBreak orders deterministically: lowest load, then registration order.
func tieBreak(a, b Candidate) bool {
	if a.Load != b.Load {
		return a.Load < b.Load
	}
	return a.Seq < b.Seq
}

func rankBy(candidates []Candidate, less func(a, b Candidate) bool) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return less(ranked[i], ranked[j])
	})
	return ranked
}
