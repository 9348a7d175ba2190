package rotation

import (
	"testing"

	"proxyrotor/internal/shared/types"
)

func TestWeightedFrequencyFollowsWeights(t *testing.T) {
	s := NewWeightedStrategy()
	s.SetSettings(&types.WeightedSettings{Weights: map[string]float64{
		"heavy": 10,
		"light": 1,
	}})
	candidates := makeCandidates("heavy", "light")

	counts := make(map[string]int)
	for i := 0; i < 200; i++ {
		counts[s.Select(candidates, nil).ID]++
	}

	// Expected split is roughly 10:1. Anything below 2:1 means the
	// lottery is broken, not just unlucky.
	if counts["heavy"] <= 2*counts["light"] {
		t.Errorf("weight 10 proxy selected %d times vs %d for weight 1", counts["heavy"], counts["light"])
	}
}

func TestWeightedFallsBackToCandidateWeight(t *testing.T) {
	s := NewWeightedStrategy()
	s.SetSettings(&types.WeightedSettings{})
	candidates := makeCandidates("a", "b")
	candidates[0].Weight = 20
	// b has no weight anywhere: participates with weight 1.

	counts := make(map[string]int)
	for i := 0; i < 200; i++ {
		counts[s.Select(candidates, nil).ID]++
	}
	if counts["a"] <= counts["b"] {
		t.Errorf("candidate weight ignored: a=%d b=%d", counts["a"], counts["b"])
	}
}

func TestWeightedNilSettingsUniform(t *testing.T) {
	s := NewWeightedStrategy()
	candidates := makeCandidates("a", "b", "c")

	for i := 0; i < 30; i++ {
		if got := s.Select(candidates, nil); got == nil {
			t.Fatal("expected a candidate with nil settings, got nil")
		}
	}
}

func TestWeightedEmptyList(t *testing.T) {
	s := NewWeightedStrategy()
	if got := s.Select(nil, nil); got != nil {
		t.Errorf("expected nil for empty candidate list, got %s", got.ID)
	}
}
