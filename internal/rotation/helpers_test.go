package rotation

import (
	"time"

	"proxyrotor/internal/shared/types"
)

// makeCandidates builds active candidates with the given ids.
func makeCandidates(ids ...string) []*types.ProxyCandidate {
	out := make([]*types.ProxyCandidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, &types.ProxyCandidate{ID: id, Status: types.StatusActive})
	}
	return out
}

func withGeo(p *types.ProxyCandidate, country, region string) *types.ProxyCandidate {
	p.Geo = &types.GeoLocation{Country: country, Region: region}
	return p
}

func withLatency(p *types.ProxyCandidate, d time.Duration) *types.ProxyCandidate {
	p.Latency = d
	return p
}

func withStats(p *types.ProxyCandidate, failures int, successRate float64) *types.ProxyCandidate {
	p.FailureCount = failures
	p.SuccessRate = successRate
	return p
}
