package rotation

import (
	"testing"

	"proxyrotor/internal/shared/types"
)

func geoCandidates() []*types.ProxyCandidate {
	c := makeCandidates("us1", "us2", "gb1", "de1")
	withGeo(c[0], "US", "West")
	withGeo(c[1], "US", "East")
	withGeo(c[2], "GB", "")
	withGeo(c[3], "DE", "")
	return c
}

func TestGeographicPreferenceFiltersAndCycles(t *testing.T) {
	s := NewGeographicStrategy()
	s.SetSettings(&types.GeographicSettings{Preferences: []string{"US"}})
	candidates := geoCandidates()

	want := []string{"us1", "us2", "us1", "us2"}
	for i, expected := range want {
		got := s.Select(candidates, nil)
		if got.ID != expected {
			t.Errorf("call %d: expected %s, got %s", i, expected, got.ID)
		}
	}
}

func TestGeographicContextOverridesPreference(t *testing.T) {
	s := NewGeographicStrategy()
	s.SetSettings(&types.GeographicSettings{Preferences: []string{"US"}})

	got := s.Select(geoCandidates(), &types.SelectionContext{TargetCountry: "DE"})
	if got.ID != "de1" {
		t.Errorf("expected de1 for target country DE, got %s", got.ID)
	}
}

func TestGeographicExcludeCountries(t *testing.T) {
	s := NewGeographicStrategy()
	s.SetSettings(&types.GeographicSettings{ExcludeCountries: []string{"US"}})
	candidates := geoCandidates()

	for i := 0; i < 8; i++ {
		got := s.Select(candidates, nil)
		if got.ID == "us1" || got.ID == "us2" {
			t.Fatalf("call %d: excluded country selected (%s)", i, got.ID)
		}
	}
}

func TestGeographicRegionFilterRelaxes(t *testing.T) {
	s := NewGeographicStrategy()
	s.SetSettings(&types.GeographicSettings{
		Preferences:      []string{"US"},
		PreferredRegions: []string{"West"},
	})
	candidates := geoCandidates()

	// Tier 1 keeps only US/West.
	for i := 0; i < 3; i++ {
		if got := s.Select(candidates, nil); got.ID != "us1" {
			t.Fatalf("expected us1 with region filter, got %s", got.ID)
		}
	}

	// No region match at all: tier 2 drops the region filter but keeps country.
	s.SetSettings(&types.GeographicSettings{
		Preferences:      []string{"GB"},
		PreferredRegions: []string{"West"},
	})
	if got := s.Select(candidates, nil); got.ID != "gb1" {
		t.Errorf("expected gb1 after region relaxation, got %s", got.ID)
	}
}

func TestGeographicExcludeLeaksAtLastResort(t *testing.T) {
	s := NewGeographicStrategy()
	s.SetSettings(&types.GeographicSettings{ExcludeCountries: []string{"US"}})
	candidates := makeCandidates("us1", "us2")
	withGeo(candidates[0], "US", "")
	withGeo(candidates[1], "US", "")

	// Every candidate is excluded: the cascade falls back to the full
	// list rather than returning nothing.
	got := s.Select(candidates, nil)
	if got == nil {
		t.Fatal("expected last-resort fallback to return a candidate, got nil")
	}
}

func TestGeographicCaseInsensitiveCountry(t *testing.T) {
	s := NewGeographicStrategy()
	s.SetSettings(&types.GeographicSettings{Preferences: []string{"us"}})

	got := s.Select(geoCandidates(), nil)
	if got.ID != "us1" {
		t.Errorf("expected case-insensitive country match, got %s", got.ID)
	}
}

func TestGeographicNoSettingsPassthrough(t *testing.T) {
	s := NewGeographicStrategy()
	candidates := geoCandidates()

	// No settings and no context: plain cycling over the full list.
	if got := s.Select(candidates, nil); got.ID != "us1" {
		t.Errorf("expected us1, got %s", got.ID)
	}
	if got := s.Select(candidates, nil); got.ID != "us2" {
		t.Errorf("expected us2, got %s", got.ID)
	}
}
