package tier_test

import (
	"strings"
	"testing"

	"callpipe/internal/testsupport"
	"callpipe/internal/tier"
)

func TestSelectBoundariesAreInclusiveUpward(t *testing.T) {
	selector := tier.NewSelector(testsupport.NewConfig(t))

	cases := []struct {
		score float64
		want  tier.Tier
	}{
		{100, tier.Tier1},
		{70.0001, tier.Tier1},
		{70, tier.Tier1},
		{69.9999, tier.Tier2},
		{55, tier.Tier2},
		{40, tier.Tier2},
		{39.9999, tier.Tier3},
		{10, tier.Tier3},
		{0, tier.Tier3},
	}
	for _, tc := range cases {
		if got := selector.Select(tc.score); got != tc.want {
			t.Errorf("Select(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestFilterChainsEscalate(t *testing.T) {
	selector := tier.NewSelector(testsupport.NewConfig(t))

	light := selector.FilterChain(tier.Tier1)
	medium := selector.FilterChain(tier.Tier2)
	heavy := selector.FilterChain(tier.Tier3)

	for name, chain := range map[string]string{"tier1": light, "tier2": medium, "tier3": heavy} {
		if !strings.Contains(chain, "loudnorm=I=-20") {
			t.Errorf("%s chain missing loudness target: %q", name, chain)
		}
		if !strings.HasSuffix(chain, ":TP=-1.5") {
			t.Errorf("%s chain must end with loudnorm: %q", name, chain)
		}
	}

	// Per-tier step sets: every tier band-limits, denoises, and
	// normalizes; tier 2 adds declick, wavelet denoise, eq, and a gate;
	// tier 3 adds non-local means denoise and compression on top.
	steps := map[tier.Tier]struct {
		chain    string
		want     []string
		excluded []string
	}{
		tier.Tier1: {
			chain:    light,
			want:     []string{"highpass=", "lowpass=", "afftdn=", "speechnorm=", "loudnorm="},
			excluded: []string{"adeclick", "afwtdn", "anlmdn", "agate", "acompressor", "equalizer"},
		},
		tier.Tier2: {
			chain:    medium,
			want:     []string{"adeclick=", "highpass=", "afwtdn=", "afftdn=", "lowpass=", "equalizer=", "speechnorm=", "agate=", "loudnorm="},
			excluded: []string{"anlmdn", "acompressor"},
		},
		tier.Tier3: {
			chain: heavy,
			want:  []string{"adeclick=", "highpass=", "afwtdn=", "afftdn=", "anlmdn=", "lowpass=", "equalizer=", "acompressor=", "speechnorm=", "agate=", "loudnorm="},
		},
	}
	for name, tc := range steps {
		for _, step := range tc.want {
			if !strings.Contains(tc.chain, step) {
				t.Errorf("%s missing %s: %q", name, step, tc.chain)
			}
		}
		for _, step := range tc.excluded {
			if strings.Contains(tc.chain, step) {
				t.Errorf("%s must not include %s: %q", name, step, tc.chain)
			}
		}
	}

	if strings.Count(heavy, ",") <= strings.Count(medium, ",") {
		t.Error("tier3 chain should be longer than tier2")
	}
	if strings.Count(medium, ",") <= strings.Count(light, ",") {
		t.Error("tier2 chain should be longer than tier1")
	}
}

func TestOutputArgsPinFormat(t *testing.T) {
	selector := tier.NewSelector(testsupport.NewConfig(t))
	args := strings.Join(selector.OutputArgs(), " ")
	for _, want := range []string{"-ar 16000", "-ac 1", "-c:a pcm_s16le", "-f wav"} {
		if !strings.Contains(args, want) {
			t.Errorf("output args missing %q: %q", want, args)
		}
	}
}
