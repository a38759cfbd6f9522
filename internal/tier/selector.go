package tier

import (
	"fmt"
	"strings"

	"callpipe/internal/config"
)

// Tier names an enhancement intensity level.
type Tier string

const (
	// Tier1 is the light chain for clean audio: band-limiting, a light
	// denoise, and speech/loudness normalization.
	Tier1 Tier = "TIER1"
	// Tier2 adds declick, wavelet denoise, and a noise gate for average
	// radio captures.
	Tier2 Tier = "TIER2"
	// Tier3 is the aggressive chain for barely intelligible audio, adding
	// non-local means denoise and dynamic compression.
	Tier3 Tier = "TIER3"
)

// Selector chooses tiers from quality scores. Boundaries are inclusive
// upward: a score equal to a threshold gets the lighter tier.
type Selector struct {
	high       float64
	low        float64
	sampleRate int
	targetLUFS float64
}

// NewSelector builds a selector from the audio config section.
func NewSelector(cfg *config.Config) *Selector {
	return &Selector{
		high:       cfg.Audio.HighThreshold,
		low:        cfg.Audio.LowThreshold,
		sampleRate: cfg.Audio.SampleRate,
		targetLUFS: cfg.Audio.TargetLUFS,
	}
}

// Select maps a quality score onto a tier.
func (s *Selector) Select(score float64) Tier {
	switch {
	case score >= s.high:
		return Tier1
	case score >= s.low:
		return Tier2
	default:
		return Tier3
	}
}

// FilterChain returns the ordered ffmpeg audio filter chain for a tier,
// ready for the -af flag.
func (s *Selector) FilterChain(t Tier) string {
	loudnorm := fmt.Sprintf("loudnorm=I=%.0f:LRA=11:TP=-1.5", s.targetLUFS)

	var steps []string
	switch t {
	case Tier1:
		steps = []string{
			"highpass=f=300:poles=2",
			"lowpass=f=3400:poles=2",
			"afftdn=nf=-20:nt=w",
			"speechnorm=peak=0.95:expansion=2:compression=2",
			loudnorm,
		}
	case Tier2:
		steps = []string{
			"adeclick=threshold=0.1",
			"highpass=f=300:poles=2",
			"afwtdn=percent=75:profile=true:adaptive=true",
			"afftdn=nf=-23:nt=w",
			"lowpass=f=3400:poles=2",
			"equalizer=f=1000:width_type=o:width=1.5:g=3",
			"speechnorm=peak=0.95:expansion=2:compression=2",
			"agate=threshold=0.02:release=100",
			loudnorm,
		}
	default:
		steps = []string{
			"adeclick=threshold=0.1",
			"highpass=f=300:poles=2",
			"afwtdn=percent=85:profile=true:adaptive=true:softness=2",
			"afftdn=nf=-25:nt=w:tn=true",
			"anlmdn=s=0.00005:p=0.002:r=0.006:m=15",
			"lowpass=f=3400:poles=2",
			"equalizer=f=1000:width_type=o:width=1.5:g=4",
			"acompressor=threshold=-24dB:ratio=4:attack=5:release=50:makeup=auto",
			"speechnorm=peak=0.95:expansion=3:compression=3",
			"agate=threshold=0.03:release=80",
			loudnorm,
		}
	}
	return strings.Join(steps, ",")
}

// OutputArgs returns the fixed ffmpeg output format arguments: 16-bit PCM
// WAV, mono, at the configured sample rate.
func (s *Selector) OutputArgs() []string {
	return []string{
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-f", "wav",
	}
}
