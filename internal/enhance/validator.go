package enhance

import (
	"fmt"
	"math"

	"callpipe/internal/audio"
	"callpipe/internal/config"
	"callpipe/internal/services"
)

// clippingThreshold is the absolute amplitude treated as near-full-scale.
const clippingThreshold = 0.98

// Validator checks enhanced output before it may be uploaded.
type Validator struct {
	sampleRate        int
	durationTolerance float64
	silenceFloor      float64
	clippingCeiling   float64
}

// NewValidator constructs a validator from the audio config section.
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{
		sampleRate:        cfg.Audio.SampleRate,
		durationTolerance: cfg.Audio.DurationTolerance,
		silenceFloor:      cfg.Audio.SilenceFloor,
		clippingCeiling:   cfg.Audio.ClippingCeiling,
	}
}

// Validate inspects an enhanced clip and returns a validation-kind error
// naming the first failed check. expectedDuration of zero skips the duration
// comparison.
func (v *Validator) Validate(clip *audio.Clip, expectedDuration float64) error {
	if clip == nil || len(clip.Samples) == 0 {
		return v.reject("output is empty")
	}
	if clip.SampleRate != v.sampleRate {
		return v.reject(fmt.Sprintf("sample rate %d, want %d", clip.SampleRate, v.sampleRate))
	}
	if clip.Channels != 1 {
		return v.reject(fmt.Sprintf("%d channels, want mono", clip.Channels))
	}
	if expectedDuration > 0 {
		got := clip.Duration()
		drift := math.Abs(got-expectedDuration) / expectedDuration
		if drift > v.durationTolerance {
			return v.reject(fmt.Sprintf("duration %.2fs drifted %.0f%% from source %.2fs",
				got, drift*100, expectedDuration))
		}
	}
	if clip.Peak() < v.silenceFloor {
		return v.reject("output is silent")
	}
	if ratio := clip.ClippingRatio(clippingThreshold); ratio > v.clippingCeiling {
		return v.reject(fmt.Sprintf("%.1f%% of samples clipped", ratio*100))
	}
	return nil
}

func (v *Validator) reject(reason string) error {
	return services.Wrap(services.ErrValidation, "enhance", "validate output", reason, nil)
}
