package quality

import (
	"math"
	"sort"

	"callpipe/internal/audio"
	"callpipe/internal/config"
	"callpipe/internal/services"
)

const noiseFloorEpsilon = 1e-9

// Metrics holds the measured signal statistics behind a quality score.
type Metrics struct {
	// Score is the composite quality score on [0, 100].
	Score float64
	// SNRDb estimates signal-to-noise ratio from the amplitude distribution.
	SNRDb float64
	// RMSDb is overall level in dBFS.
	RMSDb float64
	// NoiseFloor is the 10th percentile of absolute amplitude.
	NoiseFloor float64
	// DynamicRange is the spread between the 95th percentile and the floor.
	DynamicRange float64
	// SpectralCentroid approximates the spectral balance in Hz.
	SpectralCentroid float64
	// ZeroCrossingRate is crossings per sample, a cheap noisiness signal.
	ZeroCrossingRate float64
}

// Analyzer scores decoded audio. The offset and gain shape how SNR maps onto
// the score: clamp((snr_db + offset) * gain, 0, 100).
type Analyzer struct {
	offset float64
	gain   float64
}

// NewAnalyzer builds an analyzer from the audio config section.
func NewAnalyzer(cfg *config.Config) *Analyzer {
	return &Analyzer{offset: cfg.Audio.SNROffset, gain: cfg.Audio.SNRGain}
}

// Analyze measures the clip and derives its composite quality score.
func (a *Analyzer) Analyze(clip *audio.Clip) (Metrics, error) {
	if clip == nil || len(clip.Samples) == 0 {
		return Metrics{}, services.Wrap(services.ErrDecode, "quality", "analyze", "empty audio", nil)
	}
	samples := clip.Mono()
	if len(samples) == 0 {
		return Metrics{}, services.Wrap(services.ErrDecode, "quality", "analyze", "empty audio", nil)
	}

	abs := make([]float64, len(samples))
	sumSquares := 0.0
	for i, s := range samples {
		abs[i] = math.Abs(s)
		sumSquares += s * s
	}
	sort.Float64s(abs)

	floor := percentile(abs, 0.10)
	p95 := percentile(abs, 0.95)
	dynamicRange := p95 - floor
	snr := 20 * math.Log10(dynamicRange/(floor+noiseFloorEpsilon))

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	rmsDb := -120.0
	if rms > 0 {
		rmsDb = 20 * math.Log10(rms)
	}

	metrics := Metrics{
		SNRDb:            snr,
		RMSDb:            rmsDb,
		NoiseFloor:       floor,
		DynamicRange:     dynamicRange,
		SpectralCentroid: spectralCentroid(samples, clip.SampleRate),
		ZeroCrossingRate: zeroCrossingRate(samples),
		Score:            clampScore((snr + a.offset) * a.gain),
	}
	return metrics, nil
}

// percentile reads from a pre-sorted ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// spectralCentroid uses the first-difference estimator: the RMS ratio of the
// signal's derivative to the signal itself tracks the dominant frequency.
func spectralCentroid(samples []float64, rate int) float64 {
	if len(samples) < 2 || rate <= 0 {
		return 0
	}
	var num, den float64
	for i := 1; i < len(samples); i++ {
		d := samples[i] - samples[i-1]
		num += d * d
		den += samples[i] * samples[i]
	}
	if den == 0 {
		return 0
	}
	return float64(rate) / (2 * math.Pi) * math.Sqrt(num/den)
}

func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples))
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
