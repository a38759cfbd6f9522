// Package tier maps quality scores onto enhancement tiers and owns each
// tier's ffmpeg filter chain. Selection is a pure function of the score and
// the configured thresholds.
package tier
