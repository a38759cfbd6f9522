// Package quality measures how intelligible a radio call's audio is likely
// to be. The composite score on [0, 100] drives enhancement tier selection;
// the underlying metrics are kept for operators debugging scoring decisions.
package quality
