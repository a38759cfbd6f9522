// Package feed talks to the upstream calls API: it signs short-lived
// bearer tokens, polls playlists for new calls with a position cursor,
// and downloads call audio.
package feed
