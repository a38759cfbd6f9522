// Package ingest drives one poll cycle per synced feed: fetch new call
// descriptors, record them insert-or-ignore, and advance the feed cursor
// only once the batch is durable.
package ingest
