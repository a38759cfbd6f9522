// Package search pushes transcript documents into a Meilisearch index.
// Index writes are best-effort: the pipeline treats a failed write as a
// warning, never as a stage failure.
package search
