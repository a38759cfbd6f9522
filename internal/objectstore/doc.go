// Package objectstore uploads validated call audio to an S3-compatible
// bucket under hierarchical, collision-free keys and reads it back for
// downstream stages.
package objectstore
