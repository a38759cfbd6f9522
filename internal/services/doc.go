// Package services defines the shared error taxonomy for pipeline stages.
//
// Stage code wraps failures with one of the exported sentinel kinds so the
// state tracker can decide between retrying, failing terminally, or ignoring
// the failure entirely (search indexing). The sentinels are matched with
// errors.Is, so wrapping preserves classification across package boundaries.
package services
