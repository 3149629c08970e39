// Package selection decides which image references are worth downloading.
//
// The Engine wraps the store's aggregate candidate query with validated
// thresholds. The query joins posts to their comment counts server-side,
// so selection cost does not grow with one query per candidate.
package selection
