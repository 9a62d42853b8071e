// Package digest buffers pending notifications per user and folds them
// into delivery groups. An ordered rule list matches buffered items by
// condition and applies a grouping strategy; consumed items are marked
// so later rules and repeated runs skip them.
package digest
