// Package prefetch overlaps batch loading with training by reading a
// DataSource one pass ahead into a bounded buffer.
package prefetch
