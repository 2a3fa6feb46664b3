// Package delta classifies the items of a directory against what a previous
// scan recorded about them.
package delta

// Classification is the outcome of comparing an observed item with its
// prior record.
type Classification string

const (
	// New marks an item with no prior record.
	New Classification = "NEW"
	// Modified marks an item whose modification time or checksum changed.
	Modified Classification = "MODIFIED"
	// Unchanged marks an item identical to its prior record.
	Unchanged Classification = "UNCHANGED"
	// Deleted marks a prior record with no matching item.
	Deleted Classification = "DELETED"
)

func (c Classification) String() string { return string(c) }

// NeedsIndexing reports whether the classification results in an index
// operation.
func (c Classification) NeedsIndexing() bool { return c == New || c == Modified }
