package delta

import "github.com/fscrawl/fscrawl/internal/domain/crawl"

// Baseline is the detector's view of what earlier scans recorded.
type Baseline interface {
	// Lookup returns the record for id wherever it lives.
	Lookup(id string) (crawl.DocumentRecord, bool)
	// InDirectory returns the records whose parent is dir.
	InDirectory(dir string) []crawl.DocumentRecord
}

// Change is the classification of a single observed item.
type Change struct {
	ID             string
	Item           crawl.ScanItem
	Classification Classification
	// Relocated is set when a FilenameIdentity record is found in a
	// different directory than the one it was recorded in.
	Relocated bool
}

// Result is the classification of one directory.
type Result struct {
	// Changes has one entry per observed item, in input order.
	Changes []Change
	// Deleted holds prior records to delete now.
	Deleted []crawl.DocumentRecord
	// Missing holds prior records that vanished from this directory but
	// whose deletion must wait for scan completion.
	Missing []crawl.DocumentRecord
}

// Counts tallies the classifications of r.
func (r Result) Counts() map[Classification]int {
	counts := make(map[Classification]int, 4)
	for _, c := range r.Changes {
		counts[c.Classification]++
	}
	counts[Deleted] = len(r.Deleted)
	return counts
}

// Detector classifies directory listings against a baseline.
type Detector struct {
	identity      Identity
	useChecksum   bool
	removeDeleted bool
}

// NewDetector builds a detector. With removeDeleted false vanished records
// are left alone.
func NewDetector(identity Identity, useChecksum, removeDeleted bool) *Detector {
	return &Detector{identity: identity, useChecksum: useChecksum, removeDeleted: removeDeleted}
}

// Identity returns the identifier strategy of the detector.
func (d *Detector) Identity() Identity { return d.identity }

// Classify compares the items observed in dir with baseline.
func (d *Detector) Classify(dir string, items []crawl.ScanItem, baseline Baseline) Result {
	res := Result{Changes: make([]Change, 0, len(items))}
	current := make(map[string]struct{}, len(items))

	for _, item := range items {
		id := d.identity.ID(item)
		current[id] = struct{}{}

		change := Change{ID: id, Item: item}
		prior, ok := baseline.Lookup(id)
		switch {
		case !ok:
			change.Classification = New
		case item.IsDir:
			change.Classification = Unchanged
		case d.modified(prior, item):
			change.Classification = Modified
		default:
			change.Classification = Unchanged
		}
		if ok && prior.Directory != dir {
			change.Relocated = true
		}
		res.Changes = append(res.Changes, change)
	}

	if !d.removeDeleted {
		return res
	}

	for _, rec := range baseline.InDirectory(dir) {
		if _, seen := current[rec.ID]; seen {
			continue
		}
		if d.identity.DefersDeletes() && !rec.Folder {
			res.Missing = append(res.Missing, rec)
			continue
		}
		res.Deleted = append(res.Deleted, rec)
	}
	return res
}

func (d *Detector) modified(prior crawl.DocumentRecord, item crawl.ScanItem) bool {
	if d.useChecksum && prior.Checksum != "" && item.Checksum != "" {
		return prior.Checksum != item.Checksum
	}
	return !prior.LastModified.Equal(item.LastModified)
}
