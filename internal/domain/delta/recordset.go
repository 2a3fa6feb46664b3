package delta

import (
	"maps"
	"slices"
	"strings"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
)

// RecordSet is a mutable, directory-indexed set of document records. It
// satisfies Baseline. RecordSet is not safe for concurrent use.
type RecordSet struct {
	byID  map[string]crawl.DocumentRecord
	byDir map[string]map[string]struct{}
}

// NewRecordSet builds a set from a checkpoint's documents.
func NewRecordSet(records map[string]crawl.DocumentRecord) *RecordSet {
	s := &RecordSet{
		byID:  make(map[string]crawl.DocumentRecord, len(records)),
		byDir: make(map[string]map[string]struct{}),
	}
	for _, rec := range records {
		s.Put(rec)
	}
	return s
}

// Put inserts or replaces rec.
func (s *RecordSet) Put(rec crawl.DocumentRecord) {
	if old, ok := s.byID[rec.ID]; ok && old.Directory != rec.Directory {
		s.unindex(old)
	}
	s.byID[rec.ID] = rec
	ids, ok := s.byDir[rec.Directory]
	if !ok {
		ids = make(map[string]struct{})
		s.byDir[rec.Directory] = ids
	}
	ids[rec.ID] = struct{}{}
}

// Remove deletes the record with id.
func (s *RecordSet) Remove(id string) {
	rec, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	s.unindex(rec)
}

func (s *RecordSet) unindex(rec crawl.DocumentRecord) {
	if ids, ok := s.byDir[rec.Directory]; ok {
		delete(ids, rec.ID)
		if len(ids) == 0 {
			delete(s.byDir, rec.Directory)
		}
	}
}

// Lookup implements Baseline.
func (s *RecordSet) Lookup(id string) (crawl.DocumentRecord, bool) {
	rec, ok := s.byID[id]
	return rec, ok
}

// InDirectory implements Baseline. Records are ordered by virtual path.
func (s *RecordSet) InDirectory(dir string) []crawl.DocumentRecord {
	ids := s.byDir[dir]
	out := make([]crawl.DocumentRecord, 0, len(ids))
	for id := range ids {
		out = append(out, s.byID[id])
	}
	sortRecords(out)
	return out
}

// Len returns the number of records.
func (s *RecordSet) Len() int { return len(s.byID) }

// Records returns a copy of the records keyed by id.
func (s *RecordSet) Records() map[string]crawl.DocumentRecord { return maps.Clone(s.byID) }

// Stale returns the records that a completed scan should delete: those
// marked missing and those whose directory was never visited. keep reports
// directories (or ancestors) that must be left alone, such as excluded ones.
func (s *RecordSet) Stale(visited map[string]struct{}, keep func(rec crawl.DocumentRecord) bool) []crawl.DocumentRecord {
	var out []crawl.DocumentRecord
	for _, rec := range s.byID {
		_, seen := visited[rec.Directory]
		if seen && !rec.Missing {
			continue
		}
		if keep != nil && keep(rec) {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

func sortRecords(recs []crawl.DocumentRecord) {
	slices.SortFunc(recs, func(a, b crawl.DocumentRecord) int {
		if c := strings.Compare(a.VirtualPath, b.VirtualPath); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
