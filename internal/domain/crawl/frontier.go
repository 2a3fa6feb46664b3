package crawl

import (
	"slices"
	"sync"
)

// Frontier tracks which directories of a scan are pending and which are
// completed. A directory stays pending while it is being processed, so a
// scan interrupted mid-directory reprocesses that directory and nothing
// that was already completed.
//
// Invariant: pending and completed are disjoint and together hold every
// directory discovered so far.
type Frontier struct {
	mu         sync.Mutex
	pending    []string
	completed  map[string]struct{}
	unreadable map[string]struct{}
	visited    map[string]struct{}
}

// NewFrontier starts a scan at root.
func NewFrontier(root string) *Frontier {
	return &Frontier{
		pending:    []string{root},
		completed:  make(map[string]struct{}),
		unreadable: make(map[string]struct{}),
		visited:    make(map[string]struct{}),
	}
}

// RestoreFrontier rebuilds a frontier from a checkpoint's directory sets.
func RestoreFrontier(pending, completed, unreadable []string) *Frontier {
	f := &Frontier{
		pending:    slices.Clone(pending),
		completed:  make(map[string]struct{}, len(completed)),
		unreadable: make(map[string]struct{}, len(unreadable)),
		visited:    make(map[string]struct{}),
	}
	for _, dir := range completed {
		f.completed[dir] = struct{}{}
	}
	for _, dir := range unreadable {
		f.unreadable[dir] = struct{}{}
	}
	return f
}

// Next returns the directory on top of the pending stack without removing
// it. ok is false once the scan has nothing left to visit.
func (f *Frontier) Next() (dir string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		return "", false
	}
	return f.pending[len(f.pending)-1], true
}

// Complete moves dir from pending to completed and pushes its children so
// that the first child is visited next.
func (f *Frontier) Complete(dir string, children []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i := slices.Index(f.pending, dir); i >= 0 {
		f.pending = slices.Delete(f.pending, i, i+1)
	}
	f.completed[dir] = struct{}{}

	for i := len(children) - 1; i >= 0; i-- {
		child := children[i]
		if _, done := f.completed[child]; done {
			continue
		}
		if slices.Contains(f.pending, child) {
			continue
		}
		f.pending = append(f.pending, child)
	}
}

// MarkUnreadable records that dir could not be listed. Its subtree was not
// walked, so nothing below it may be treated as gone.
func (f *Frontier) MarkUnreadable(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadable[dir] = struct{}{}
}

// Unreadable returns the sorted directories marked unreadable.
func (f *Frontier) Unreadable() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.unreadable)
}

// Visit records key as entered and reports whether it was new. The walker
// uses it to break symlink cycles.
func (f *Frontier) Visit(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, seen := f.visited[key]; seen {
		return false
	}
	f.visited[key] = struct{}{}
	return true
}

// Counts returns the number of completed and pending directories.
func (f *Frontier) Counts() (completed, pending int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completed), len(f.pending)
}

// Snapshot returns copies of the pending stack and the sorted completed set.
func (f *Frontier) Snapshot() (pending, completed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.pending), sortedKeys(f.completed)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for dir := range set {
		out = append(out, dir)
	}
	slices.Sort(out)
	return out
}
