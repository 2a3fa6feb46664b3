package delta

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
)

// Identity selects how document identifiers are derived from items.
type Identity int

const (
	// PathIdentity derives the identifier from the virtual path. A rename
	// is a delete of the old identifier and a new one.
	PathIdentity Identity = iota

	// FilenameIdentity uses the file name as identifier. A rename keeps the
	// identifier, so a moved file is Unchanged unless its content changed.
	FilenameIdentity
)

func (i Identity) String() string {
	if i == FilenameIdentity {
		return "filename"
	}
	return "path"
}

// ID returns the document identifier of item. Directories always use the
// path form so that folder documents never collide with files.
func (i Identity) ID(item crawl.ScanItem) string {
	if i == FilenameIdentity && !item.IsDir {
		return item.Name
	}
	return PathID(item.VirtualPath)
}

// DefersDeletes reports whether a vanished identifier may reappear later in
// the same scan and must therefore only be deleted at scan completion.
func (i Identity) DefersDeletes() bool { return i == FilenameIdentity }

// PathID hashes a virtual path into a stable identifier.
func PathID(virtualPath string) string {
	sum := sha256.Sum256([]byte(virtualPath))
	return hex.EncodeToString(sum[:16])
}
