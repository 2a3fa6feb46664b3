package crawl

import "time"

// Document is the body indexed for a file.
type Document struct {
	Content string            `json:"content,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
	File    FileInfo          `json:"file"`
	Path    PathInfo          `json:"path"`
}

// FileInfo describes the indexed file.
type FileInfo struct {
	Filename     string    `json:"filename"`
	Extension    string    `json:"extension,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	Filesize     *int64    `json:"filesize,omitempty"`
	IndexedChars int       `json:"indexed_chars,omitempty"`
	IndexingDate time.Time `json:"indexing_date"`
	LastModified time.Time `json:"last_modified"`
	Checksum     string    `json:"checksum,omitempty"`
}

// PathInfo locates a document in the crawled tree. Root is the real path of
// the parent directory; index lookups by directory query it.
type PathInfo struct {
	Root    string `json:"root"`
	Virtual string `json:"virtual"`
	Real    string `json:"real"`
}

// Folder is the body indexed for a directory when folder indexing is on.
type Folder struct {
	Name string   `json:"name"`
	Path PathInfo `json:"path"`
}
