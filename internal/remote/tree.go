package remote

import "strings"

// BlobRef is an opaque handle to downloadable content. For the repository
// API it is the blob URL taken from the tree listing.
type BlobRef string

// Entry is one path in the repository listing.
type Entry struct {
	Path string  `json:"path"`
	Type string  `json:"type,omitempty"`
	Ref  BlobRef `json:"url"`
}

// Tree is the flat listing fetched once per run. It is read-only after
// FetchTree returns and safe for concurrent readers.
type Tree struct {
	entries []Entry
	index   map[string]int
}

// NewTree builds a Tree from entries in listing order. Duplicate paths keep
// the first occurrence.
func NewTree(entries []Entry) *Tree {
	t := &Tree{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		if e.Path == "" {
			continue
		}
		if _, dup := t.index[e.Path]; dup {
			continue
		}
		t.index[e.Path] = len(t.entries)
		t.entries = append(t.entries, e)
	}
	return t
}

// Len returns the number of entries.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns a copy of the listing.
func (t *Tree) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Resolve looks up the blob for an exact path. A missing path is reported
// through ok rather than an error; callers decide whether it matters.
func (t *Tree) Resolve(path string) (ref BlobRef, ok bool) {
	if t == nil {
		return "", false
	}
	i, ok := t.index[path]
	if !ok {
		return "", false
	}
	return t.entries[i].Ref, true
}

// ListUnder returns every path starting with prefix, in listing order. The
// match is a plain string prefix, so "mods" also matches "modsextra/x".
func (t *Tree) ListUnder(prefix string) []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, e := range t.entries {
		if strings.HasPrefix(e.Path, prefix) {
			out = append(out, e.Path)
		}
	}
	return out
}
