// Package proteins loads the accession -> description table that sits next
// to every search database.
package proteins

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/vk/psmgrid/internal/fsutil"
)

// DefaultExtension is the side-file extension used when none is configured.
const DefaultExtension = ".yml"

// DefaultDelimiter separates accession and description.
const DefaultDelimiter = ":"

// SideFilePath returns the table file that belongs to a database file.
func SideFilePath(databasePath, ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	return fsutil.ReplaceExt(databasePath, ext)
}

// Table maps protein accessions to descriptions. It is immutable once
// loaded, apart from Release.
type Table struct {
	entries map[string]string
}

// Load reads a side-file. Each non-blank line is split on the first
// occurrence of delim; key and description are trimmed of surrounding
// whitespace. Lines are streamed, so no raw copy of the file outlives Load.
func Load(path, delim string) (*Table, error) {
	if delim == "" {
		delim = DefaultDelimiter
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening protein table: %w", err)
	}
	defer f.Close()

	t := &Table{entries: make(map[string]string)}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, desc, ok := strings.Cut(line, delim)
		if !ok {
			return nil, fmt.Errorf("%s:%d: missing delimiter %q", path, lineNo, delim)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%s:%d: empty accession", path, lineNo)
		}
		if _, dup := t.entries[key]; dup {
			return nil, fmt.Errorf("%s:%d: duplicate accession %q", path, lineNo, key)
		}
		t.entries[key] = strings.TrimSpace(desc)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading protein table %s: %w", path, err)
	}
	return t, nil
}

// FromMap builds a table from an existing mapping.
func FromMap(m map[string]string) *Table {
	t := &Table{entries: make(map[string]string, len(m))}
	for k, v := range m {
		t.entries[k] = v
	}
	return t
}

// Lookup returns the description for an accession.
func (t *Table) Lookup(accession string) (string, bool) {
	if t == nil {
		return "", false
	}
	d, ok := t.entries[accession]
	return d, ok
}

// Len returns the number of accessions.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns a copy of the mapping.
func (t *Table) Entries() map[string]string {
	out := make(map[string]string, t.Len())
	if t == nil {
		return out
	}
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Release drops the backing map so the garbage collector can reclaim it.
// Lookups after Release find nothing.
func (t *Table) Release() {
	if t != nil {
		t.entries = nil
	}
}
