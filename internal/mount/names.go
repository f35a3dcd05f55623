package mount

import (
	"errors"
	"strings"
	"syscall"

	"github.com/cespare/xxhash/v2"

	"github.com/solwind/snipsync/internal/catalog"
	"github.com/solwind/snipsync/internal/records"
)

const fileExt = ".html"

// Entry is one name inside a mounted directory.
type Entry struct {
	Name string
	Key  string
	Dir  bool
}

// Entries names the children of one directory. Categories and
// subcategories become directories under their display name; snippets
// become <label>.html files. Clashing names get the record id appended.
func Entries(nodes []catalog.Node) []Entry {
	out := make([]Entry, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Entry{Name: baseName(n), Key: n.Key, Dir: n.Expandable()})
	}
	counts := make(map[string]int, len(out))
	for _, e := range out {
		counts[e.Name]++
	}
	for i, n := range nodes {
		if counts[out[i].Name] > 1 {
			out[i].Name = disambiguate(out[i].Name, n.ID, out[i].Dir)
		}
	}
	return out
}

// Find returns the entry called name.
func Find(entries []Entry, name string) (Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

func baseName(n catalog.Node) string {
	if n.Kind == catalog.KindSnippet {
		label := sanitize(n.Label)
		if label == "" {
			label = sanitize(n.ID)
		}
		return label + fileExt
	}
	name := sanitize(catalog.DisplayName(n.Name))
	if name == "" {
		return sanitize(n.ID)
	}
	return name
}

func disambiguate(name, id string, dir bool) string {
	id = sanitize(id)
	if dir {
		return name + " (" + id + ")"
	}
	return strings.TrimSuffix(name, fileExt) + " (" + id + ")" + fileExt
}

func sanitize(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "/", "_"))
	s = strings.ReplaceAll(s, "\x00", "")
	if s == "." || s == ".." {
		return "_" + s
	}
	return s
}

// inode derives a stable inode number from a node key.
func inode(key string) uint64 {
	ino := xxhash.Sum64String(key)
	if ino < 2 {
		ino += 2
	}
	return ino
}

func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, records.ErrNotFound), errors.Is(err, catalog.ErrUnknownNode):
		return syscall.ENOENT
	case errors.Is(err, records.ErrAuth):
		return syscall.EACCES
	case errors.Is(err, catalog.ErrNotSnippet):
		return syscall.EISDIR
	default:
		return syscall.EIO
	}
}
