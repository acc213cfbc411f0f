// Package overlay defines the narrow interface PathResolver uses to defer
// to the overlay-library mechanism without depending on how it is
// populated. The mechanism's internals are an external collaborator and
// out of scope here; grounded on
// original_source/src/felix86/common/overlay.cpp's addOverlay/isOverlay.
package overlay

// Resolver answers whether a guest-visible path names a library felix86
// has an overlay replacement for. PathResolver calls IsOverlay before
// opening a path and, on a match, returns hostPath as the resolved host
// path without joining it to the rootfs; it is otherwise agnostic to how
// overlays are registered.
type Resolver interface {
	IsOverlay(path string) (hostPath string, ok bool)
}

// Entry pairs a library filename with the host path that should replace
// any guest reference to it, mirroring the original's Overlay struct
// (lib_name, overlayed_path).
type Entry struct {
	LibName       string
	OverlayedPath string
}

// Table is a simple in-memory Resolver: a list of entries matched by
// filename only. It does not inspect ELF class (32 vs 64-bit) the way
// the original's isOverlay does, because that check belongs to the ELF
// loader, which is out of scope for this repository; callers that care
// about guest bitness should filter Entries themselves before
// registering them.
type Table struct {
	entries []Entry
}

// NewTable returns an empty overlay table.
func NewTable() *Table {
	return &Table{}
}

// Add registers an overlay mapping from a library filename to a host
// replacement path.
func (t *Table) Add(libName, overlayedPath string) {
	t.entries = append(t.entries, Entry{LibName: libName, OverlayedPath: overlayedPath})
}

// IsOverlay reports whether path's filename matches a registered overlay
// entry, returning its replacement host path.
func (t *Table) IsOverlay(path string) (string, bool) {
	name := filename(path)
	for _, e := range t.entries {
		if e.LibName == name {
			return e.OverlayedPath, true
		}
	}
	return "", false
}

func filename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
