package engine

import "github.com/cubist/cubist/backend-go/internal/document"

// DefaultHistoryLimit is the number of snapshots kept before the oldest is evicted.
const DefaultHistoryLimit = 50

// Snapshot is one undo step: the element list and the serialized ink buffer.
// A nil Raster means the buffer was empty or absent.
type Snapshot struct {
	Elements []document.Element
	Raster   []byte
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{Elements: document.CloneElements(s.Elements), Raster: s.Raster}
}

// History is a bounded linear undo list with a cursor. The generation
// counter changes on every cursor move so async restores can detect that
// they have been superseded.
type History struct {
	entries    []Snapshot
	cursor     int
	limit      int
	generation uint64
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{cursor: -1, limit: limit}
}

// Commit records s after the cursor, dropping any redo tail, and evicts the
// oldest entry when over the limit.
func (h *History) Commit(s Snapshot) {
	h.entries = append(h.entries[:h.cursor+1], s.clone())
	h.cursor++
	if len(h.entries) > h.limit {
		h.entries[0] = Snapshot{}
		h.entries = h.entries[1:]
		h.cursor--
	}
	h.generation++
}

// Undo steps back one entry. ok is false at the first entry.
func (h *History) Undo() (snap Snapshot, generation uint64, ok bool) {
	if !h.CanUndo() {
		return Snapshot{}, h.generation, false
	}
	h.cursor--
	h.generation++
	return h.entries[h.cursor].clone(), h.generation, true
}

// Redo steps forward one entry. ok is false at the last entry.
func (h *History) Redo() (snap Snapshot, generation uint64, ok bool) {
	if !h.CanRedo() {
		return Snapshot{}, h.generation, false
	}
	h.cursor++
	h.generation++
	return h.entries[h.cursor].clone(), h.generation, true
}

// Current returns the snapshot at the cursor, or an empty one when none.
func (h *History) Current() Snapshot {
	if h.cursor < 0 {
		return Snapshot{}
	}
	return h.entries[h.cursor]
}

func (h *History) CanUndo() bool { return h.cursor > 0 }

func (h *History) CanRedo() bool { return h.cursor >= 0 && h.cursor < len(h.entries)-1 }

// Len returns the number of retained snapshots.
func (h *History) Len() int { return len(h.entries) }

// Cursor returns the index of the current snapshot, or -1 when empty.
func (h *History) Cursor() int { return h.cursor }

func (h *History) Generation() uint64 { return h.generation }

// IsCurrent reports whether no cursor move happened since generation.
func (h *History) IsCurrent(generation uint64) bool { return h.generation == generation }
