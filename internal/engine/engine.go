package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/cubist/cubist/backend-go/internal/document"
	"github.com/cubist/cubist/backend-go/internal/raster"
)

// ErrBufferNotMounted is reported internally when a commit or restore needs
// the ink buffer while no surface is attached. It is recovered by retrying.
var ErrBufferNotMounted = errors.New("raster buffer not mounted")

var ErrClosed = errors.New("engine closed")

type Options struct {
	Page              document.Page
	HistoryLimit      int
	RestoreRetryDelay time.Duration
	RestoreMaxRetries int
	Locator           AssetLocator
	// DecodeRaster parses a snapshot's serialized buffer. Defaults to raster.Decode.
	DecodeRaster func([]byte) (*image.NRGBA, error)
	Logger       *slog.Logger
	// OnChange is called after any visible state change, without the engine lock held.
	OnChange func()
}

func DefaultOptions() Options {
	return Options{
		Page:              document.DefaultPage,
		HistoryLimit:      DefaultHistoryLimit,
		RestoreRetryDelay: 100 * time.Millisecond,
		RestoreMaxRetries: 20,
	}
}

// Engine owns the scene, the ink surface and the history that keeps them in
// lockstep. It routes pointer input to either the surface or the element
// gesture controller and records a snapshot whenever a mutation completes.
// All methods are safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	opts    Options
	log     *slog.Logger
	scene   *Scene
	ctrl    *Controller
	history *History
	surface *raster.Surface
	drawing document.DrawingState

	// drawPointer owns the freehand stroke in progress.
	drawPointer int

	// pending holds commits made while no surface was mounted, oldest first.
	pending    [][]document.Element
	flushTimer *time.Timer
	flushTries int

	// restoring is set from an undo/redo until its ink lands in the surface.
	// Strokes cannot start meanwhile and commits take the target's ink.
	restoring  bool
	restoreGen uint64
	restored   chan struct{}

	restores sync.WaitGroup
	done     chan struct{}
	closed   bool
}

// New creates an engine with a blank surface mounted and the initial empty
// scene recorded as the first snapshot.
func New(opts Options) *Engine {
	def := DefaultOptions()
	if opts.Page.Width <= 0 || opts.Page.Height <= 0 {
		opts.Page = def.Page
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = def.HistoryLimit
	}
	if opts.RestoreRetryDelay <= 0 {
		opts.RestoreRetryDelay = def.RestoreRetryDelay
	}
	if opts.RestoreMaxRetries <= 0 {
		opts.RestoreMaxRetries = def.RestoreMaxRetries
	}
	if opts.DecodeRaster == nil {
		opts.DecodeRaster = raster.Decode
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		opts:    opts,
		log:     log,
		scene:   NewScene(opts.Page, opts.Locator),
		ctrl:    NewController(PageSize(opts.Page)),
		history: NewHistory(opts.HistoryLimit),
		drawing: document.DefaultDrawingState(),
		done:    make(chan struct{}),
	}
	e.surface = raster.New(opts.Page.Width, opts.Page.Height)
	e.surface.SetTool(e.toolLocked())
	e.commitLocked()
	return e
}

// Close stops pending retries and waits for in-flight restores.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.done)
		if e.flushTimer != nil {
			e.flushTimer.Stop()
			e.flushTimer = nil
		}
	}
	e.mu.Unlock()
	e.restores.Wait()
}

// Wait blocks until every in-flight snapshot restore has finished.
func (e *Engine) Wait() {
	e.restores.Wait()
}

func (e *Engine) Page() document.Page { return e.opts.Page }

// --- Surface lifecycle ---

// Mount attaches a surface and flushes commits queued while unmounted.
func (e *Engine) Mount(s *raster.Surface) {
	e.update(func() bool {
		e.surface = s
		s.SetTool(e.toolLocked())
		e.flushLocked(false)
		return true
	})
}

// Unmount detaches the surface. A stroke in progress is recorded first and
// a pending line is dropped.
func (e *Engine) Unmount() *raster.Surface {
	var s *raster.Surface
	e.update(func() bool {
		s = e.surface
		if s == nil {
			return false
		}
		if s.Reset() {
			e.commitLocked()
		}
		e.surface = nil
		return true
	})
	return s
}

func (e *Engine) Mounted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.surface != nil
}

// --- Pointer input ---

func (e *Engine) PointerDown(ev PointerEvent) {
	e.update(func() bool {
		p := ev.Point()
		if e.drawing.Drawing {
			if e.surface == nil {
				return false
			}
			if e.surface.State() == raster.StateStroke || e.restoring {
				return false
			}
			e.drawPointer = ev.PointerID
			if e.surface.PointerDown(p.X, p.Y) {
				e.commitLocked()
			}
			return true
		}

		if e.ctrl.Active() {
			return false
		}
		id, h := e.scene.HandleAt(p)
		if h == HandleNone {
			had := e.scene.Selected() != ""
			e.scene.ClearSelection()
			return had
		}
		e.scene.Select(id)
		el, _ := e.scene.Element(id)
		e.ctrl.Begin(el, h, ev.PointerID, p)
		return true
	})
}

func (e *Engine) PointerMove(ev PointerEvent) {
	e.update(func() bool {
		p := ev.Point()
		if e.drawing.Drawing {
			if e.surface == nil {
				return false
			}
			switch e.surface.State() {
			case raster.StateStroke:
				if ev.PointerID != e.drawPointer {
					return false
				}
			case raster.StateLinePending:
			default:
				return false
			}
			e.surface.PointerMove(p.X, p.Y)
			return true
		}

		patch, ok := e.ctrl.Move(ev.PointerID, p)
		if !ok {
			return false
		}
		return e.scene.UpdateElement(e.ctrl.ElementID(), patch)
	})
}

func (e *Engine) PointerUp(ev PointerEvent) {
	e.update(func() bool {
		if e.drawing.Drawing {
			if e.surface == nil || ev.PointerID != e.drawPointer {
				return false
			}
			if e.surface.PointerUp() {
				e.commitLocked()
				return true
			}
			return false
		}
		if _, ok := e.ctrl.End(ev.PointerID); ok {
			e.commitLocked()
			return true
		}
		return false
	})
}

// PointerLeave is handled like pointer-up so no mutation is dropped. A
// pending line survives since it waits for a second tap.
func (e *Engine) PointerLeave(ev PointerEvent) {
	e.PointerUp(ev)
}

// Gesture reports the active element gesture.
func (e *Engine) Gesture() GestureState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctrl.State()
}

// HandleKey dispatches editor shortcuts and reports whether the key was used.
func (e *Engine) HandleKey(k KeyEvent) bool {
	switch ResolveShortcut(k) {
	case ShortcutUndo:
		e.Undo()
		return true
	case ShortcutRedo:
		e.Redo()
		return true
	case ShortcutDelete:
		if e.Selected() == "" {
			return false
		}
		e.DeleteSelected()
		return true
	}
	return false
}

// --- Drawing state ---

func (e *Engine) DrawingState() document.DrawingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drawing
}

// SetDrawingState applies a toolbar change. Disabling drawing ends any
// stroke and drops a pending line; enabling it ends an element gesture.
func (e *Engine) SetDrawingState(s document.DrawingState) {
	e.update(func() bool {
		s = s.Normalize()
		e.drawing = s
		if e.surface != nil {
			e.surface.SetTool(e.toolLocked())
			if !s.Drawing && e.surface.Reset() {
				e.commitLocked()
			}
		}
		if s.Drawing && e.ctrl.Active() {
			e.ctrl.Reset()
			e.commitLocked()
		}
		return true
	})
}

func (e *Engine) toolLocked() raster.Tool {
	c, err := raster.ParseColor(e.drawing.Color)
	if err != nil {
		e.log.Warn("parse brush color", "color", e.drawing.Color, "error", err)
		c, _ = raster.ParseColor(document.DefaultColor)
	}
	return raster.Tool{
		Color:    c,
		Width:    float64(e.drawing.BrushSize),
		Erase:    e.drawing.Erasing,
		LineMode: e.drawing.LineMode,
	}
}

// --- Scene operations ---

func (e *Engine) AddElement(t document.ElementType, index int) (document.Element, error) {
	var (
		el  document.Element
		err error
	)
	e.update(func() bool {
		el, err = e.scene.AddElement(t, index)
		if err != nil {
			return false
		}
		e.commitLocked()
		return true
	})
	return el, err
}

func (e *Engine) AddUpload(src string) document.Element {
	var el document.Element
	e.update(func() bool {
		el = e.scene.AddUpload(src)
		e.commitLocked()
		return true
	})
	return el
}

func (e *Engine) AddSignature(text string) document.Element {
	var el document.Element
	e.update(func() bool {
		el = e.scene.AddSignature(text)
		e.commitLocked()
		return true
	})
	return el
}

func (e *Engine) UpdateElement(id string, p Patch) bool {
	return e.mutate(func() bool { return e.scene.UpdateElement(id, p) })
}

func (e *Engine) DeleteElement(id string) bool {
	return e.mutate(func() bool { return e.scene.DeleteElement(id) })
}

func (e *Engine) DeleteSelected() bool {
	return e.mutate(e.scene.DeleteSelected)
}

func (e *Engine) ToggleVisibility(id string) bool {
	return e.mutate(func() bool { return e.scene.ToggleVisibility(id) })
}

func (e *Engine) Reorder(id string, dir Direction) bool {
	return e.mutate(func() bool { return e.scene.Reorder(id, dir) })
}

// Select changes the selection without recording history.
func (e *Engine) Select(id string) bool {
	return e.update(func() bool {
		if e.scene.Selected() == id {
			return false
		}
		return e.scene.Select(id)
	})
}

func (e *Engine) ClearSelection() {
	e.update(func() bool {
		if e.scene.Selected() == "" {
			return false
		}
		e.scene.ClearSelection()
		return true
	})
}

// mutate runs a scene change and records a snapshot if it changed anything.
func (e *Engine) mutate(fn func() bool) bool {
	return e.update(func() bool {
		if e.ctrl.Active() {
			e.ctrl.Reset()
		}
		if !fn() {
			return false
		}
		e.commitLocked()
		return true
	})
}

// --- History ---

func (e *Engine) Undo() bool {
	return e.update(func() bool {
		e.flushLocked(true)
		snap, gen, ok := e.history.Undo()
		if !ok {
			return false
		}
		e.applyLocked(snap, gen)
		return true
	})
}

func (e *Engine) Redo() bool {
	return e.update(func() bool {
		e.flushLocked(true)
		snap, gen, ok := e.history.Redo()
		if !ok {
			return false
		}
		e.applyLocked(snap, gen)
		return true
	})
}

func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanUndo() || len(e.pending) > 0
}

func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) == 0 && e.history.CanRedo()
}

// applyLocked swaps in the snapshot's elements now and restores its ink in
// the background. The restore is tagged with gen and discarded if another
// undo or redo starts before it lands.
func (e *Engine) applyLocked(snap Snapshot, gen uint64) {
	e.ctrl.Reset()
	if e.surface != nil {
		e.surface.Reset()
	}
	e.scene.Replace(snap.Elements)

	if !e.restoring {
		e.restoring = true
		e.restored = make(chan struct{})
	}
	e.restoreGen = gen
	e.restores.Add(1)
	go e.restore(snap.Raster, gen)
}

func (e *Engine) restore(data []byte, gen uint64) {
	defer e.restores.Done()

	for attempt := 0; ; attempt++ {
		var img *image.NRGBA
		var err error
		if len(data) > 0 {
			img, err = e.opts.DecodeRaster(data)
		}

		done, err := e.applyRestore(img, err, gen)
		if done {
			return
		}
		if attempt >= e.opts.RestoreMaxRetries {
			e.log.Error("restore snapshot raster", "generation", gen, "attempts", attempt+1, "error", err)
			e.abandonRestore(gen)
			return
		}
		e.log.Debug("retry snapshot restore", "generation", gen, "attempt", attempt+1, "error", err)

		select {
		case <-time.After(e.opts.RestoreRetryDelay):
		case <-e.done:
			return
		}
	}
}

// applyRestore writes a decoded snapshot into the surface. done is true when
// the restore landed or became stale; otherwise err says why to retry.
func (e *Engine) applyRestore(img *image.NRGBA, decodeErr error, gen uint64) (done bool, err error) {
	e.mu.Lock()
	if gen != e.restoreGen {
		e.mu.Unlock()
		e.log.Debug("discard stale snapshot restore", "generation", gen)
		return true, nil
	}
	if decodeErr != nil {
		e.mu.Unlock()
		return false, decodeErr
	}
	if e.surface == nil {
		e.mu.Unlock()
		return false, fmt.Errorf("restore generation %d: %w", gen, ErrBufferNotMounted)
	}
	if img == nil {
		e.surface.Clear()
	} else {
		e.surface.Load(img)
	}
	e.finishRestoreLocked()
	e.mu.Unlock()
	e.notify()
	return true, nil
}

func (e *Engine) finishRestoreLocked() {
	if e.restoring {
		e.restoring = false
		close(e.restored)
	}
}

// abandonRestore clears ink left from another snapshot once a restore has
// run out of retries.
func (e *Engine) abandonRestore(gen uint64) {
	e.mu.Lock()
	if gen != e.restoreGen {
		e.mu.Unlock()
		return
	}
	cleared := e.surface != nil && !e.surface.Empty()
	if cleared {
		e.surface.Clear()
	}
	e.finishRestoreLocked()
	e.mu.Unlock()
	if cleared {
		e.notify()
	}
}

// commitLocked records the current scene and ink. Without a surface the
// commit is queued; queued commits land in order before any later one.
func (e *Engine) commitLocked() {
	elements := e.scene.Elements()
	if e.surface == nil || len(e.pending) > 0 {
		e.pending = append(e.pending, elements)
		e.scheduleFlushLocked()
		return
	}
	e.history.Commit(Snapshot{Elements: elements, Raster: e.inkLocked()})
}

// flushLocked records queued commits once a surface is mounted, or right
// away with force set.
func (e *Engine) flushLocked(force bool) {
	if len(e.pending) == 0 {
		return
	}
	if e.surface == nil && !force {
		return
	}
	// Nothing draws while unmounted, so queued commits share the ink of the
	// entry they follow.
	data := e.history.Current().Raster
	e.log.Debug("record queued snapshots", "count", len(e.pending))
	for _, elements := range e.pending {
		e.history.Commit(Snapshot{Elements: elements, Raster: data})
	}
	e.pending = nil
	e.flushTries = 0
	if e.flushTimer != nil {
		e.flushTimer.Stop()
		e.flushTimer = nil
	}
}

func (e *Engine) scheduleFlushLocked() {
	if e.flushTimer != nil || e.closed {
		return
	}
	e.flushTimer = time.AfterFunc(e.opts.RestoreRetryDelay, e.retryFlush)
}

func (e *Engine) retryFlush() {
	e.update(func() bool {
		e.flushTimer = nil
		if e.closed || len(e.pending) == 0 {
			return false
		}
		e.flushTries++
		switch {
		case e.surface != nil:
			e.flushLocked(false)
		case e.flushTries >= e.opts.RestoreMaxRetries:
			e.flushLocked(true)
		default:
			e.scheduleFlushLocked()
			return false
		}
		return true
	})
}

// inkLocked returns the serialized ink for a commit. While a restore is in
// flight the surface still shows the old snapshot, so the target's ink is
// reused.
func (e *Engine) inkLocked() []byte {
	if e.restoring {
		return e.history.Current().Raster
	}
	return e.encodeLocked()
}

func (e *Engine) encodeLocked() []byte {
	if e.surface.Empty() {
		return nil
	}
	data, err := e.surface.Encode()
	if err != nil {
		e.log.Error("encode raster buffer", "error", err)
		return nil
	}
	return data
}

// --- Queries ---

// State is a point-in-time view of the editor for hosts.
type State struct {
	Page     document.Page         `json:"page"`
	Elements []document.Element    `json:"elements"`
	Layers   []document.Layer      `json:"layers"`
	Selected string                `json:"selected,omitempty"`
	Drawing  document.DrawingState `json:"drawing"`
	Gesture  string                `json:"gesture"`
	Surface  string                `json:"surface"`
	CanUndo  bool                  `json:"canUndo"`
	CanRedo  bool                  `json:"canRedo"`
	History  HistoryState          `json:"history"`
}

type HistoryState struct {
	Len       int  `json:"len"`
	Cursor    int  `json:"cursor"`
	Pending   int  `json:"pending"`
	Restoring bool `json:"restoring"`
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	surface := "unmounted"
	if e.surface != nil {
		surface = e.surface.State().String()
	}
	return State{
		Page:     e.opts.Page,
		Elements: e.scene.Elements(),
		Layers:   document.Layers(e.scene.elements, e.scene.Selected()),
		Selected: e.scene.Selected(),
		Drawing:  e.drawing,
		Gesture:  e.ctrl.State().String(),
		Surface:  surface,
		CanUndo:  e.history.CanUndo() || len(e.pending) > 0,
		CanRedo:  len(e.pending) == 0 && e.history.CanRedo(),
		History: HistoryState{
			Len:       e.history.Len(),
			Cursor:    e.history.Cursor(),
			Pending:   len(e.pending),
			Restoring: e.restoring,
		},
	}
}

// Elements returns a copy of the element list, back to front.
func (e *Engine) Elements() []document.Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scene.Elements()
}

func (e *Engine) Element(id string) (document.Element, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scene.Element(id)
}

func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scene.Selected()
}

// Raster returns a copy of the ink buffer.
func (e *Engine) Raster() (*image.NRGBA, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.surface == nil {
		return nil, ErrBufferNotMounted
	}
	return e.surface.Image(), nil
}

// Capture returns the element list and a copy of the ink buffer as one
// consistent view, waiting for an in-flight snapshot restore to land. ink is
// nil when no surface is mounted.
func (e *Engine) Capture(ctx context.Context) ([]document.Element, *image.NRGBA, error) {
	for {
		e.mu.Lock()
		if !e.restoring {
			elements := e.scene.Elements()
			var ink *image.NRGBA
			if e.surface != nil {
				ink = e.surface.Image()
			}
			e.mu.Unlock()
			return elements, ink, nil
		}
		wait := e.restored
		e.mu.Unlock()

		select {
		case <-wait:
		case <-e.done:
			return nil, nil, ErrClosed
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

// RasterPNG returns the ink buffer serialized as PNG.
func (e *Engine) RasterPNG() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.surface == nil {
		return nil, ErrBufferNotMounted
	}
	return e.surface.Encode()
}

// Preview returns the dashed line overlay, or nil when no line is pending.
func (e *Engine) Preview() image.Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.surface == nil {
		return nil
	}
	return e.surface.Preview()
}

// Render returns the current draw command list as JSON.
func (e *Engine) Render() string {
	e.mu.Lock()
	commands := CompileDrawCommands(e.scene.elements, e.scene.Selected(), e.surface != nil && e.surface.State() == raster.StateLinePending)
	e.mu.Unlock()

	result, err := DrawCommandsToJSON(commands)
	if err != nil {
		e.log.Error("marshal draw commands", "error", err)
	}
	return result
}

func (e *Engine) update(fn func() bool) bool {
	e.mu.Lock()
	changed := fn()
	e.mu.Unlock()
	if changed {
		e.notify()
	}
	return changed
}

func (e *Engine) notify() {
	if e.opts.OnChange != nil {
		e.opts.OnChange()
	}
}
