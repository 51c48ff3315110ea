//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"syscall/js"

	"github.com/cubist/cubist/backend-go/internal/asset"
	"github.com/cubist/cubist/backend-go/internal/collab"
	"github.com/cubist/cubist/backend-go/internal/engine"
	"github.com/cubist/cubist/backend-go/internal/export"
	"github.com/cubist/cubist/backend-go/internal/raster"
)

var (
	eng      *engine.Engine
	exporter *export.Exporter
	onChange js.Value
	detached *raster.Surface
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})))

	opts := engine.DefaultOptions()
	opts.Locator = asset.NewLocator("")
	opts.OnChange = notifyChange
	eng = engine.New(opts)

	compositor, err := export.NewCompositor(opts.Page, asset.NewDecoder())
	if err != nil {
		slog.Error("create compositor", "error", err)
		return
	}
	exporter = export.NewExporter(compositor, export.FormatJPEG, export.DefaultQuality)

	// Create the engine API object
	cubistEngine := js.Global().Get("Object").New()

	// --- Input (frontend → engine) ---
	cubistEngine.Set("pointerDown", js.FuncOf(pointerDown))
	cubistEngine.Set("pointerMove", js.FuncOf(pointerMove))
	cubistEngine.Set("pointerUp", js.FuncOf(pointerUp))
	cubistEngine.Set("pointerLeave", js.FuncOf(pointerLeave))
	cubistEngine.Set("keyDown", js.FuncOf(keyDown))
	cubistEngine.Set("dispatch", js.FuncOf(dispatch))

	// --- Surface lifecycle ---
	cubistEngine.Set("mount", js.FuncOf(mount))
	cubistEngine.Set("unmount", js.FuncOf(unmount))

	// --- History ---
	cubistEngine.Set("undo", js.FuncOf(undo))
	cubistEngine.Set("redo", js.FuncOf(redo))

	// --- Queries (frontend ← engine) ---
	cubistEngine.Set("render", js.FuncOf(render))
	cubistEngine.Set("getState", js.FuncOf(getState))
	cubistEngine.Set("getRaster", js.FuncOf(getRaster))
	cubistEngine.Set("exportImage", js.FuncOf(exportImage))
	cubistEngine.Set("onChange", js.FuncOf(setOnChange))

	// Register on global scope
	js.Global().Set("cubistEngine", cubistEngine)

	// Signal that WASM is ready
	js.Global().Set("cubistWasmReady", js.ValueOf(true))

	// Keep Go runtime alive
	select {}
}

func notifyChange() {
	if onChange.Type() == js.TypeFunction {
		onChange.Invoke()
	}
}

func setOnChange(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || args[0].Type() != js.TypeFunction {
		onChange = js.Undefined()
		return nil
	}
	onChange = args[0]
	return nil
}

// pointerArgs reads (x, y[, pointerId]) in page coordinates.
func pointerArgs(args []js.Value) (engine.PointerEvent, bool) {
	if len(args) < 2 {
		return engine.PointerEvent{}, false
	}
	ev := engine.PointerEvent{X: args[0].Float(), Y: args[1].Float()}
	if len(args) > 2 && args[2].Type() == js.TypeNumber {
		ev.PointerID = args[2].Int()
	}
	return ev, true
}

func pointerDown(this js.Value, args []js.Value) interface{} {
	if ev, ok := pointerArgs(args); ok {
		eng.PointerDown(ev)
	}
	return nil
}

func pointerMove(this js.Value, args []js.Value) interface{} {
	if ev, ok := pointerArgs(args); ok {
		eng.PointerMove(ev)
	}
	return nil
}

func pointerUp(this js.Value, args []js.Value) interface{} {
	if ev, ok := pointerArgs(args); ok {
		eng.PointerUp(ev)
	}
	return nil
}

func pointerLeave(this js.Value, args []js.Value) interface{} {
	if ev, ok := pointerArgs(args); ok {
		eng.PointerLeave(ev)
	}
	return nil
}

// keyDown takes the KeyboardEvent and reports whether the editor consumed
// it, so the page can call preventDefault.
func keyDown(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || args[0].Type() != js.TypeObject {
		return js.ValueOf(false)
	}
	ev := args[0]
	k := engine.KeyEvent{
		Key:   ev.Get("key").String(),
		Ctrl:  ev.Get("ctrlKey").Truthy(),
		Meta:  ev.Get("metaKey").Truthy(),
		Shift: ev.Get("shiftKey").Truthy(),
	}
	if len(args) > 1 {
		k.Typing = args[1].Truthy()
	}
	return js.ValueOf(eng.HandleKey(k))
}

// dispatch runs a protocol message, the same ones the websocket accepts,
// and returns the reply as JSON.
func dispatch(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorValue("missing message JSON")
	}
	var msg collab.Message
	if err := json.Unmarshal([]byte(args[0].String()), &msg); err != nil {
		return errorValue(err.Error())
	}
	reply, err := collab.Apply(eng, &msg)
	if err != nil {
		return errorValue(err.Error())
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return errorValue(err.Error())
	}
	return js.ValueOf(string(data))
}

// mount reattaches the canvas surface, keeping its ink if it was detached
// earlier.
func mount(this js.Value, args []js.Value) interface{} {
	if eng.Mounted() {
		return nil
	}
	s := detached
	if s == nil {
		page := eng.Page()
		s = raster.New(page.Width, page.Height)
	}
	detached = nil
	eng.Mount(s)
	return nil
}

func unmount(this js.Value, args []js.Value) interface{} {
	if s := eng.Unmount(); s != nil {
		detached = s
	}
	return nil
}

func undo(this js.Value, args []js.Value) interface{} {
	return js.ValueOf(eng.Undo())
}

func redo(this js.Value, args []js.Value) interface{} {
	return js.ValueOf(eng.Redo())
}

func render(this js.Value, args []js.Value) interface{} {
	return js.ValueOf(eng.Render())
}

func getState(this js.Value, args []js.Value) interface{} {
	data, err := json.Marshal(eng.State())
	if err != nil {
		return errorValue(err.Error())
	}
	return js.ValueOf(string(data))
}

// getRaster returns the ink layer as PNG bytes, or null while unmounted.
func getRaster(this js.Value, args []js.Value) interface{} {
	data, err := eng.RasterPNG()
	if err != nil {
		return js.Null()
	}
	return bytesValue(data)
}

// exportImage flattens the page and resolves to {filename, contentType,
// data}. Format and quality may be passed as arguments.
func exportImage(this js.Value, args []js.Value) interface{} {
	x := exporter
	if len(args) > 0 && args[0].Type() == js.TypeString {
		f, err := export.ParseFormat(args[0].String())
		if err != nil {
			return rejected(err.Error())
		}
		quality := export.DefaultQuality
		if len(args) > 1 && args[1].Type() == js.TypeNumber {
			quality = args[1].Int()
		}
		x = exporter.WithFormat(f, quality)
	}

	handler := js.FuncOf(func(this js.Value, p []js.Value) interface{} {
		resolve, reject := p[0], p[1]
		go func() {
			sink := export.SinkFunc(func(_ context.Context, r export.Result) error {
				obj := js.Global().Get("Object").New()
				obj.Set("id", r.ID)
				obj.Set("filename", r.Filename)
				obj.Set("contentType", r.ContentType)
				obj.Set("data", bytesValue(r.Data))
				resolve.Invoke(obj)
				return nil
			})
			if _, err := x.ExportTo(context.Background(), eng, sink); err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
			}
		}()
		return nil
	})
	defer handler.Release()
	return js.Global().Get("Promise").New(handler)
}

func bytesValue(data []byte) js.Value {
	arr := js.Global().Get("Uint8Array").New(len(data))
	js.CopyBytesToJS(arr, data)
	return arr
}

func errorValue(msg string) js.Value {
	return js.ValueOf(map[string]interface{}{"error": msg})
}

func rejected(msg string) js.Value {
	return js.Global().Get("Promise").Call("reject", js.Global().Get("Error").New(msg))
}
