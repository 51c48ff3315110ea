package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cubist/cubist/backend-go/internal/document"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLocatorDefaultTemplate(t *testing.T) {
	l := NewLocator("")
	tests := []struct {
		typ   document.ElementType
		index int
		want  string
	}{
		{document.ElementTypeHead, 1, "https://cdn.jsdelivr.net/gh/Ninja4554/Cubist-images/headShapes1.png"},
		{document.ElementTypeEyes, 15, "https://cdn.jsdelivr.net/gh/Ninja4554/Cubist-images/Eyes15.png"},
		{document.ElementTypeNoses, 3, "https://cdn.jsdelivr.net/gh/Ninja4554/Cubist-images/noses3.png"},
	}
	for _, tt := range tests {
		got, err := l.Locate(tt.typ, tt.index)
		if err != nil {
			t.Fatalf("Locate(%s, %d): %v", tt.typ, tt.index, err)
		}
		if got != tt.want {
			t.Errorf("Locate(%s, %d) = %q, want %q", tt.typ, tt.index, got, tt.want)
		}
	}
}

func TestLocatorRejectsOutOfRange(t *testing.T) {
	l := NewLocator("https://assets.test/{prefix}/{index}.webp")
	for _, tc := range []struct {
		typ   document.ElementType
		index int
	}{
		{document.ElementTypeHead, 0},
		{document.ElementTypeHead, 9},
		{document.ElementTypeEyes, 16},
		{document.ElementTypeSignature, 1},
	} {
		if _, err := l.Locate(tc.typ, tc.index); !errors.Is(err, ErrUnknownAsset) {
			t.Errorf("Locate(%s, %d) err = %v, want ErrUnknownAsset", tc.typ, tc.index, err)
		}
	}
	if got, _ := l.Locate(document.ElementTypeMisc, 11); got != "https://assets.test/misc/11.webp" {
		t.Errorf("custom template = %q", got)
	}
}

func TestDecodeDataURL(t *testing.T) {
	d := NewDecoder()
	src := DataURL("image/png", pngBytes(t, 3, 2, color.White))

	img, err := d.Decode(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Errorf("bounds = %v", b)
	}

	_, err = d.Decode(context.Background(), "data:image/png;base64,bm90IGFuIGltYWdl")
	if !errors.Is(err, ErrImageDecode) {
		t.Fatalf("err = %v, want ErrImageDecode", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || !strings.HasPrefix(de.Source, "data:") {
		t.Errorf("err = %#v, want DecodeError with source", err)
	}
	if strings.Contains(err.Error(), "bm90") {
		t.Errorf("error message leaks payload: %s", err)
	}
}

func TestDecodeRemoteUsesCORSWhenAllowed(t *testing.T) {
	body := pngBytes(t, 4, 4, color.Black)
	var plain atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Origin") == "" {
			plain.Add(1)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Write(body)
	}))
	defer srv.Close()

	d := NewDecoder(WithHTTPClient(srv.Client()), WithOrigin("https://editor.test"))
	if _, err := d.Decode(context.Background(), srv.URL+"/a.png"); err != nil {
		t.Fatal(err)
	}
	if plain.Load() != 0 {
		t.Errorf("plain fallback used %d times", plain.Load())
	}
}

func TestDecodeRemoteFallsBackWithoutCORS(t *testing.T) {
	body := pngBytes(t, 4, 4, color.Black)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(body)
	}))
	defer srv.Close()

	d := NewDecoder(WithHTTPClient(srv.Client()), WithOrigin("https://editor.test"))
	if _, err := d.Decode(context.Background(), srv.URL+"/a.png"); err != nil {
		t.Fatal(err)
	}
	if requests.Load() != 2 {
		t.Errorf("requests = %d, want cors attempt then fallback", requests.Load())
	}
}

func TestDecodeRemoteFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.png":
			http.NotFound(w, r)
		case "/slow.png":
			time.Sleep(200 * time.Millisecond)
		default:
			w.Write([]byte("<html>"))
		}
	}))
	defer srv.Close()

	d := NewDecoder(WithHTTPClient(srv.Client()), WithTimeout(50*time.Millisecond))
	for _, path := range []string{"/missing.png", "/slow.png", "/garbage.png"} {
		_, err := d.Decode(context.Background(), srv.URL+path)
		if !errors.Is(err, ErrImageDecode) {
			t.Errorf("%s: err = %v, want ErrImageDecode", path, err)
		}
	}
}

func TestReadUpload(t *testing.T) {
	up, err := ReadUpload(bytes.NewReader(pngBytes(t, 7, 5, color.White)), "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if up.Width != 7 || up.Height != 5 || !strings.HasPrefix(up.Src, "data:image/png;base64,") {
		t.Errorf("upload = %+v", up)
	}
	if !strings.HasPrefix(up.ID, "upl_") {
		t.Errorf("id = %q", up.ID)
	}

	if _, err := ReadUpload(strings.NewReader("GIF89a"), "image/gif"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("gif err = %v, want ErrUnsupportedType", err)
	}
	if _, err := ReadUpload(strings.NewReader("junk"), "image/jpeg"); !errors.Is(err, ErrImageDecode) {
		t.Errorf("junk err = %v, want ErrImageDecode", err)
	}
}

func TestUploadHandler(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="face.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(pngBytes(t, 2, 2, color.Black))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/assets/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	NewHandler(NewLocator("")).Upload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var up Upload
	if err := json.NewDecoder(rec.Body).Decode(&up); err != nil {
		t.Fatal(err)
	}
	if up.Name != "face.png" || up.Width != 2 {
		t.Errorf("upload = %+v", up)
	}
}

func TestCatalogHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(NewLocator("")).Catalog(rec, httptest.NewRequest(http.MethodGet, "/assets/catalog", nil))

	var entries []CatalogEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(document.CatalogTypes) {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Type != document.ElementTypeHead || len(entries[0].URLs) != 8 {
		t.Errorf("head entry = %+v", entries[0])
	}
}
