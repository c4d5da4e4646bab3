package faceid

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"iter"
	"slices"
	"sync"
	"testing"

	"github.com/andresmejia3/checkmates/internal/blob"
	"github.com/andresmejia3/checkmates/internal/types"
)

// pngImage returns a small valid PNG whose bytes differ per shade.
func pngImage(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.SetGray(0, 0, color.Gray{Y: shade ^ 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// fakeExtractor maps image bytes to a fixed embedding. Unknown images have no face.
type fakeExtractor struct {
	mu    sync.Mutex
	vecs  map[string]types.Embedding
	fail  map[string]error
	calls int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{vecs: map[string]types.Embedding{}, fail: map[string]error{}}
}

func (f *fakeExtractor) set(image []byte, vec ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vecs[string(image)] = vec
}

func (f *fakeExtractor) DetectFaces(_ context.Context, image []byte) ([]types.FaceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.fail[string(image)]; ok {
		return nil, err
	}
	vec, ok := f.vecs[string(image)]
	if !ok {
		return nil, nil
	}
	return []types.FaceResult{{Loc: []int{0, 4, 4, 0}, Vec: vec, Quality: 1}}, nil
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memStore is an in-memory blob.Store that lists in name order.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	listErr error
	getErr  map[string]error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, getErr: map[string]error{}}
}

func (m *memStore) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	m.objects[name] = slices.Clone(data)
	return "mem://" + name, nil
}

func (m *memStore) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.getErr[name]; ok {
		return nil, err
	}
	data, ok := m.objects[name]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return slices.Clone(data), nil
}

func (m *memStore) List(_ context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if m.listErr != nil {
			yield("", m.listErr)
			return
		}
		m.mu.Lock()
		var names []string
		for name := range m.objects {
			if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
				names = append(names, name)
			}
		}
		m.mu.Unlock()
		slices.Sort(names)
		for _, name := range names {
			if !yield(name, nil) {
				return
			}
		}
	}
}

func (m *memStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// memLedger records appended events.
type memLedger struct {
	mu     sync.Mutex
	events []types.AttendanceEvent
	err    error
}

func (l *memLedger) AppendEvent(_ context.Context, ev types.AttendanceEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.events = append(l.events, ev)
	return nil
}

func (l *memLedger) Events() []types.AttendanceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// entriesOf builds an enumeration from fixed entries.
func entriesOf(entries ...types.GalleryEntry) iter.Seq2[types.GalleryEntry, error] {
	return func(yield func(types.GalleryEntry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func entry(key string) types.GalleryEntry {
	return types.GalleryEntry{Key: key, Name: BlobName(key), Image: []byte(key)}
}

var errBoom = errors.New("boom")
