package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/google/uuid"
	"github.com/nfnt/resize"

	"github.com/feichai0017/mutulens/internal/models"
)

const (
	thumbnailWidth  uint = 200
	thumbnailHeight uint = 300
)

// HandleFactory creates and releases display handles. Each asset owns exactly one live
// handle and must release it explicitly.
type HandleFactory interface {
	Create(data []byte) (models.Handle, error)
	Release(h models.Handle)
}

// ThumbnailHandles backs handles with in-memory JPEG thumbnail data URIs.
type ThumbnailHandles struct {
	mu      sync.RWMutex
	entries map[models.Handle]string
}

func NewThumbnailHandles() *ThumbnailHandles {
	return &ThumbnailHandles{entries: make(map[models.Handle]string)}
}

func (t *ThumbnailHandles) Create(data []byte) (models.Handle, error) {
	uri, err := thumbnail(data)
	if err != nil {
		return "", err
	}
	h := models.Handle("thumb:" + uuid.NewString())

	t.mu.Lock()
	t.entries[h] = uri
	t.mu.Unlock()
	return h, nil
}

// Release is a no-op for empty or unknown handles.
func (t *ThumbnailHandles) Release(h models.Handle) {
	if h == "" {
		return
	}
	t.mu.Lock()
	delete(t.entries, h)
	t.mu.Unlock()
}

// Resolve returns the data URI behind h.
func (t *ThumbnailHandles) Resolve(h models.Handle) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	uri, ok := t.entries[h]
	return uri, ok
}

// Live counts handles not yet released.
func (t *ThumbnailHandles) Live() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func thumbnail(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	var resized image.Image
	if img.Bounds().Dy() > img.Bounds().Dx() {
		resized = resize.Resize(thumbnailWidth, 0, img, resize.Lanczos3)
	} else {
		resized = resize.Resize(0, thumbnailHeight, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 75}); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
