package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/MrCodeEU/facelogin/pkg/blob"
	"github.com/MrCodeEU/facelogin/pkg/normalizer"
	"github.com/MrCodeEU/facelogin/pkg/recognition"
	"github.com/MrCodeEU/facelogin/pkg/storage"
)

// passthroughNormalizer returns the upload unchanged, except for the
// literal "garbage" which fails to decode.
type passthroughNormalizer struct{}

func (passthroughNormalizer) Normalize(raw []byte) (*normalizer.Image, error) {
	if string(raw) == "garbage" {
		return nil, normalizer.ErrDecode
	}
	return &normalizer.Image{Data: raw}, nil
}

// fakeEncoder reads the image as a script:
//
//	face:<v>  embedding with first component v
//	noface    ErrNoFaceDetected
//	boom      ErrEncoding
//	short     a two-component embedding
type fakeEncoder struct {
	mu      sync.Mutex
	version string
	calls   int
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{version: "fake/v1"}
}

func (f *fakeEncoder) Encode(img *normalizer.Image) (recognition.Embedding, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	data := string(img.Data)
	switch {
	case data == "noface":
		return nil, recognition.ErrNoFaceDetected
	case data == "boom":
		return nil, recognition.ErrEncoding
	case data == "short":
		return recognition.Embedding{1, 2}, nil
	case strings.HasPrefix(data, "face:"):
		v, err := strconv.ParseFloat(strings.TrimPrefix(data, "face:"), 32)
		if err != nil {
			return nil, recognition.ErrEncoding
		}
		e := make(recognition.Embedding, recognition.Dimension)
		e[0] = float32(v)
		return e, nil
	default:
		return nil, recognition.ErrNoFaceDetected
	}
}

func (f *fakeEncoder) Version() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

func (f *fakeEncoder) setVersion(v string) {
	f.mu.Lock()
	f.version = v
	f.mu.Unlock()
}

func (f *fakeEncoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// trackingBlobs wraps a blob.Store, recording ephemeral writes and
// optionally failing deletes.
type trackingBlobs struct {
	*blob.Store

	mu         sync.Mutex
	ephemeral  map[string]bool
	puts       int
	failDelete bool
}

func newTrackingBlobs(s *blob.Store) *trackingBlobs {
	return &trackingBlobs{Store: s, ephemeral: make(map[string]bool)}
}

func (b *trackingBlobs) PutEphemeral(ctx context.Context, identity string, data []byte) (string, error) {
	key, err := b.Store.PutEphemeral(ctx, identity, data)
	b.mu.Lock()
	b.puts++
	b.ephemeral[key] = true
	b.mu.Unlock()
	return key, err
}

func (b *trackingBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	fail := b.failDelete
	b.mu.Unlock()
	if fail {
		return errors.New("delete failed")
	}
	return b.Store.Delete(ctx, key)
}

func (b *trackingBlobs) ephemeralPuts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts
}

// leftoverEphemeral returns ephemeral keys still present in the bucket.
func (b *trackingBlobs) leftoverEphemeral(ctx context.Context) []string {
	b.mu.Lock()
	keys := make([]string, 0, len(b.ephemeral))
	for k := range b.ephemeral {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	var left []string
	for _, k := range keys {
		if ok, _ := b.Store.Exists(ctx, k); ok {
			left = append(left, k)
		}
	}
	return left
}

// vanishingStore loses pending records before they are finalized, as an
// expired Redis key would.
type vanishingStore struct {
	*storage.MemoryStore
	lost storage.Identity
}

func (v *vanishingStore) AttachReference(ctx context.Context, id storage.Identity, _ storage.Reference) error {
	v.lost = id
	if err := v.MemoryStore.Delete(ctx, id); err != nil {
		return err
	}
	return storage.ErrNotFound
}
