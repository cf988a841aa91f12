package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrCodeEU/facelogin/pkg/blob"
	"github.com/MrCodeEU/facelogin/pkg/config"
	"github.com/MrCodeEU/facelogin/pkg/storage"
	"github.com/MrCodeEU/facelogin/pkg/storage/redisstore"
	"github.com/MrCodeEU/facelogin/pkg/storage/storagetest"
)

type testEnv struct {
	dir        string
	configPath string
	redisURL   string
	blobURL    string
}

func newTestEnv(t *testing.T, driver string) *testEnv {
	t.Helper()
	mini := miniredis.RunT(t)
	dir := t.TempDir()

	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "facelogin.yaml"),
		redisURL:   "redis://" + mini.Addr(),
		blobURL:    "file://" + filepath.Join(dir, "blobs"),
	}

	yaml := fmt.Sprintf(`storage:
  driver: %s
  redis_url: %s
blob:
  url: %s
  encryption_key: test-secret
recognition:
  model_path: %s
password:
  bcrypt_cost: 4
logging:
  level: error
  file: ""
`, driver, env.redisURL, env.blobURL, filepath.Join(dir, "models"))
	require.NoError(t, os.WriteFile(env.configPath, []byte(yaml), 0600))
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// seed registers an active user directly through the stores.
func (e *testEnv) seed(t *testing.T, username string) string {
	t.Helper()
	ctx := context.Background()

	rc := redisstore.DefaultConfig()
	rc.URL = e.redisURL
	store, err := redisstore.New(rc)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, os.MkdirAll(filepath.Join(e.dir, "blobs"), 0700))
	blobs, err := blob.Open(ctx, e.blobURL, blob.Options{Encrypt: true, Secret: "test-secret"})
	require.NoError(t, err)
	defer func() { _ = blobs.Close() }()

	id, err := store.Create(ctx, username, "hash")
	require.NoError(t, err)
	handle, err := blobs.PutReference(ctx, string(id), []byte("jpeg"))
	require.NoError(t, err)
	require.NoError(t, store.AttachReference(ctx, id, storage.Reference{
		Handle:         handle,
		Embedding:      storagetest.TestEmbedding(0.1),
		EncoderVersion: "test",
	}))
	return handle
}

func (e *testEnv) blobExists(t *testing.T, key string) bool {
	t.Helper()
	blobs, err := blob.Open(context.Background(), e.blobURL, blob.Options{})
	require.NoError(t, err)
	defer func() { _ = blobs.Close() }()
	ok, err := blobs.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestVersion(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "facelogin v"+version)
}

func TestConfigCommand(t *testing.T) {
	env := newTestEnv(t, "redis")

	out, err := env.run(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "driver: redis")
	assert.Contains(t, out, env.redisURL)
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnv(t, "sqlite")

	_, err := env.run(t, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestMissingConfigFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "list"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestListAndRemove(t *testing.T) {
	env := newTestEnv(t, "redis")

	out, err := env.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No users registered.")

	handle := env.seed(t, "alice")
	env.seed(t, "bob")
	assert.True(t, env.blobExists(t, handle))

	out, err = env.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "Total: 2 user(s)")

	out, err = env.run(t, "remove", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "User 'alice' has been removed.")
	assert.False(t, env.blobExists(t, handle), "reference image should be deleted")

	out, err = env.run(t, "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "alice")
	assert.Contains(t, out, "Total: 1 user(s)")
}

func TestRemove_UnknownUser(t *testing.T) {
	env := newTestEnv(t, "redis")

	_, err := env.run(t, "remove", "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "User not found")
}

func TestRegister_FlagErrors(t *testing.T) {
	env := newTestEnv(t, "memory")
	t.Setenv("FACELOGIN_PASSWORD", "")

	_, err := env.run(t, "register", "alice", "--password", "pw")
	require.Error(t, err, "--image is required")

	_, err = env.run(t, "register", "alice", "--image", filepath.Join(env.dir, "none.jpg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FACELOGIN_PASSWORD")

	_, err = env.run(t, "login", "alice", "--password", "pw", "--image", filepath.Join(env.dir, "none.jpg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read image")

	_, err = env.run(t, "login")
	require.Error(t, err, "username argument is required")
}

func TestOneShotCommandsNeedPersistentStore(t *testing.T) {
	env := newTestEnv(t, "memory")
	image := filepath.Join(env.dir, "face.jpg")
	require.NoError(t, os.WriteFile(image, []byte("jpeg"), 0600))

	for _, args := range [][]string{
		{"register", "alice", "--password", "pw", "--image", image},
		{"login", "alice", "--password", "pw", "--image", image},
		{"remove", "alice"},
		{"list"},
	} {
		t.Run(args[0], func(t *testing.T) {
			_, err := env.run(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "needs a persistent store")
		})
	}

	_, err := os.Stat(filepath.Join(env.dir, "blobs", "references"))
	assert.True(t, os.IsNotExist(err), "no reference image may be written")
}

func TestBlobURL_FollowsDriver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Blob.URL = "file:///var/lib/facelogin/images"

	cfg.Storage.Driver = "memory"
	assert.Equal(t, "mem://", blobURL(cfg))

	for _, driver := range []string{"redis", "mongo"} {
		cfg.Storage.Driver = driver
		assert.Equal(t, cfg.Blob.URL, blobURL(cfg), driver)
	}
}

func TestServe_WithoutModels(t *testing.T) {
	env := newTestEnv(t, "memory")

	_, err := env.run(t, "serve", "--port", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download-models")
}

func TestDownloadModels_SkipsExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected download of %s", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	setModelBaseURL(t, srv.URL+"/")

	dir := t.TempDir()
	for _, name := range modelFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("model"), 0644))
	}

	require.NoError(t, downloadModels(context.Background(), dir))
}

func TestDownloadModels_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	setModelBaseURL(t, srv.URL+"/")

	dir := t.TempDir()
	err := downloadModels(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad status")

	_, statErr := os.Stat(filepath.Join(dir, modelFiles[0]))
	assert.True(t, os.IsNotExist(statErr), "no partial model should be left")
}

func setModelBaseURL(t *testing.T, url string) {
	t.Helper()
	orig := modelBaseURL
	modelBaseURL = url
	t.Cleanup(func() { modelBaseURL = orig })
}
