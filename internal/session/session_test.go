package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBlobStore struct {
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, name string) ([]byte, error) {
	if data, ok := m.data[name]; ok {
		return data, nil
	}
	return nil, ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, name string, data []byte) error {
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[name] = data
	return nil
}

func TestStoreSaveMirrorsAndLoadsLocal(t *testing.T) {
	dir := t.TempDir()
	blob := &memoryBlobStore{}
	store, err := NewStore(filepath.Join(dir, "state", "session.json"), blob)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, State{Email: "a@b.c", RefreshToken: "r1"}))
	assert.Contains(t, string(blob.data[blobName]), `"refresh_token": "r1"`)

	info, err := os.Stat(filepath.Join(dir, "state", "session.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	state, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", state.RefreshToken)
	assert.Equal(t, SchemaVersion, state.SchemaVersion)
}

func TestStoreLoadFallsBackToBlob(t *testing.T) {
	dir := t.TempDir()
	blob := &memoryBlobStore{data: map[string][]byte{
		blobName: []byte(`{"schema_version":1,"refresh_token":"from-blob"}`),
	}}
	statePath := filepath.Join(dir, "session.json")
	store, err := NewStore(statePath, blob)
	require.NoError(t, err)

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-blob", state.RefreshToken)

	local, err := LoadState(statePath)
	require.NoError(t, err)
	assert.Equal(t, "from-blob", local.RefreshToken)
}

func TestStoreLoadMissing(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "session.json"), nil)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestBootstrapRefreshToken(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "session.json"), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = BootstrapRefreshToken(ctx, store, "")
	assert.ErrorIs(t, err, ErrStateNotFound)

	tokenFile := filepath.Join(dir, "refresh_token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("seed\n"), 0o600))
	token, err := BootstrapRefreshToken(ctx, store, tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "seed", token)

	require.NoError(t, store.Save(ctx, State{RefreshToken: "persisted"}))
	token, err = BootstrapRefreshToken(ctx, store, tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "persisted", token)
}

func TestLoadStateRejectsLoosePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version":1,"refresh_token":"x"}`), 0o644))

	_, err := LoadState(path)
	assert.Error(t, err)
}

func TestCredentials(t *testing.T) {
	creds := NewCredentials()
	_, err := creds.Token()
	assert.ErrorIs(t, err, ErrNoToken)

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	creds.Set(signed, "refresh-1")
	token, err := creds.Token()
	require.NoError(t, err)
	assert.Equal(t, signed, token.AccessToken)
	assert.True(t, token.Expiry.Equal(exp))
	assert.True(t, token.Valid())

	creds.Set("opaque-token", "")
	assert.Equal(t, "refresh-1", creds.RefreshToken())
	token, err = creds.Token()
	require.NoError(t, err)
	assert.True(t, token.Expiry.IsZero())
}
