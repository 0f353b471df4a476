package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joshp123/gofpa/internal/config"
)

const blobName = "fpa"

// Store persists State locally and mirrors it to an optional BlobStore.
type Store struct {
	statePath string
	blob      BlobStore
}

// NewStore creates a store. blob may be nil.
func NewStore(statePath string, blob BlobStore) (*Store, error) {
	if statePath == "" {
		return nil, fmt.Errorf("state path is required")
	}
	return &Store{statePath: statePath, blob: blob}, nil
}

// Load returns the local state, falling back to the blob mirror. A state
// recovered from the mirror is written back locally.
func (s *Store) Load(ctx context.Context) (State, error) {
	local, localErr := LoadState(s.statePath)
	if localErr == nil {
		return local, nil
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		return State{}, localErr
	}
	if s.blob == nil {
		return State{}, ErrStateNotFound
	}

	data, err := s.blob.Load(ctx, blobName)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return State{}, ErrStateNotFound
		}
		remotePersistOK.Set(0)
		return State{}, fmt.Errorf("load blob: %w", err)
	}
	state, err := DecodeState(data)
	if err != nil {
		return State{}, err
	}
	if err := WriteState(s.statePath, state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Save writes the state file and mirrors it. Mirror failures are reported
// through metrics only; the local copy is authoritative.
func (s *Store) Save(ctx context.Context, state State) error {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	if err := state.Validate(); err != nil {
		return err
	}
	if err := WriteState(s.statePath, state); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	if s.blob == nil {
		return nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := s.blob.Save(ctx, blobName, data); err != nil {
		remotePersistOK.Set(0)
		return nil
	}
	remotePersistOK.Set(1)
	return nil
}

// ReadRefreshTokenFile reads a bootstrap refresh token from a secret file.
func ReadRefreshTokenFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("refresh token file %s is empty", path)
	}
	return token, nil
}

// Open builds the store described by the session config, including the
// blob mirror when configured.
func Open(cfg *config.SessionConfig) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("session config is required")
	}
	var blob BlobStore
	if cfg.Blob != nil {
		s3, err := NewS3Store(cfg.Blob)
		if err != nil {
			return nil, err
		}
		blob = s3
	}
	return NewStore(cfg.StatePath, blob)
}

// BootstrapRefreshToken returns the persisted refresh token, falling back to
// the configured refresh token file.
func BootstrapRefreshToken(ctx context.Context, store *Store, refreshTokenFile string) (string, error) {
	state, err := store.Load(ctx)
	if err == nil {
		return state.RefreshToken, nil
	}
	if !errors.Is(err, ErrStateNotFound) {
		return "", err
	}
	if refreshTokenFile == "" {
		return "", fmt.Errorf("no session state and no refresh_token_file: %w", ErrStateNotFound)
	}
	return ReadRefreshTokenFile(refreshTokenFile)
}
