package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/stemsi/exstem-portal/internal/model"
)

var errNotLoggedIn = errors.New("not logged in; run `examctl login` first")

type credentials struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

type credentialStore struct {
	path string
}

func newCredentialStore(path string) *credentialStore {
	return &credentialStore{path: path}
}

func (s *credentialStore) Load() (*credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var c credentials
	if err := json.Unmarshal(data, &c); err != nil || c.Token == "" || c.User.ID <= 0 {
		return nil, errNotLoggedIn
	}
	return &c, nil
}

func (s *credentialStore) Save(c *credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (s *credentialStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
