package statestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/securecookie"
	"github.com/pkg/errors"
)

const sealName = "adlib_state"

// FileStore keeps all keys in one file. With a hash key configured the file
// is sealed with securecookie, so a hand-edited state file is rejected.
type FileStore struct {
	path string
	sc   *securecookie.SecureCookie
	mu   sync.Mutex
}

func NewFileStore(path string, hashKey, blockKey []byte) *FileStore {
	fs := &FileStore{path: path}
	if len(hashKey) > 0 {
		sc := securecookie.New(hashKey, blockKey)
		sc.MaxAge(0)
		sc.SetSerializer(securecookie.JSONEncoder{})
		fs.sc = sc
	}
	return fs
}

func (f *FileStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	m[key] = value
	return f.save(m)
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return f.save(m)
}

func (f *FileStore) load() (map[string]string, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read state file")
	}
	raw := strings.TrimSpace(string(b))
	m := map[string]string{}
	if raw == "" {
		return m, nil
	}
	if f.sc != nil {
		if err := f.sc.Decode(sealName, raw, &m); err != nil {
			return nil, errors.Wrapf(err, "state file %s", f.path)
		}
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, errors.Wrapf(err, "state file %s", f.path)
	}
	return m, nil
}

func (f *FileStore) save(m map[string]string) error {
	var out []byte
	if f.sc != nil {
		enc, err := f.sc.Encode(sealName, m)
		if err != nil {
			return errors.Wrap(err, "seal state")
		}
		out = []byte(enc)
	} else {
		b, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return err
		}
		out = b
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrap(err, "create state dir")
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, append(out, '\n'), 0o600); err != nil {
		return errors.Wrap(err, "write state file")
	}
	return errors.Wrap(os.Rename(tmp, f.path), "replace state file")
}
