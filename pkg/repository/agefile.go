package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
	"github.com/m-mizutani/goerr/v2"
)

const (
	settingsDirMode  = 0o700
	settingsFileMode = 0o600
)

// AgeFile is the durable Settings implementation. Each key maps to one
// age-encrypted JSON file under the settings directory; writes go
// through a temp file and rename so a crash never leaves a torn
// document.
type AgeFile struct {
	dir       string
	recipient *age.ScryptRecipient
	identity  *age.ScryptIdentity
	mu        sync.Mutex
}

// NewAgeFile opens (creating if needed) a settings directory encrypted
// with the given passphrase.
func NewAgeFile(dir, passphrase string) (*AgeFile, error) {
	if passphrase == "" {
		return nil, goerr.New("settings passphrase is empty")
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create scrypt recipient")
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create scrypt identity")
	}

	if err := os.MkdirAll(dir, settingsDirMode); err != nil {
		return nil, goerr.Wrap(err, "failed to create settings directory", goerr.V("dir", dir))
	}

	return &AgeFile{
		dir:       filepath.Clean(dir),
		recipient: recipient,
		identity:  identity,
	}, nil
}

// pathFor maps a settings key to its file. Keys use dots as namespace
// separators; anything outside a safe character set is rejected rather
// than escaped.
func (s *AgeFile) pathFor(key string) (string, error) {
	if key == "" {
		return "", goerr.New("settings key is empty")
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_':
		default:
			return "", goerr.New("invalid settings key", goerr.V("key", key))
		}
	}
	if strings.Contains(key, "..") {
		return "", goerr.New("invalid settings key", goerr.V("key", key))
	}
	return filepath.Join(s.dir, key+".age"), nil
}

func (s *AgeFile) Get(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return goerr.Wrap(ErrKeyNotFound, "no document", goerr.V("key", key))
		}
		return goerr.Wrap(err, "failed to open settings file", goerr.V("key", key))
	}
	defer f.Close()

	r, err := age.Decrypt(f, s.identity)
	if err != nil {
		return goerr.Wrap(err, "failed to decrypt settings file", goerr.V("key", key))
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return goerr.Wrap(err, "failed to read settings file", goerr.V("key", key))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return goerr.Wrap(err, "failed to decode document", goerr.V("key", key))
	}
	return nil
}

func (s *AgeFile) Put(ctx context.Context, key string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return goerr.Wrap(err, "failed to encode document", goerr.V("key", key))
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return goerr.Wrap(err, "failed to start encryption", goerr.V("key", key))
	}
	if _, err := w.Write(raw); err != nil {
		return goerr.Wrap(err, "failed to encrypt document", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to finish encryption", goerr.V("key", key))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("key", key))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(settingsFileMode); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to chmod temp file", goerr.V("key", key))
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write temp file", goerr.V("key", key))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temp file", goerr.V("key", key))
	}

	if err := os.Rename(tmpName, path); err != nil {
		return goerr.Wrap(err, "failed to replace settings file", goerr.V("key", key))
	}
	return nil
}

func (s *AgeFile) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return goerr.Wrap(err, "failed to remove settings file", goerr.V("key", key))
	}
	return nil
}
