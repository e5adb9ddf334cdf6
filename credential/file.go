package credential

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

const (
	fileTokenName  = "token"
	fileRecordName = "session.json"
)

// File is a Repository backed by one directory per namespace. Writes go through a
// temporary file and a rename, so a crash never leaves a torn credential behind.
//
// File serializes access within one process only.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile returns a repository rooted at <root>/<namespace>. The directory is created
// with 0700 permissions on first write.
func NewFile(root, namespace string) (*File, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("credential file root required")
	}
	if !validNamespace(namespace) {
		return nil, ErrInvalidNamespace
	}
	return &File{dir: filepath.Join(root, normalizeNamespace(namespace))}, nil
}

// Dir returns the namespace directory.
func (f *File) Dir() string {
	return f.dir
}

func (f *File) Get(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readToken()
}

func (f *File) Set(_ context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(fileTokenName, []byte(token))
}

func (f *File) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeAll()
}

func (f *File) CompareAndClear(_ context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.readToken()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if current != token {
		return false, nil
	}
	if err := f.removeAll(); err != nil {
		return false, err
	}
	return true, nil
}

func (f *File) GetRecord(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(f.dir, fileRecordName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

func (f *File) SetRecord(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(fileRecordName, data)
}

func (f *File) readToken() (string, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, fileTokenName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNotFound
	}
	return token, nil
}

func (f *File) write(name string, data []byte) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := atomic.WriteFile(filepath.Join(f.dir, name), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (f *File) removeAll() error {
	for _, name := range []string{fileTokenName, fileRecordName} {
		err := os.Remove(filepath.Join(f.dir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}
