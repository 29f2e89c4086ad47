package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

var (
	ErrEmptyFile       = errors.New("no file uploaded")
	ErrFileTooLarge    = errors.New("file exceeds the upload limit")
	ErrUnsupportedType = errors.New("only images are allowed (jpeg, jpg, png, gif)")
)

// Store keeps uploaded files on an afero filesystem and hands back the URL
// they are served under.
type Store struct {
	fs        afero.Fs
	urlPrefix string
	maxBytes  int64
	allowed   map[string]struct{}
	now       func() time.Time

	mu   sync.Mutex
	last int64
}

// NewStore roots fs at cfg.Dir ("uploads" when empty). A nil fs means the OS
// filesystem.
func NewStore(fs afero.Fs, cfg config.UploadConfig) (*Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "uploads"
	}
	// every path goes through the base, so "x.png" and "/x.png" name the same file.
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir '%s': %w", dir, err)
	}
	fs = afero.NewBasePathFs(fs, dir)
	prefix := cfg.URLPrefix
	if prefix == "" {
		prefix = "/uploads/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return &Store{
		fs:        fs,
		urlPrefix: prefix,
		maxBytes:  cfg.MaxBytes,
		allowed:   allowed,
		now:       time.Now,
	}, nil
}

// NewMemoryStore is a Store backed by an in-memory filesystem.
func NewMemoryStore(cfg config.UploadConfig) (*Store, error) {
	return NewStore(afero.NewMemMapFs(), cfg)
}

func (s *Store) URLPrefix() string {
	return s.urlPrefix
}

func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Accept checks a candidate upload against the extension allow-list and its
// sniffed content type.
func (s *Store) Accept(name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", ErrFileTooLarge
	}
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := s.allowed[ext]; !ok {
		return "", ErrUnsupportedType
	}
	sniffed := mimetype.Detect(data)
	if !strings.HasPrefix(sniffed.String(), "image/") {
		return "", ErrUnsupportedType
	}
	if _, ok := s.allowed[sniffed.Extension()]; !ok {
		return "", ErrUnsupportedType
	}
	return ext, nil
}

// Store writes data under a fresh name ending in ext and returns its URL.
func (s *Store) Store(ctx context.Context, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := s.nextName() + ext
	f, err := s.fs.Create(name)
	if err != nil {
		return "", fmt.Errorf("create '%s': %w", name, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write '%s': %w", name, err)
	}
	// a failed close can mean the data never reached the disk.
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close '%s': %w", name, err)
	}
	return path.Join(s.urlPrefix, name), nil
}

// Open returns a stored file for reading.
func (s *Store) Open(name string) (afero.File, error) {
	return s.fs.Open(name)
}

// Handler serves stored files; mount it under URLPrefix with the prefix stripped.
func (s *Store) Handler() http.Handler {
	return http.FileServer(afero.NewHttpFs(s.fs).Dir("/"))
}

// nextName is the upload time in milliseconds, bumped on collision.
func (s *Store) nextName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now().UnixMilli()
	if n <= s.last {
		n = s.last + 1
	}
	s.last = n
	return strconv.FormatInt(n, 10)
}
