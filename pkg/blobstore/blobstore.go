// Package blobstore implements the content-addressed, write-once blob
// store: blobs live at blobs/<hash[:2]>/<hash>[.ext], keyed by SHA-256 of
// their content, written atomically via temp-file-then-rename.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/scenegraph/pipeline/pkg/schemas"
)

// extByMime is the fixed mime-type-to-extension table from spec.md §4.2.
var extByMime = map[string]string{
	"image/png":        "png",
	"image/jpeg":       "jpg",
	"image/webp":       "webp",
	"video/mp4":        "mp4",
	"audio/mpeg":       "mp3",
	"audio/wav":        "wav",
	"application/json": "json",
	"text/plain":       "txt",
}

func extFor(mimeType string) string {
	return extByMime[mimeType]
}

// Ref is the result of a write: the content hash and byte length.
type Ref struct {
	Hash string
	Size int64
}

// ExistenceCache is an optional decorator a Store can consult before
// touching the filesystem, trading a cache miss for one fewer os.Stat. It
// never gates correctness: a Store works identically with or without one.
type ExistenceCache interface {
	Has(key string) (bool, error)
	Mark(key string) error
}

// Store is the content-addressed blob store rooted at a movie's blobs/
// directory.
type Store struct {
	root  string
	cache ExistenceCache
}

// New creates a Store rooted at root (typically
// "<storageRoot>/<basePath>/<movieId>/blobs").
func New(root string) *Store {
	return &Store{root: root}
}

// WithCache attaches an optional existence cache, returning the same Store
// for chaining.
func (s *Store) WithCache(cache ExistenceCache) *Store {
	s.cache = cache
	return s
}

func (s *Store) pathFor(hash, mimeType string) string {
	name := hash
	if ext := extFor(mimeType); ext != "" {
		name += "." + ext
	}
	return filepath.Join(s.root, hash[:2], name)
}

// Write stores bytes, returning its content hash and size. Writing the same
// content twice is idempotent: the second call detects the existing file
// and returns without touching disk again.
func (s *Store) Write(data []byte, mimeType string) (Ref, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path := s.pathFor(hash, mimeType)

	if exists, err := s.fileExists(path); err != nil {
		return Ref{}, fmt.Errorf("blobstore: checking existing blob: %w", err)
	} else if exists {
		return Ref{Hash: hash, Size: int64(len(data))}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Ref{}, fmt.Errorf("blobstore: creating shard directory: %w", err)
	}

	tmp := path + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Ref{}, fmt.Errorf("blobstore: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Ref{}, fmt.Errorf("blobstore: renaming temp file into place: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Mark(hash)
	}
	return Ref{Hash: hash, Size: int64(len(data))}, nil
}

func (s *Store) fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Exists checks both the extensioned and bare-hash filenames.
func (s *Store) Exists(hash string) (bool, error) {
	if s.cache != nil {
		if ok, err := s.cache.Has(hash); err == nil && ok {
			return true, nil
		}
	}
	dir := filepath.Join(s.root, hash[:2])
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: reading shard directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if name == hash || strings.HasPrefix(name, hash+".") {
			return true, nil
		}
	}
	return false, nil
}

// Read returns the raw bytes for hash, trying the extensioned path first
// and falling back to the bare-hash path.
func (s *Store) Read(hash, mimeType string) ([]byte, error) {
	path := s.pathFor(hash, mimeType)
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("blobstore: reading blob %s: %w", hash, err)
	}

	bare := filepath.Join(s.root, hash[:2], hash)
	data, err = os.ReadFile(bare)
	if err != nil {
		return nil, &schemas.EngineError{Code: schemas.ErrArtifactResolutionError, Message: fmt.Sprintf("blob %s not found", hash), Cause: err}
	}
	return data, nil
}

// ReadDecoded reads a blob and decodes it per mimeType: UTF-8 text for
// "text/*", parsed JSON for "application/json", raw bytes otherwise.
func (s *Store) ReadDecoded(hash, mimeType string) (interface{}, error) {
	data, err := s.Read(hash, mimeType)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasPrefix(mimeType, "text/"):
		return string(data), nil
	case mimeType == "application/json":
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, &schemas.EngineError{Code: schemas.ErrInvalidJSONArtifact, Message: fmt.Sprintf("blob %s is not valid JSON", hash), Cause: err}
		}
		return v, nil
	default:
		return data, nil
	}
}
