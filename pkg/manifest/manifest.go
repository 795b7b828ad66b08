// Package manifest implements the manifest service: point-in-time
// snapshots of the latest inputs and artefacts known for a movie,
// hash-chained revisions, and the current.json lifecycle.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/scenegraph/pipeline/pkg/eventlog"
	"github.com/scenegraph/pipeline/pkg/schemas"
)

// Service owns one movie's manifests/ directory and current.json.
type Service struct {
	movieDir string
}

// New creates a Service rooted at movieDir (the movie's own directory, the
// parent of manifests/, events/, and blobs/).
func New(movieDir string) *Service {
	return &Service{movieDir: movieDir}
}

func (s *Service) manifestsDir() string  { return filepath.Join(s.movieDir, "manifests") }
func (s *Service) currentPath() string   { return filepath.Join(s.movieDir, "current.json") }
func (s *Service) manifestPath(rev string) string {
	return filepath.Join(s.manifestsDir(), rev+".json")
}

// InitializeMovieStorage creates events/, blobs/, manifests/ and writes an
// initial current.json with both fields nil, per spec.md §3's lifecycle.
func InitializeMovieStorage(movieDir string) error {
	for _, sub := range []string{"events", "blobs", "manifests"} {
		if err := os.MkdirAll(filepath.Join(movieDir, sub), 0o755); err != nil {
			return fmt.Errorf("manifest: creating %s: %w", sub, err)
		}
	}
	s := New(movieDir)
	return s.writeCurrent(schemas.CurrentPointer{})
}

// Snapshot is what LoadCurrent returns: the manifest (nil if the movie has
// never completed a run), its canonical hash, and whether a run appears to
// be mid-execution (the pointer names a revision but its manifestPath is
// nil). A manifestPath that cannot be read is returned as an error.
type Snapshot struct {
	Manifest   *schemas.Manifest
	Hash       string
	InProgress bool
}

// LoadCurrent reads current.json and the manifest it points to.
func (s *Service) LoadCurrent() (Snapshot, error) {
	pointer, err := s.readCurrent()
	if err != nil {
		return Snapshot{}, err
	}
	if pointer.ManifestPath == nil {
		return Snapshot{InProgress: pointer.Revision != nil}, nil
	}

	path := filepath.Join(s.movieDir, *pointer.ManifestPath)
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("manifest: reading current manifest: %w", err)
	}
	var m schemas.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Snapshot{}, fmt.Errorf("manifest: parsing current manifest: %w", err)
	}
	return Snapshot{Manifest: &m, Hash: hashBytes(raw)}, nil
}

func (s *Service) readCurrent() (schemas.CurrentPointer, error) {
	raw, err := os.ReadFile(s.currentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return schemas.CurrentPointer{}, nil
		}
		return schemas.CurrentPointer{}, fmt.Errorf("manifest: reading current.json: %w", err)
	}
	var p schemas.CurrentPointer
	if err := json.Unmarshal(raw, &p); err != nil {
		return schemas.CurrentPointer{}, fmt.Errorf("manifest: parsing current.json: %w", err)
	}
	return p, nil
}

func (s *Service) writeCurrent(p schemas.CurrentPointer) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	tmp := s.currentPath() + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.currentPath())
}

// nextRevision computes "rev-NNNN" one past the given revision ("" yields
// "rev-0001").
func nextRevision(prev string) string {
	n := 0
	if prev != "" {
		if i := strings.TrimPrefix(prev, "rev-"); i != prev {
			if v, err := strconv.Atoi(i); err == nil {
				n = v
			}
		}
	}
	return fmt.Sprintf("rev-%04d", n+1)
}

// SaveManifest assigns the next revision, hash-checks against
// previousHash, and atomically writes the new manifest then rotates
// current.json to point at it.
func (s *Service) SaveManifest(m schemas.Manifest, previousHash string) (schemas.Manifest, error) {
	pointer, err := s.readCurrent()
	if err != nil {
		return schemas.Manifest{}, err
	}

	var previousRevision string
	if pointer.ManifestPath != nil {
		path := filepath.Join(s.movieDir, *pointer.ManifestPath)
		raw, err := os.ReadFile(path)
		if err != nil {
			return schemas.Manifest{}, fmt.Errorf("manifest: reading previous manifest: %w", err)
		}
		if hashBytes(raw) != previousHash {
			return schemas.Manifest{}, &schemas.EngineError{Code: schemas.ErrManifestHashConflict, Message: "on-disk manifest hash does not match previousHash"}
		}
		if pointer.Revision != nil {
			previousRevision = *pointer.Revision
		}
		m.ManifestBaseHash = previousHash
	} else if previousHash != "" {
		return schemas.Manifest{}, &schemas.EngineError{Code: schemas.ErrManifestHashConflict, Message: "previousHash supplied but no manifest currently on disk"}
	}

	m.Revision = nextRevision(previousRevision)
	m.BaseRevision = previousRevision
	m.CreatedAt = time.Now().UTC()

	canonical, err := CanonicalJSON(m)
	if err != nil {
		return schemas.Manifest{}, err
	}

	path := s.manifestPath(m.Revision)
	tmp := path + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(tmp, canonical, 0o644); err != nil {
		return schemas.Manifest{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return schemas.Manifest{}, err
	}

	rel, _ := filepath.Rel(s.movieDir, path)
	rev := m.Revision
	if err := s.writeCurrent(schemas.CurrentPointer{Revision: &rev, ManifestPath: &rel}); err != nil {
		return schemas.Manifest{}, err
	}
	return m, nil
}

// BuildManifestFromLog assembles a manifest's Inputs/Artefacts maps from a
// movie's event log: the latest event per input, and the latest event — of
// any status — per artefact. This is the single selection path both
// RebuildFromEvents and the dispatcher's end-of-run finalization use, so a
// manifest saved live and one rebuilt from the same log afterward are
// byte-identical (spec.md §8 property 4): an artefact that finished the run
// failed or skipped must show up the same way in both, not disappear from
// a rebuild because it never reached "succeeded".
func BuildManifestFromLog(log *eventlog.Log) (schemas.Manifest, error) {
	inputs, err := log.LatestInputs()
	if err != nil {
		return schemas.Manifest{}, err
	}
	artefacts, err := log.AnyLatestPerArtefact()
	if err != nil {
		return schemas.Manifest{}, err
	}

	m := schemas.Manifest{
		Inputs:    map[string]schemas.ManifestInput{},
		Artefacts: map[string]schemas.ManifestArtifact{},
	}
	for id, ev := range inputs {
		m.Inputs[id] = schemas.ManifestInput{PayloadDigest: ev.PayloadDigest}
	}
	for id, ev := range artefacts {
		m.Artefacts[id] = schemas.ManifestArtifact{
			Blob:         ev.Output.Blob,
			Status:       ev.Status,
			CreatedAt:    ev.CreatedAt,
			EditedBy:     ev.EditedBy,
			OriginalHash: ev.OriginalHash,
		}
	}
	return m, nil
}

// RebuildFromEvents replays inputs.log and artefacts.log into a
// deterministic manifest with no assigned revision (the caller is expected
// to pass it to SaveManifest to assign one).
func RebuildFromEvents(movieDir string) (schemas.Manifest, error) {
	log := eventlog.New(filepath.Join(movieDir, "events"))
	return BuildManifestFromLog(log)
}

// CanonicalJSON serializes v with object keys sorted lexicographically at
// every level, UTF-8, and no trailing newline, as spec.md §6 requires for
// manifest persistence and hash-chaining.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf strings.Builder
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

func writeCanonical(buf *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
