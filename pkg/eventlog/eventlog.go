// Package eventlog implements the append-only JSONL event logs (one per
// movie for inputs, one for artefacts), streamable from start to end and
// tolerant of a truncated tail after a crash.
package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/scenegraph/pipeline/pkg/schemas"
)

// Log is the pair of append-only logs for one movie, serializing concurrent
// appends through a single mutex the way the dispatcher's workers share one
// writer per movie (spec.md §5: "Event-log appends are serialized by the
// log").
type Log struct {
	dir string
	mu  sync.Mutex
}

// New creates a Log rooted at dir (typically
// "<storageRoot>/<basePath>/<movieId>/events").
func New(dir string) *Log {
	return &Log{dir: dir}
}

func (l *Log) inputsPath() string    { return filepath.Join(l.dir, "inputs.log") }
func (l *Log) artefactsPath() string { return filepath.Join(l.dir, "artefacts.log") }

func appendLine(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return err
	}
	return f.Sync()
}

// AppendInput appends one InputEvent to inputs.log.
func (l *Log) AppendInput(event schemas.InputEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendLine(l.inputsPath(), event)
}

// AppendArtefact appends one ArtefactEvent to artefacts.log.
func (l *Log) AppendArtefact(event schemas.ArtefactEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendLine(l.artefactsPath(), event)
}

// StreamInputs scans inputs.log from start to end, calling fn for each
// well-formed line. Malformed lines are skipped silently, tolerating a
// truncated tail after a crash.
func (l *Log) StreamInputs(fn func(schemas.InputEvent)) error {
	return scan(l.inputsPath(), func(line []byte) {
		var e schemas.InputEvent
		if err := json.Unmarshal(line, &e); err == nil {
			fn(e)
		}
	})
}

// StreamArtefacts scans artefacts.log from start to end, calling fn for
// each well-formed line.
func (l *Log) StreamArtefacts(fn func(schemas.ArtefactEvent)) error {
	return scan(l.artefactsPath(), func(line []byte) {
		var e schemas.ArtefactEvent
		if err := json.Unmarshal(line, &e); err == nil {
			fn(e)
		}
	})
}

func scan(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	return nil
}

// LatestSucceededPerArtefact does a single streaming pass over
// artefacts.log, keeping the last "succeeded" event seen per artefact ID.
func (l *Log) LatestSucceededPerArtefact() (map[string]schemas.ArtefactEvent, error) {
	out := map[string]schemas.ArtefactEvent{}
	err := l.StreamArtefacts(func(e schemas.ArtefactEvent) {
		if e.Status == schemas.ArtefactSucceeded {
			out[e.ArtefactID] = e
		}
	})
	return out, err
}

// AnyLatestPerArtefact does a single streaming pass over artefacts.log,
// keeping the last event of any status seen per artefact ID — used by the
// planner to detect upstream failures regardless of the final status.
func (l *Log) AnyLatestPerArtefact() (map[string]schemas.ArtefactEvent, error) {
	out := map[string]schemas.ArtefactEvent{}
	err := l.StreamArtefacts(func(e schemas.ArtefactEvent) {
		out[e.ArtefactID] = e
	})
	return out, err
}

// LatestInputs does a single streaming pass over inputs.log, keeping the
// last event seen per input ID.
func (l *Log) LatestInputs() (map[string]schemas.InputEvent, error) {
	out := map[string]schemas.InputEvent{}
	err := l.StreamInputs(func(e schemas.InputEvent) {
		out[e.ID] = e
	})
	return out, err
}
