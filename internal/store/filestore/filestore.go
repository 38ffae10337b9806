// Package filestore implements the Run Store contract (store.Store) as
// one indented JSON file per run under a project root, using write-to-temp-
// then-rename for crash-safe atomic updates — the persistence layout from
// spec §6:
//
//	<projectRoot>/plans/runs/<runId>.json          # Run Record
//	<projectRoot>/plans/runs/<runId>.progress.txt  # Log tail
//
// Grounded on the teacher's internal/engine/state.go WriteStatus/ReadStatus
// JSON-file pattern, generalized to use an atomic rename (the teacher writes
// directly with os.WriteFile, which is not crash-safe for partial writes;
// spec §4.1 requires atomicity, so this implementation upgrades it).
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/fileutil"
	"github.com/loomhq/loom/internal/store"
)

// FileStore is a store.Store backed by JSON files on disk.
type FileStore struct {
	projectRoot string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a FileStore rooted at projectRoot.
func New(projectRoot string) *FileStore {
	return &FileStore{
		projectRoot: projectRoot,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *FileStore) lockFor(runID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[runID] = l
	}
	return l
}

func (s *FileStore) recordPath(runID string) string {
	return fileutil.RunRecordPath(s.projectRoot, runID)
}

func (s *FileStore) logPath(runID string) string {
	return fileutil.RunLogPath(s.projectRoot, runID)
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by os.Rename, so readers never observe a partial write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fileutil.EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (s *FileStore) readRecord(runID string) (*store.RunRecord, error) {
	data, err := os.ReadFile(s.recordPath(runID))
	if os.IsNotExist(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r store.RunRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *FileStore) writeRecord(r *store.RunRecord) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.recordPath(r.RunID), data)
}

// Create writes a new record; fails with store.ErrAlreadyExists if runId exists.
func (s *FileStore) Create(ctx context.Context, run *store.RunRecord) error {
	l := s.lockFor(run.RunID)
	l.Lock()
	defer l.Unlock()

	if _, err := os.Stat(s.recordPath(run.RunID)); err == nil {
		return store.ErrAlreadyExists
	}
	if run.Errors == nil {
		run.Errors = []string{}
	}
	if run.Commands == nil {
		run.Commands = []store.CommandRecord{}
	}
	if run.SelectedTaskIDs == nil {
		run.SelectedTaskIDs = []string{}
	}
	return s.writeRecord(run)
}

// Get returns the full record or store.ErrNotFound.
func (s *FileStore) Get(ctx context.Context, runID string) (*store.RunRecord, error) {
	l := s.lockFor(runID)
	l.Lock()
	defer l.Unlock()
	return s.readRecord(runID)
}

// List returns all runs for a project, ordered by CreatedAt descending.
func (s *FileStore) List(ctx context.Context, projectID string) ([]*store.RunRecord, error) {
	dir := fileutil.RunsDir(s.projectRoot)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []*store.RunRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		runID := strings.TrimSuffix(e.Name(), ".json")
		r, err := s.readRecord(runID)
		if err != nil {
			continue // skip unreadable/partial entries rather than fail the whole list
		}
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListAll returns every run in the project root regardless of ProjectID,
// for the orchestrator's startup crash-recovery scan.
func (s *FileStore) ListAll(ctx context.Context) ([]*store.RunRecord, error) {
	dir := fileutil.RunsDir(s.projectRoot)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []*store.RunRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		runID := strings.TrimSuffix(e.Name(), ".json")
		r, err := s.readRecord(runID)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Update applies a field-level patch atomically.
func (s *FileStore) Update(ctx context.Context, runID string, patch store.Patch) error {
	l := s.lockFor(runID)
	l.Lock()
	defer l.Unlock()

	r, err := s.readRecord(runID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return store.ErrStale
	}

	store.ApplyPatch(r, patch)
	return s.writeRecord(r)
}

// AppendCommand appends a new Command Record and returns its index.
func (s *FileStore) AppendCommand(ctx context.Context, runID string, cmd store.CommandRecord) (int, error) {
	l := s.lockFor(runID)
	l.Lock()
	defer l.Unlock()

	r, err := s.readRecord(runID)
	if err != nil {
		return 0, err
	}
	r.Commands = append(r.Commands, cmd)
	idx := len(r.Commands) - 1
	if err := s.writeRecord(r); err != nil {
		return 0, err
	}
	return idx, nil
}

// FinalizeCommand sets ExitCode and FinishedAt on a previously appended Command Record.
func (s *FileStore) FinalizeCommand(ctx context.Context, runID string, index int, exitCode int, finishedAt time.Time) error {
	l := s.lockFor(runID)
	l.Lock()
	defer l.Unlock()

	r, err := s.readRecord(runID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(r.Commands) {
		return os.ErrInvalid
	}
	ec := exitCode
	ft := finishedAt
	r.Commands[index].ExitCode = &ec
	r.Commands[index].FinishedAt = &ft
	return s.writeRecord(r)
}

// AppendLog appends text to the run's log tail file.
func (s *FileStore) AppendLog(ctx context.Context, runID string, text string) error {
	l := s.lockFor(runID)
	l.Lock()
	defer l.Unlock()

	path := s.logPath(runID)
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err = f.WriteString(text)
	return err
}

// TailLog returns up to the last maxLines lines of the run's log, in order.
func (s *FileStore) TailLog(ctx context.Context, runID string, maxLines int) ([]string, error) {
	l := s.lockFor(runID)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(s.logPath(runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, nil
}

// RequestCancel sets CancellationRequestedAt iff it is currently nil.
func (s *FileStore) RequestCancel(ctx context.Context, runID string) (bool, error) {
	l := s.lockFor(runID)
	l.Lock()
	defer l.Unlock()

	r, err := s.readRecord(runID)
	if err != nil {
		return false, err
	}
	if r.CancellationRequestedAt != nil {
		return true, nil
	}
	now := time.Now().UTC()
	r.CancellationRequestedAt = &now
	if err := s.writeRecord(r); err != nil {
		return false, err
	}
	return false, nil
}

var _ store.Store = (*FileStore)(nil)
