package update

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/phiberoptick/dockhand/logger"
)

var storeLog = logger.WithSubsystem("store")

// Retention bounds so the state file cannot grow without limit.
const (
	maxScanRecords = 200
	maxAuditEvents = 500
)

// fileState is the on-disk shape of the store.
type fileState struct {
	Scans   []ScanRecord         `json:"scans"`
	Pending map[string]time.Time `json:"pending_updates"`
	Audit   []AuditEvent         `json:"audit"`
}

// FileStore persists scan history, pending-update markers and the audit
// log in a single JSON file, committed with an atomic tmp-file rename.
// An empty path keeps everything in memory only.
type FileStore struct {
	mu    sync.Mutex
	path  string
	state fileState
}

func NewFileStore(path string) *FileStore {
	s := &FileStore{
		path: path,
		state: fileState{
			Pending: make(map[string]time.Time),
		},
	}
	s.load()
	return s
}

// load hydrates state from disk. Missing files start fresh; a corrupt
// file is backed up and replaced rather than wedging startup.
func (s *FileStore) load() {
	if s.path == "" {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			storeLog.Error("Failed to read state file",
				logger.String("path", s.path),
				logger.Err(err),
			)
		}
		return
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		storeLog.Error("Corrupt JSON detected in state file",
			logger.String("path", s.path),
			logger.Err(err),
		)
		corruptPath := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, corruptPath); renameErr != nil {
			storeLog.Error("Failed to back up corrupt state file", logger.Err(renameErr))
		} else {
			storeLog.Warn("Backed up corrupt state file", logger.String("backup_path", corruptPath))
		}
		return
	}

	if state.Pending == nil {
		state.Pending = make(map[string]time.Time)
	}
	s.state = state
	storeLog.Info("Hydrated state from disk",
		logger.Int("scans", len(state.Scans)),
		logger.Int("pending_updates", len(state.Pending)),
	)
}

// saveLocked commits state to disk via tmp file + rename. Callers hold mu.
func (s *FileStore) saveLocked() {
	if s.path == "" {
		return
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		storeLog.Error("Failed to marshal state", logger.Err(err))
		return
	}

	if dir := filepath.Dir(s.path); dir != "" {
		_ = os.MkdirAll(dir, 0700)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		storeLog.Error("Failed to write temporary state file",
			logger.String("tmp_path", tmpPath),
			logger.Err(err),
		)
		return
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		storeLog.Error("Failed to commit state file rename",
			logger.String("tmp_path", tmpPath),
			logger.String("target_path", s.path),
			logger.Err(err),
		)
	}
}

func (s *FileStore) SaveVulnerabilityScan(ctx context.Context, rec ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Scans = append(s.state.Scans, rec)
	if len(s.state.Scans) > maxScanRecords {
		s.state.Scans = s.state.Scans[len(s.state.Scans)-maxScanRecords:]
	}
	s.saveLocked()
	return nil
}

func (s *FileStore) LatestScanForImage(ctx context.Context, imageID string) (*ScanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.state.Scans) - 1; i >= 0; i-- {
		if s.state.Scans[i].ImageID == imageID {
			rec := s.state.Scans[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *FileStore) SetPendingUpdate(ctx context.Context, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Pending[containerID] = time.Now()
	s.saveLocked()
	return nil
}

func (s *FileStore) RemovePendingUpdate(ctx context.Context, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.Pending[containerID]; !ok {
		return nil
	}
	delete(s.state.Pending, containerID)
	s.saveLocked()
	return nil
}

func (s *FileStore) PendingUpdates(ctx context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.state.Pending))
	for id, t := range s.state.Pending {
		out[id] = t
	}
	return out, nil
}

func (s *FileStore) RecordAuditEvent(ctx context.Context, ev AuditEvent) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Audit = append(s.state.Audit, ev)
	if len(s.state.Audit) > maxAuditEvents {
		s.state.Audit = s.state.Audit[len(s.state.Audit)-maxAuditEvents:]
	}
	s.saveLocked()
	return nil
}
