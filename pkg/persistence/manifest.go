package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"lsmengine/pkg/types"
)

const (
	manifestName    = "MANIFEST"
	manifestVersion = 1
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TableInfo is the persisted identity of one SSTable, enough to reopen it without a scan.
type TableInfo struct {
	ID          uint64 `json:"id"`
	FilePath    string `json:"file_path"`
	Count       uint64 `json:"count"`
	IndexOffset uint64 `json:"index_offset"`
	BloomOffset uint64 `json:"bloom_offset"`
	Size        uint64 `json:"size"`
}

// RunInfo lists the tables of one sorted run in key order.
type RunInfo struct {
	Tables []TableInfo `json:"tables"`
}

// ManifestData is the persisted shape of the tree.
type ManifestData struct {
	Version      int         `json:"version"`
	InstanceID   string      `json:"instance_id"`
	LastTableID  uint64      `json:"last_table_id"`
	LastSequence types.SeqN  `json:"last_sequence"`
	Levels       [][]RunInfo `json:"levels"`
}

// Manifest stores the tree shape, rewritten atomically on every commit.
type Manifest struct {
	mu       sync.RWMutex
	filePath string
	data     ManifestData
}

func NewManifest(dataDir string) *Manifest {
	return &Manifest{
		filePath: filepath.Join(dataDir, manifestName),
		data: ManifestData{
			Version:    manifestVersion,
			InstanceID: uuid.NewString(),
		},
	}
}

// Load reads the manifest, creating a fresh one if none exists.
func (m *Manifest) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := os.ReadFile(m.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("manifest not found, starting empty tree", "path", m.filePath)
			return m.save()
		}
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var data ManifestData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}
	if data.Version != manifestVersion {
		return fmt.Errorf("unsupported manifest version %d", data.Version)
	}
	m.data = data

	return nil
}

// Data returns a deep copy of the current state.
func (m *Manifest) Data() ManifestData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.data
	out.Levels = make([][]RunInfo, len(m.data.Levels))
	for i, runs := range m.data.Levels {
		out.Levels[i] = make([]RunInfo, len(runs))
		for j, run := range runs {
			out.Levels[i][j] = RunInfo{Tables: append([]TableInfo(nil), run.Tables...)}
		}
	}
	return out
}

// Commit replaces the recorded tree shape and counters.
func (m *Manifest) Commit(levels [][]RunInfo, lastTableID uint64, lastSeq types.SeqN) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data.Levels = levels
	if lastTableID > m.data.LastTableID {
		m.data.LastTableID = lastTableID
	}
	if lastSeq > m.data.LastSequence {
		m.data.LastSequence = lastSeq
	}
	return m.save()
}

func (m *Manifest) Path() string {
	return m.filePath
}

func (m *Manifest) save() error {
	dir := filepath.Dir(m.filePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp := m.filePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, m.filePath); err != nil {
		return fmt.Errorf("failed to install manifest: %w", err)
	}

	return nil
}
