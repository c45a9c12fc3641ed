package lsm

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"lsmengine/pkg/block"
	"lsmengine/pkg/iterator"
	"lsmengine/pkg/persistence"
	"lsmengine/pkg/sstable"
	"lsmengine/pkg/types"
)

type JobOptions struct {
	Table sstable.Options
	// TargetSize bounds each output table. Zero means a single output.
	TargetSize uint64
	// DropTombstones is set for compactions into the last non-empty level.
	DropTombstones bool
	// KeepVersions keeps every version of a key instead of the newest one. Used by flush.
	KeepVersions bool
}

// JobStats summarizes a finished job.
type JobStats struct {
	RecordsIn    uint64
	RecordsOut   uint64
	Dropped      uint64
	BytesWritten uint64
	Duration     time.Duration
}

// CompactionJob merges one sorted stream into new tables. It never touches the tree.
type CompactionJob struct {
	id    uuid.UUID
	names persistence.FileNameGenerator
	opts  JobOptions
	stats JobStats
}

func NewCompactionJob(names persistence.FileNameGenerator, opts JobOptions) *CompactionJob {
	return &CompactionJob{
		id:    uuid.New(),
		names: names,
		opts:  opts,
	}
}

func (j *CompactionJob) ID() uuid.UUID {
	return j.id
}

func (j *CompactionJob) Stats() JobStats {
	return j.stats
}

// Run drains it from the first record and writes the surviving records.
// Output tables are rolled only between user keys. On error every table the
// job created is removed.
func (j *CompactionJob) Run(it iterator.Iterator) ([]sstable.Info, error) {
	start := time.Now()
	w := &jobWriter{job: j}

	var lastUser []byte
	haveLast, shadowed := false, false
	for it.SeekToFirst(); it.Valid(); it.Next() {
		j.stats.RecordsIn++
		k := types.ParseKey(it.Key())
		sameUser := haveLast && bytes.Equal(k.UserKey, lastUser)
		if !sameUser {
			lastUser = append(lastUser[:0], k.UserKey...)
			haveLast, shadowed = true, false
		}
		if shadowed || (sameUser && !j.opts.KeepVersions) {
			j.stats.Dropped++
			continue
		}
		if k.Type == types.RecordDeletion && j.opts.DropTombstones {
			// older versions of the key must not resurface
			shadowed = true
			j.stats.Dropped++
			continue
		}
		if err := w.append(k, it.Value(), !sameUser); err != nil {
			return nil, w.abort(err)
		}
	}
	if err := it.Error(); err != nil {
		return nil, w.abort(fmt.Errorf("compaction input: %w", err))
	}
	if err := w.finish(); err != nil {
		return nil, w.abort(err)
	}

	j.stats.Duration = time.Since(start)
	slog.Info("compaction job finished",
		"job", j.id,
		"outputs", len(w.outputs),
		"records_in", j.stats.RecordsIn,
		"records_out", j.stats.RecordsOut,
		"dropped", j.stats.Dropped,
		"bytes", j.stats.BytesWritten,
		"duration", j.stats.Duration,
	)
	return w.outputs, nil
}

// jobWriter owns the table currently being built.
type jobWriter struct {
	job     *CompactionJob
	cur     *sstable.Builder
	curPath string
	curID   uint64
	paths   []string
	outputs []sstable.Info
}

func (w *jobWriter) append(k types.ParsedKey, value []byte, keyBoundary bool) error {
	opts := w.job.opts
	if w.cur != nil && keyBoundary && opts.TargetSize > 0 && w.cur.Count() > 0 &&
		w.cur.Size()+block.EntrySize(k, value) > opts.TargetSize {
		if err := w.finish(); err != nil {
			return err
		}
	}
	if w.cur == nil {
		w.curPath, w.curID = w.job.names.Generate()
		b, err := sstable.Create(w.curPath, opts.Table)
		if err != nil {
			return err
		}
		w.cur = b
		w.paths = append(w.paths, w.curPath)
	}
	if err := w.cur.Append(k, value); err != nil {
		return fmt.Errorf("failed to append to %s: %w", w.curPath, err)
	}
	w.job.stats.RecordsOut++
	return nil
}

func (w *jobWriter) finish() error {
	if w.cur == nil {
		return nil
	}
	b := w.cur
	w.cur = nil
	if err := b.Finish(); err != nil {
		_ = b.Close()
		return fmt.Errorf("failed to finish %s: %w", w.curPath, err)
	}
	if err := b.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", w.curPath, err)
	}
	info := b.Info(w.curID)
	w.job.stats.BytesWritten += info.Size
	w.outputs = append(w.outputs, info)
	return nil
}

func (w *jobWriter) abort(cause error) error {
	errs := []error{cause}
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			errs = append(errs, err)
		}
		w.cur = nil
	}
	for _, p := range w.paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	slog.Error("compaction job failed", "job", w.job.id, "error", cause)
	return errors.Join(errs...)
}
