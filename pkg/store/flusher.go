package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lsmengine/pkg/dberrors"
	"lsmengine/pkg/lsm"
	"lsmengine/pkg/sstable"
)

type taskKind uint8

const (
	// taskBackground flushes pending memtables and runs picked compactions.
	taskBackground taskKind = iota
	taskFlush
	// taskCompact also merges L0 into L1 regardless of the trigger.
	taskCompact
)

type task struct {
	kind taskKind
	done chan error
}

// schedule wakes the worker without waiting. A queued task already covers the request.
func (s *Store) schedule() {
	select {
	case s.tasks <- task{kind: taskBackground}:
	default:
	}
}

// submit queues a task and waits for its result.
func (s *Store) submit(ctx context.Context, kind taskKind) error {
	t := task{kind: kind, done: make(chan error, 1)}
	select {
	case s.tasks <- t:
	case <-s.worker.Done():
		return s.workerErr()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-s.worker.Done():
		return s.workerErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) workerErr() error {
	if err := s.worker.Err(); err != nil {
		return fmt.Errorf("background worker stopped: %w", err)
	}
	return dberrors.ErrClosed
}

// handle runs on the worker goroutine. Any error is fatal: it is recorded,
// waiting writers are released and the worker stops.
func (s *Store) handle(t task) error {
	err := s.background(t.kind)
	if err != nil {
		s.mu.Lock()
		if s.bgErr == nil {
			s.bgErr = err
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}
	if t.done != nil {
		t.done <- err
	}
	return err
}

func (s *Store) background(kind taskKind) error {
	s.mu.Lock()
	err := s.bgErr
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("background error: %w", err)
	}

	for {
		flushed, err := s.flushOldest()
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		if !flushed {
			break
		}
	}
	if kind == taskFlush {
		return nil
	}

	if kind == taskCompact {
		level0 := func(v *lsm.Version) (*lsm.Compaction, error) { return lsm.Level0Compaction(v), nil }
		if _, err := s.compactOnce(level0); err != nil {
			return fmt.Errorf("manual compaction: %w", err)
		}
	}
	for {
		done, err := s.compactOnce(s.picker.Pick)
		if err != nil {
			return fmt.Errorf("compaction: %w", err)
		}
		if !done {
			return nil
		}
	}
}

// flushOldest writes the oldest immutable memtable as a new L0 run.
func (s *Store) flushOldest() (bool, error) {
	s.mu.Lock()
	if len(s.imms) == 0 {
		s.mu.Unlock()
		return false, nil
	}
	imm := s.imms[0]
	s.mu.Unlock()

	start := time.Now()
	job := lsm.NewCompactionJob(s.names, lsm.JobOptions{
		Table:        s.tableOpt,
		TargetSize:   s.cfg.Persistence.SSTable.TargetSize,
		KeepVersions: true,
	})
	infos, err := job.Run(imm.NewIterator())
	if err != nil {
		return false, err
	}
	tables, err := s.openTables(infos)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var next *lsm.Version
	if len(tables) > 0 {
		next = s.version.WithRun(0, lsm.NewSortedRun(tables...))
	} else {
		next = s.version
		next.Ref()
	}
	dropRefs(tables)

	if err := s.commitLocked(next); err != nil {
		retire(tables)
		_ = next.Unref()
		return false, err
	}
	s.imms = s.imms[1:]
	s.installLocked(next)
	s.cond.Broadcast()

	s.metrics.IncCounter("flush_total", nil, 1)
	s.metrics.IncCounter("bytes_written_total", map[string]string{"kind": "flush"}, float64(job.Stats().BytesWritten))
	s.metrics.ObserveHistogram("flush_seconds", nil, time.Since(start).Seconds())
	slog.Info("memtable flushed",
		"memtable", imm.ID(),
		"records", imm.Count(),
		"tables", len(tables),
		"duration", time.Since(start),
	)
	return true, nil
}

// compactOnce runs the compaction chosen by pick, if any.
func (s *Store) compactOnce(pick func(*lsm.Version) (*lsm.Compaction, error)) (bool, error) {
	s.mu.Lock()
	v := s.version
	v.Ref()
	s.mu.Unlock()
	defer func() {
		if err := v.Unref(); err != nil {
			slog.Warn("failed to release version", "error", err)
		}
	}()

	c, err := pick(v)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}

	start := time.Now()
	job := lsm.NewCompactionJob(s.names, lsm.JobOptions{
		Table:          s.tableOpt,
		TargetSize:     s.cfg.Persistence.SSTable.TargetSize,
		DropTombstones: c.LastLevel,
	})
	infos, err := job.Run(c.NewInputIterator())
	if err != nil {
		return false, err
	}
	tables, err := s.openTables(infos)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// flushes run on this goroutine too, so the tree cannot have moved under v
	if s.version != v {
		retire(tables)
		dropRefs(tables)
		return false, fmt.Errorf("version changed during compaction: %w", dberrors.ErrCompactionRunning)
	}
	next := lsm.ApplyCompaction(v, c, tables)
	dropRefs(tables)

	if err := s.commitLocked(next); err != nil {
		retire(tables)
		_ = next.Unref()
		return false, err
	}
	c.Retire()
	s.installLocked(next)

	s.metrics.IncCounter("compaction_total", map[string]string{"level": fmt.Sprint(c.SrcLevel)}, 1)
	s.metrics.IncCounter("bytes_written_total", map[string]string{"kind": "compaction"}, float64(job.Stats().BytesWritten))
	s.metrics.ObserveHistogram("compaction_seconds", nil, time.Since(start).Seconds())
	slog.Info("compaction installed",
		"job", job.ID(),
		"compaction", c.String(),
		"input_bytes", c.InputSize(),
		"outputs", len(tables),
		"version", next.String(),
	)
	return true, nil
}

func (s *Store) openTables(infos []sstable.Info) ([]*sstable.Table, error) {
	tables := make([]*sstable.Table, 0, len(infos))
	for _, info := range infos {
		t, err := sstable.Open(info, s.tableOptions()...)
		if err != nil {
			retire(tables)
			dropRefs(tables)
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func retire(tables []*sstable.Table) {
	for _, t := range tables {
		t.MarkRemoved()
	}
}

// dropRefs releases the references taken by sstable.Open.
func dropRefs(tables []*sstable.Table) {
	for _, t := range tables {
		if err := t.Unref(); err != nil {
			slog.Warn("failed to release table", "id", t.ID(), "error", err)
		}
	}
}
