package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"lsmengine/pkg/block"
	"lsmengine/pkg/clock"
	"lsmengine/pkg/config"
	"lsmengine/pkg/dberrors"
	"lsmengine/pkg/listener"
	"lsmengine/pkg/lsm"
	"lsmengine/pkg/memtable"
	"lsmengine/pkg/metrics"
	"lsmengine/pkg/persistence"
	"lsmengine/pkg/sstable"
	"lsmengine/pkg/types"
)

type iClock interface {
	Val() types.SeqN
	Set(t types.SeqN)
}

type Option func(*Store)

// WithMetrics routes store metrics to c.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Store) {
		s.metrics = c
	}
}

// Store coordinates the write path, memtable rotation, flush, compaction and
// Version swaps around the LSM core.
//
// Writes are serialized. mu guards the memtables and the current Version, so
// capturing a read view is a short critical section. Flush and compaction run
// in one background worker.
type Store struct {
	cfg      config.DB
	dataDir  string
	tableOpt sstable.Options

	seqN     iClock
	names    *persistence.DirFileNames
	manifest *persistence.Manifest
	cache    persistence.BlockCache
	picker   lsm.Picker
	metrics  metrics.Collector

	writeMu sync.Mutex

	mu      sync.Mutex
	cond    *sync.Cond
	mem     *memtable.Memtable
	imms    []*memtable.Memtable
	version *lsm.Version
	memID   uint64
	bgErr   error
	closed  bool

	tasks  chan task
	worker *listener.Listener[task]
}

// Open loads the tree recorded in the manifest under cfg.Persistence.RootPath
// and starts the background worker.
func Open(cfg config.DB, opts ...Option) (*Store, error) {
	dataDir := cfg.Persistence.RootPath
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	picker, err := lsm.NewPicker(lsm.Strategy(cfg.Compaction.Strategy), lsm.PickerConfig{
		Level0Trigger: cfg.Compaction.Level0Trigger,
		BaseLevelSize: cfg.Compaction.BaseLevelSize,
		Ratio:         cfg.Compaction.Ratio,
	})
	if err != nil {
		return nil, err
	}

	manifest := persistence.NewManifest(dataDir)
	if err := manifest.Load(); err != nil {
		return nil, err
	}
	md := manifest.Data()

	s := &Store{
		cfg:     cfg,
		dataDir: dataDir,
		tableOpt: sstable.Options{
			BlockSize:       cfg.Persistence.SSTable.BlockSize,
			BloomBitsPerKey: cfg.Persistence.BloomFilter.BitsPerKey,
			WriteBufferSize: cfg.Persistence.SSTable.WriteBufferSize,
		},
		seqN:     clock.NewAtomic(md.LastSequence),
		names:    persistence.NewDirFileNames(dataDir, md.LastTableID),
		manifest: manifest,
		picker:   picker,
		metrics:  metrics.Nop{},
		tasks:    make(chan task, 16),
	}
	if cfg.Persistence.Cache.Capacity > 0 {
		s.cache = persistence.NewBlockCache(cfg.Persistence.Cache.Capacity)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cond = sync.NewCond(&s.mu)

	s.version, err = s.loadVersion(md.Levels)
	if err != nil {
		return nil, err
	}
	s.removeOrphans(md.Levels)
	s.memID++
	s.mem = memtable.New(s.memID)

	s.worker = listener.New("store-background", s.tasks, s.handle)
	s.worker.Start(context.Background())

	slog.Info("store opened",
		"path", dataDir,
		"instance", md.InstanceID,
		"last_seq", md.LastSequence,
		"version", s.version.String(),
	)
	return s, nil
}

func (s *Store) loadVersion(levels [][]persistence.RunInfo) (*lsm.Version, error) {
	v := lsm.NewVersion()
	for id, runs := range levels {
		v.Append(id)
		for _, ri := range runs {
			tables := make([]*sstable.Table, 0, len(ri.Tables))
			for _, info := range ri.Tables {
				info.FilePath = persistence.TablePath(s.dataDir, info.ID)
				t, err := sstable.Open(info, s.tableOptions()...)
				if err != nil {
					for _, opened := range tables {
						_ = opened.Unref()
					}
					_ = v.Unref()
					return nil, err
				}
				tables = append(tables, t)
			}
			v.Append(id, lsm.NewSortedRun(tables...))
			for _, t := range tables {
				_ = t.Unref()
			}
		}
	}
	return v, nil
}

// removeOrphans deletes table files the manifest does not know, left behind by
// jobs interrupted before their commit.
func (s *Store) removeOrphans(levels [][]persistence.RunInfo) {
	live := make(map[string]bool)
	for _, runs := range levels {
		for _, ri := range runs {
			for _, info := range ri.Tables {
				live[persistence.TablePath(s.dataDir, info.ID)] = true
			}
		}
	}
	paths, err := filepath.Glob(filepath.Join(s.dataDir, "*.sst"))
	if err != nil {
		slog.Warn("failed to list table files", "path", s.dataDir, "error", err)
		return
	}
	for _, p := range paths {
		if live[p] {
			continue
		}
		if err := os.Remove(p); err != nil {
			slog.Warn("failed to remove orphan table", "path", p, "error", err)
			continue
		}
		slog.Info("orphan table removed", "path", p)
	}
}

func (s *Store) tableOptions() []sstable.Option {
	if s.cache == nil {
		return nil
	}
	return []sstable.Option{sstable.WithBlockCache(s.cache)}
}

func (s *Store) Put(key types.Key, value types.Value) error {
	b := NewBatch()
	b.Put(key, value)
	return s.Write(b)
}

func (s *Store) PutString(key string, value string) error {
	return s.Put([]byte(key), []byte(value))
}

func (s *Store) Delete(key types.Key) error {
	b := NewBatch()
	b.Delete(key)
	return s.Write(b)
}

func (s *Store) DeleteString(key string) error {
	return s.Delete([]byte(key))
}

// Write applies the batch with consecutive sequence numbers. Readers observe
// either none or all of it.
func (s *Store) Write(b *Batch) error {
	if b.Count() == 0 {
		return nil
	}
	for _, op := range b.ops {
		if err := s.checkRecord(op.key, op.value); err != nil {
			return err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	mem, err := s.makeRoomForWrite()
	if err != nil {
		return err
	}

	seq := s.seqN.Val()
	for _, op := range b.ops {
		seq++
		mem.Put(op.key, seq, op.typ, op.value)
	}
	s.seqN.Set(seq)

	s.metrics.IncCounter("writes_total", nil, float64(b.Count()))
	s.metrics.SetGauge("memtable_bytes", nil, float64(mem.ApproximateSize()))
	return nil
}

func (s *Store) checkRecord(key types.Key, value types.Value) error {
	if len(key) == 0 {
		return fmt.Errorf("empty key: %w", dberrors.ErrInvalidArgument)
	}
	size := block.EntrySize(types.NewKey(key, 0, types.RecordValue), value)
	if size > uint64(s.tableOpt.BlockSize) {
		return fmt.Errorf("record of %d bytes, block size %d: %w", size, s.tableOpt.BlockSize, dberrors.ErrRecordTooLarge)
	}
	return nil
}

// makeRoomForWrite rotates a full memtable and stalls while too many
// immutable memtables wait for flush. Called with writeMu held.
func (s *Store) makeRoomForWrite() (*memtable.Memtable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	if s.mem.ApproximateSize() < uint64(s.cfg.Memtable.FlushThresholdBytes) {
		return s.mem, nil
	}

	limit := max(s.cfg.Memtable.MaxImmTables, 1)
	for len(s.imms) >= limit {
		s.schedule()
		s.cond.Wait()
		if err := s.usable(); err != nil {
			return nil, err
		}
	}
	s.rotateLocked()
	s.schedule()
	return s.mem, nil
}

func (s *Store) usable() error {
	if s.closed {
		return dberrors.ErrClosed
	}
	if s.bgErr != nil {
		return fmt.Errorf("background error: %w", s.bgErr)
	}
	return nil
}

// rotateLocked freezes the live memtable. Called with mu held.
func (s *Store) rotateLocked() {
	if s.mem.Empty() {
		return
	}
	s.imms = append(s.imms, s.mem)
	s.memID++
	s.mem = memtable.New(s.memID)
	slog.Debug("memtable rotated", "immutable", len(s.imms))
}

// Get reads the newest value of key.
func (s *Store) Get(key types.Key) (types.Value, bool, error) {
	sv, err := s.superVersion()
	if err != nil {
		return nil, false, err
	}
	defer s.release(sv)
	return s.get(sv, key, sv.Seq())
}

// GetAt reads key as of seq. Versions older than the newest one per key may
// already be compacted away.
func (s *Store) GetAt(key types.Key, seq types.SeqN) (types.Value, bool, error) {
	sv, err := s.superVersion()
	if err != nil {
		return nil, false, err
	}
	defer s.release(sv)
	return s.get(sv, key, min(seq, sv.Seq()))
}

func (s *Store) GetString(key string) (string, bool, error) {
	v, ok, err := s.Get([]byte(key))
	return string(v), ok, err
}

func (s *Store) get(sv *lsm.SuperVersion, key types.Key, seq types.SeqN) (types.Value, bool, error) {
	v, ok, err := sv.Get(key, seq)
	if err != nil || !ok {
		return nil, false, err
	}
	// table values are views into shared block buffers
	return append([]byte(nil), v...), true, nil
}

func (s *Store) superVersion() (*lsm.SuperVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, dberrors.ErrClosed
	}
	imms := make([]lsm.Memtable, 0, len(s.imms))
	for _, m := range s.imms {
		imms = append(imms, m)
	}
	return lsm.NewSuperVersion(s.mem, imms, s.version, s.seqN.Val()), nil
}

func (s *Store) release(sv *lsm.SuperVersion) {
	if err := sv.Release(); err != nil {
		slog.Warn("failed to release read view", "error", err)
	}
}

// LastSeq is the sequence number of the newest visible write.
func (s *Store) LastSeq() types.SeqN {
	return s.seqN.Val()
}

// Describe summarizes the current tree shape.
func (s *Store) Describe() (string, error) {
	sv, err := s.superVersion()
	if err != nil {
		return "", err
	}
	defer s.release(sv)
	return sv.String(), nil
}

// Flush freezes the live memtable and waits until every immutable memtable is on disk.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	s.mu.Lock()
	err := s.usable()
	if err == nil {
		s.rotateLocked()
	}
	s.mu.Unlock()
	s.writeMu.Unlock()
	if err != nil {
		return err
	}
	return s.submit(ctx, taskFlush)
}

// Compact flushes, then merges every L0 run into L1 and lets the picker run to completion.
func (s *Store) Compact(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	return s.submit(ctx, taskCompact)
}

// Close flushes all memtables, stops the worker and releases the tree.
func (s *Store) Close() error {
	flushErr := s.Flush(context.Background())
	if errors.Is(flushErr, dberrors.ErrClosed) {
		return flushErr
	}

	s.writeMu.Lock()
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.worker.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	errs := []error{flushErr}
	if flushErr == nil {
		if err := s.commitLocked(s.version); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.version.Unref(); err != nil {
		errs = append(errs, err)
	}
	slog.Info("store closed", "path", s.dataDir, "last_seq", s.seqN.Val())
	return errors.Join(errs...)
}

// commitLocked records v in the manifest. Called with mu held.
func (s *Store) commitLocked(v *lsm.Version) error {
	return s.manifest.Commit(v.Layout(), s.names.LastID(), s.seqN.Val())
}

// installLocked makes v current and drops the reference to the old version.
// Called with mu held.
func (s *Store) installLocked(v *lsm.Version) {
	old := s.version
	s.version = v
	if err := old.Unref(); err != nil {
		slog.Warn("failed to release old version", "error", err)
	}
	for _, l := range v.Levels() {
		s.metrics.SetGauge("level_bytes", map[string]string{"level": fmt.Sprint(l.ID())}, float64(l.Size()))
		s.metrics.SetGauge("level_runs", map[string]string{"level": fmt.Sprint(l.ID())}, float64(l.NumRuns()))
	}
}
