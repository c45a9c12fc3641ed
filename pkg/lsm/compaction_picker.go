package lsm

import (
	"fmt"
	"log/slog"
	"math"

	"lsmengine/pkg/dberrors"
	"lsmengine/pkg/sstable"
)

type Strategy string

const (
	StrategyLeveled      Strategy = "leveled"
	StrategyTiered       Strategy = "tiered"
	StrategyFluid        Strategy = "fluid"
	StrategyLazyLeveling Strategy = "lazy_leveling"
)

// Picker chooses the next compaction for a version, or nil when the tree is in shape.
type Picker interface {
	Pick(v *Version) (*Compaction, error)
}

type PickerConfig struct {
	Level0Trigger int
	BaseLevelSize uint64
	Ratio         float64
}

func NewPicker(strategy Strategy, cfg PickerConfig) (Picker, error) {
	switch strategy {
	case StrategyLeveled, "":
		return NewLeveledPicker(cfg), nil
	case StrategyTiered:
		return TieredPicker{}, nil
	case StrategyFluid:
		return FluidPicker{}, nil
	case StrategyLazyLeveling:
		return LazyLevelingPicker{}, nil
	}
	return nil, fmt.Errorf("compaction strategy %q: %w", strategy, dberrors.ErrInvalidArgument)
}

// LeveledPicker keeps every level below L0 as a single run and bounds each
// level's size geometrically.
type LeveledPicker struct {
	cfg PickerConfig
}

func NewLeveledPicker(cfg PickerConfig) *LeveledPicker {
	return &LeveledPicker{cfg: cfg}
}

// Capacity is the size above which level id is compacted into the next one.
func (p *LeveledPicker) Capacity(id int) uint64 {
	c := float64(p.cfg.BaseLevelSize) * math.Pow(p.cfg.Ratio, float64(id))
	if c >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(c)
}

func (p *LeveledPicker) Pick(v *Version) (*Compaction, error) {
	if l0 := v.Level(0); l0.NumRuns() > p.cfg.Level0Trigger {
		c := Level0Compaction(v)
		slog.Debug("compaction picked", "reason", "level0 runs", "runs", l0.NumRuns(), "compaction", c.String())
		return c, nil
	}

	for _, l := range v.Levels() {
		if l.ID() == 0 || l.Empty() || l.Size() <= p.Capacity(l.ID()) {
			continue
		}
		src := l.Runs()[0]
		t := smallestTable(src)
		if t == nil {
			continue
		}
		c := &Compaction{
			InputSSTs:   []*sstable.Table{t},
			SrcRun:      src,
			SrcLevel:    l.ID(),
			TargetLevel: l.ID() + 1,
			TargetRun:   firstRun(v.Level(l.ID() + 1)),
		}
		c.LastLevel = c.TargetRun == nil && v.emptyBelow(l.ID()+1)
		slog.Debug("compaction picked", "reason", "level size", "level", l.ID(),
			"size", l.Size(), "capacity", p.Capacity(l.ID()), "compaction", c.String())
		return c, nil
	}
	return nil, nil
}

// Level0Compaction merges every L0 run into the first run of L1. It returns
// nil when L0 is empty. Manual compactions use it regardless of the trigger.
func Level0Compaction(v *Version) *Compaction {
	l0 := v.Level(0)
	if l0.Empty() {
		return nil
	}
	c := &Compaction{
		InputRuns:   append([]*SortedRun(nil), l0.Runs()...),
		SrcLevel:    0,
		TargetLevel: 1,
		TargetRun:   firstRun(v.Level(1)),
	}
	c.LastLevel = c.TargetRun == nil && v.emptyBelow(1)
	return c
}

func firstRun(l *Level) *SortedRun {
	if l.Empty() {
		return nil
	}
	return l.Runs()[0]
}

func smallestTable(r *SortedRun) *sstable.Table {
	var best *sstable.Table
	for _, t := range r.Tables() {
		if best == nil || t.Size() < best.Size() {
			best = t
		}
	}
	return best
}

// TieredPicker is reserved for size-tiered compaction.
type TieredPicker struct{}

func (TieredPicker) Pick(*Version) (*Compaction, error) {
	return nil, fmt.Errorf("tiered: %w", dberrors.ErrUnsupportedStrategy)
}

// FluidPicker is reserved for fluid LSM compaction.
type FluidPicker struct{}

func (FluidPicker) Pick(*Version) (*Compaction, error) {
	return nil, fmt.Errorf("fluid: %w", dberrors.ErrUnsupportedStrategy)
}

// LazyLevelingPicker is reserved for lazy leveling.
type LazyLevelingPicker struct{}

func (LazyLevelingPicker) Pick(*Version) (*Compaction, error) {
	return nil, fmt.Errorf("lazy leveling: %w", dberrors.ErrUnsupportedStrategy)
}
