package persistence

import (
	"fmt"
	"path/filepath"

	"lsmengine/pkg/clock"
)

const sstExt = ".sst"

// FileNameGenerator allocates a fresh SSTable path and its numeric id.
type FileNameGenerator interface {
	Generate() (string, uint64)
}

// DirFileNames numbers tables inside one directory.
type DirFileNames struct {
	dir  string
	next *clock.AtomicClock
}

// NewDirFileNames starts numbering after lastID.
func NewDirFileNames(dir string, lastID uint64) *DirFileNames {
	return &DirFileNames{dir: dir, next: clock.NewAtomic(lastID)}
}

func (g *DirFileNames) Generate() (string, uint64) {
	id := g.next.Next()
	return TablePath(g.dir, id), id
}

// LastID is the highest id handed out so far.
func (g *DirFileNames) LastID() uint64 {
	return g.next.Val()
}

func TablePath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d%s", id, sstExt))
}
