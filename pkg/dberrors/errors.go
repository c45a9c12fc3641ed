package dberrors

import "errors"

var (
	ErrNotFound            = errors.New("lsmdb: not found")
	ErrClosed              = errors.New("lsmdb: closed")
	ErrInvalidArgument     = errors.New("lsmdb: invalid argument")
	ErrCompactionRunning   = errors.New("lsmdb: compaction running")
	ErrCorrupted           = errors.New("lsmdb: corrupted data")
	ErrUnsupportedStrategy = errors.New("lsmdb: compaction strategy not supported")
	ErrRecordTooLarge      = errors.New("lsmdb: record does not fit in an empty block")
)
