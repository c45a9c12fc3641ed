package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const DefaultWriteBufferSize = 1 << 20

// FileWriter is a buffered sequential writer. Errors are sticky: once an
// Append fails every later call is a no-op and Flush reports the first error.
type FileWriter struct {
	file   *os.File
	writer *bufio.Writer
	path   string
	size   uint64
	err    error
}

// CreateFile creates (or truncates) path for sequential writing.
func CreateFile(path string, bufSize int) (*FileWriter, error) {
	if bufSize <= 0 {
		bufSize = DefaultWriteBufferSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &FileWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, bufSize),
		path:   path,
	}, nil
}

func (w *FileWriter) Append(b []byte) {
	if w.err != nil {
		return
	}
	n, err := w.writer.Write(b)
	w.size += uint64(n)
	if err != nil {
		w.err = fmt.Errorf("failed to write %s: %w", w.path, err)
	}
}

func (w *FileWriter) AppendUint32(v uint32) {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], v)
	w.Append(buf[:])
}

func (w *FileWriter) AppendUint64(v uint64) {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], v)
	w.Append(buf[:])
}

// Size is the number of bytes appended so far.
func (w *FileWriter) Size() uint64 {
	return w.size
}

func (w *FileWriter) Path() string {
	return w.path
}

func (w *FileWriter) Err() error {
	return w.err
}

// Flush pushes buffered bytes to the file and syncs it.
func (w *FileWriter) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.writer.Flush(); err != nil {
		w.err = fmt.Errorf("failed to flush %s: %w", w.path, err)
		return w.err
	}
	if err := w.file.Sync(); err != nil {
		w.err = fmt.Errorf("failed to sync %s: %w", w.path, err)
		return w.err
	}
	return nil
}

func (w *FileWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ReadFile is a random-access reader over an immutable file.
type ReadFile struct {
	file *os.File
	path string
	size int64
}

func OpenReadFile(path string) (*ReadFile, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close file after stat error", "path", path, "error", cerr)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &ReadFile{file: file, path: path, size: info.Size()}, nil
}

// Read fills buf from offset. A short read is an error.
func (r *ReadFile) Read(buf []byte, offset uint64) error {
	if offset > uint64(r.size) || uint64(len(buf)) > uint64(r.size)-offset {
		return fmt.Errorf("read [%d, %d) beyond end of %s (%d bytes): %w",
			offset, offset+uint64(len(buf)), r.path, r.size, io.ErrUnexpectedEOF)
	}
	n, err := r.file.ReadAt(buf, int64(offset))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return fmt.Errorf("failed to read %s at %d: %w", r.path, offset, err)
	}
	return nil
}

func (r *ReadFile) Size() int64 {
	return r.size
}

func (r *ReadFile) Path() string {
	return r.path
}

func (r *ReadFile) Close() error {
	return r.file.Close()
}
