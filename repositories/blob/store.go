// Package blob resolves audit event payloads stored in an append-only file of
// JSON documents. Each metadata row carries the (offset, length) of its
// document; readers never need to scan or parse the file as a whole.
package blob

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/upb/audit-query/repositories"
	"go.uber.org/zap"
	"golang.org/x/exp/mmap"
)

// Open opens the payload file with a shared read-only mapping, or with
// positioned reads when useMmap is false.
func Open(path string, useMmap bool, logger *zap.Logger) (repositories.PayloadReader, error) {
	var (
		store repositories.PayloadReader
		err   error
	)
	if useMmap {
		store, err = OpenMmap(path)
	} else {
		store, err = OpenFile(path)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("payload store opened",
		zap.String("path", path),
		zap.Bool("mmap", useMmap),
		zap.Int64("size_bytes", store.Size()),
	)
	return store, nil
}

// MmapStore serves payloads from a read-only memory mapping of the whole file.
// The mapping is established once and shared by every reader.
type MmapStore struct {
	r    *mmap.ReaderAt
	size int64
}

// OpenMmap maps the payload file read-only
func OpenMmap(path string) (*MmapStore, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map payload file %s: %w", path, err)
	}
	return &MmapStore{r: r, size: int64(r.Len())}, nil
}

// Read decodes the document at [offset, offset+length)
func (s *MmapStore) Read(offset, length int64) (any, error) {
	buf, err := readRange(s.r, s.size, offset, length)
	if err != nil {
		return nil, err
	}
	return Decode(buf)
}

// Size returns the mapped length in bytes
func (s *MmapStore) Size() int64 {
	return s.size
}

// Close unmaps the file
func (s *MmapStore) Close() error {
	return s.r.Close()
}

// FileStore serves payloads with one pread per document
type FileStore struct {
	f    *os.File
	size int64
}

// OpenFile opens the payload file for positioned reads
func OpenFile(path string) (*FileStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat payload file %s: %w", path, err)
	}
	return &FileStore{f: f, size: info.Size()}, nil
}

// Read decodes the document at [offset, offset+length)
func (s *FileStore) Read(offset, length int64) (any, error) {
	buf, err := readRange(s.f, s.size, offset, length)
	if err != nil {
		return nil, err
	}
	return Decode(buf)
}

// Size returns the file length observed at open
func (s *FileStore) Size() int64 {
	return s.size
}

// Close closes the file
func (s *FileStore) Close() error {
	return s.f.Close()
}

// readRange performs a single positioned read of exactly length bytes.
// os.File and mmap.ReaderAt both allow concurrent ReadAt calls.
func readRange(r io.ReaderAt, size, offset, length int64) ([]byte, error) {
	if offset < 0 || length <= 0 || offset > size-length {
		return nil, fmt.Errorf("%w: range [%d, %d) outside payload file of %d bytes",
			repositories.ErrDataCorruption, offset, offset+length, size)
	}

	buf := make([]byte, length)
	n, err := r.ReadAt(buf, offset)
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: short read at offset %d: got %d of %d bytes",
			repositories.ErrDataCorruption, offset, n, length)
	}
	return nil, fmt.Errorf("failed to read payload at offset %d: %w", offset, err)
}

// Decode parses exactly one JSON document. Surrounding whitespace (the
// record's trailing newline) is allowed; anything else is corruption.
// Numbers decode as json.Number so integers survive unchanged.
func Decode(buf []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: invalid payload JSON: %v", repositories.ErrDataCorruption, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after payload document", repositories.ErrDataCorruption)
	}
	return v, nil
}
