package blob

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// Writer appends JSON documents to the payload file, one per line.
// It is used by the seeding tools; the query path only reads.
type Writer struct {
	f      *os.File
	w      *bufio.Writer
	offset int64
}

// Create opens path for appending, creating it if needed
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat payload file %s: %w", path, err)
	}
	return &Writer{
		f:      f,
		w:      bufio.NewWriterSize(f, 1<<20),
		offset: info.Size(),
	}, nil
}

// Append writes doc followed by a newline and returns the record's offset
// and length. The length includes the newline.
func (w *Writer) Append(doc any) (offset, length int64, err error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to encode payload: %w", err)
	}
	data = append(data, '\n')

	if _, err := w.w.Write(data); err != nil {
		return 0, 0, fmt.Errorf("failed to write payload: %w", err)
	}

	offset = w.offset
	length = int64(len(data))
	w.offset += length
	return offset, length, nil
}

// Offset returns the position the next record will be written at
func (w *Writer) Offset() int64 {
	return w.offset
}

// Flush writes buffered records through to the file and syncs it
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush payload file: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync payload file: %w", err)
	}
	return nil
}

// Close flushes and closes the file
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}
