package storage

import (
	"encoding/json"
	"os"
	"sync"
)

// JSONLinesWriter implements repository.LogWriter as one JSON object
// per line, appended to a file. Used for both the fetch log and the
// findings stream.
type JSONLinesWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONLinesWriter opens filename for appending, creating it if needed.
func NewJSONLinesWriter(filename string) (*JSONLinesWriter, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONLinesWriter{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Write encodes a single record.
func (w *JSONLinesWriter) Write(record any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(record)
}

// Flush forces buffered data to disk.
func (w *JSONLinesWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Close closes the underlying file.
func (w *JSONLinesWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
