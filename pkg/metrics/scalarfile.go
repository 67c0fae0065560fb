package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"rgbdtrain/internal/jsonfloat"
)

// Scalar is one line of a scalar file
type Scalar struct {
	Name     string    `json:"name"`
	Value    float64   `json:"value"`
	Index    int       `json:"index"`
	WallTime time.Time `json:"wall_time"`
}

// MarshalJSON writes non-finite values as "NaN", "+Inf" or "-Inf"
func (s Scalar) MarshalJSON() ([]byte, error) {
	type plain Scalar
	return json.Marshal(struct {
		plain
		Value jsonfloat.Value `json:"value"`
	}{plain(s), jsonfloat.Value(s.Value)})
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	type plain Scalar
	aux := struct {
		*plain
		Value jsonfloat.Value `json:"value"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Value = float64(aux.Value)
	return nil
}

// ScalarFile appends scalars to a JSON-lines file
type ScalarFile struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	now     func() time.Time
}

// OpenScalarFile opens path for appending, creating parent directories
func OpenScalarFile(path string) (*ScalarFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create scalar directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open scalar file: %w", err)
	}

	w := bufio.NewWriter(file)
	return &ScalarFile{file: file, writer: w, encoder: json.NewEncoder(w), now: time.Now}, nil
}

// Record appends one scalar and flushes it to the file
func (f *ScalarFile) Record(name string, value float64, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return fmt.Errorf("scalar file is closed")
	}
	if err := f.encoder.Encode(Scalar{Name: name, Value: value, Index: index, WallTime: f.now()}); err != nil {
		return fmt.Errorf("failed to write scalar: %w", err)
	}
	return f.writer.Flush()
}

// Close flushes and closes the file
func (f *ScalarFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	flushErr := f.writer.Flush()
	closeErr := f.file.Close()
	f.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// ReadScalars reads every scalar from a JSON-lines file
func ReadScalars(path string) ([]Scalar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scalar file: %w", err)
	}
	defer file.Close()

	var out []Scalar
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var s Scalar
		if err := decoder.Decode(&s); err != nil {
			return nil, fmt.Errorf("scalar %d: %w", len(out), err)
		}
		out = append(out, s)
	}
	return out, nil
}
