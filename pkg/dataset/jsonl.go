package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"rgbdtrain/pkg/storage"
)

const maxLineSize = 16 * 1024 * 1024

// LoadJSONL reads one JSON sample per line from path. Blank lines are skipped.
func LoadJSONL(path string) (*Memory, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	return ReadJSONL(file)
}

// ReadJSONL decodes JSON-lines samples from r
func ReadJSONL(r io.Reader) (*Memory, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var samples []Sample
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var s Sample
		if err := json.Unmarshal(text, &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	return NewMemory(samples)
}

// WriteJSONL atomically writes every sample of ds to dir/name as JSON lines
func WriteJSONL(ds Dataset, dir, name string) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for i := 0; i < ds.Len(); i++ {
		s, err := ds.Get(i)
		if err != nil {
			return "", err
		}
		if err := encoder.Encode(s); err != nil {
			return "", fmt.Errorf("sample %d: %w", i, err)
		}
	}

	manager, err := storage.NewManager(dir)
	if err != nil {
		return "", err
	}
	return manager.Write(name, &buf)
}
