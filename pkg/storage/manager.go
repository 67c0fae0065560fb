package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry describes a stored file
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Manager handles atomic file writes and write-ordered listing in one directory
type Manager struct {
	dir string
	mu  sync.Mutex
}

// NewManager creates a new storage manager, creating dir if needed
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the managed directory
func (m *Manager) Dir() string {
	return m.dir
}

// Write stores the contents of r under name atomically.
// The new file's modification time is made strictly later than that of
// every entry sharing its extension, so List order follows write order.
func (m *Manager) Write(name string, r io.Reader) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid file name %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	filename := filepath.Join(m.dir, name)
	tempFile := filename + ".tmp"

	out, err := os.Create(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	if err == nil {
		err = out.Sync()
	}
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to write file data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to close file: %w", closeErr)
	}

	latest, err := m.latestModTime(filepath.Ext(name), name)
	if err != nil {
		os.Remove(tempFile)
		return "", err
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to rename temporary file: %w", err)
	}

	info, err := os.Stat(filename)
	if err != nil {
		return "", fmt.Errorf("failed to stat written file: %w", err)
	}
	if !latest.IsZero() && !info.ModTime().After(latest) {
		bumped := latest.Add(time.Millisecond)
		if err := os.Chtimes(filename, bumped, bumped); err != nil {
			return "", fmt.Errorf("failed to order written file: %w", err)
		}
	}

	return filename, nil
}

// WriteBytes stores data under name atomically
func (m *Manager) WriteBytes(name string, data []byte) (string, error) {
	return m.Write(name, bytes.NewReader(data))
}

// List returns the entries with the given extension, oldest write first.
// An empty extension lists every regular file.
func (m *Manager) List(ext string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasSuffix(de.Name(), ".tmp") {
			continue
		}
		if ext != "" && filepath.Ext(de.Name()) != ext {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", de.Name(), err)
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Path:    filepath.Join(m.dir, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	return entries, nil
}

// Prune deletes the oldest entries with the given extension so that at most
// keep remain. keep <= 0 keeps everything. It returns the removed paths.
func (m *Manager) Prune(ext string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.List(ext)
	if err != nil {
		return nil, err
	}
	if len(entries) <= keep {
		return nil, nil
	}

	var removed []string
	for _, e := range entries[:len(entries)-keep] {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", e.Name, err)
		}
		removed = append(removed, e.Path)
	}
	return removed, nil
}

// Exists checks whether name is present in the directory
func (m *Manager) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(m.dir, name))
	return err == nil
}

// latestModTime returns the newest modification time among entries with ext,
// ignoring the file about to be replaced
func (m *Manager) latestModTime(ext, skip string) (time.Time, error) {
	entries, err := m.List(ext)
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, e := range entries {
		if e.Name != skip && e.ModTime.After(latest) {
			latest = e.ModTime
		}
	}
	return latest, nil
}
