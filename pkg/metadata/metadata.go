package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"

	"rgbdtrain/pkg/storage"
	"rgbdtrain/pkg/training"
)

// FileName is the name of the summary file inside a run directory
const FileName = "summary.json"

// RunSummary records what a training run did
type RunSummary struct {
	// Identity
	ID   string `json:"id"`
	Run  string `json:"run"`
	Arch string `json:"arch"`

	// Timestamps
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Progress
	Epochs       []training.EpochRecord `json:"epochs"`
	BestAccuracy float64                `json:"best_accuracy"`
	TestAccuracy *float64               `json:"test_accuracy,omitempty"`
	FinalState   training.TrainingState `json:"final_state"`
	ResumedFrom  string                 `json:"resumed_from,omitempty"`
	Error        string                 `json:"error,omitempty"`

	Host Host `json:"host"`
}

// Host describes the machine the run executed on
type Host struct {
	CPU       string   `json:"cpu"`
	Cores     int      `json:"cores"`
	Threads   int      `json:"threads"`
	GOOS      string   `json:"goos"`
	GOARCH    string   `json:"goarch"`
	Features  []string `json:"features,omitempty"`
	GoVersion string   `json:"go_version"`
}

// vector extensions worth reporting for numeric workloads
var reportedFeatures = []cpuid.FeatureID{
	cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F, cpuid.AVX512DQ, cpuid.ASIMD,
}

// DetectHost inspects the current machine
func DetectHost() Host {
	h := Host{
		CPU:       cpuid.CPU.BrandName,
		Cores:     cpuid.CPU.PhysicalCores,
		Threads:   cpuid.CPU.LogicalCores,
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		GoVersion: runtime.Version(),
	}
	if h.Threads == 0 {
		h.Threads = runtime.NumCPU()
	}
	for _, f := range reportedFeatures {
		if cpuid.CPU.Supports(f) {
			h.Features = append(h.Features, f.String())
		}
	}
	return h
}

// New starts a summary for a run
func New(run, arch string) *RunSummary {
	return &RunSummary{
		ID:        uuid.NewString(),
		Run:       run,
		Arch:      arch,
		StartedAt: time.Now(),
		Host:      DetectHost(),
	}
}

// Finish completes the summary from the coordinator's final state.
// runErr, when set, is recorded and the test accuracy left empty.
func (s *RunSummary) Finish(history []training.EpochRecord, state training.TrainingState, testAccuracy float64, runErr error) {
	s.FinishedAt = time.Now()
	s.Epochs = history
	s.FinalState = state
	s.BestAccuracy = state.BestAccuracy
	if runErr != nil {
		s.Error = runErr.Error()
		return
	}
	s.TestAccuracy = &testAccuracy
}

// Save atomically writes the summary into runDir
func (s *RunSummary) Save(runDir string) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}

	manager, err := storage.NewManager(runDir)
	if err != nil {
		return "", fmt.Errorf("failed to open run directory: %w", err)
	}
	path, err := manager.WriteBytes(FileName, data)
	if err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	return path, nil
}

// Load reads the summary of the run in runDir
func Load(runDir string) (*RunSummary, error) {
	data, err := os.ReadFile(filepath.Join(runDir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read summary file: %w", err)
	}

	var s RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return &s, nil
}

// Exists checks if a summary file exists in runDir
func Exists(runDir string) bool {
	_, err := os.Stat(filepath.Join(runDir, FileName))
	return err == nil
}

// Duration returns the wall time of the run, or the time so far if unfinished
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// GetFormattedDuration returns the run duration rounded for display
func (s *RunSummary) GetFormattedDuration() string {
	d := s.Duration()
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Hour:
		return d.Round(time.Second).String()
	default:
		return d.Round(time.Minute).String()
	}
}

// BestEpoch returns the last epoch whose validation accuracy was a new best,
// or -1 when none was
func (s *RunSummary) BestEpoch() int {
	best := -1
	for _, e := range s.Epochs {
		if e.IsBest {
			best = e.Epoch
		}
	}
	return best
}
