package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	errs "rgbdtrain/pkg/errors"
	"rgbdtrain/pkg/logger"
	"rgbdtrain/pkg/storage"
)

const (
	// Version is the current checkpoint file format version
	Version = 1
	// Extension is the file extension of checkpoint files
	Extension = ".ckpt"
)

// Checkpoint is a persisted snapshot sufficient to resume training.
// EpochOffset and StepOffset are one past the last completed epoch and step.
type Checkpoint struct {
	EpochOffset    int       `json:"epoch_offset"`
	StepOffset     int       `json:"step_offset"`
	Arch           string    `json:"arch"`
	ModelState     []byte    `json:"state_dict"`
	BestAccuracy   float64   `json:"best_prec1"`
	OptimizerState []byte    `json:"optim"`
	CreatedAt      time.Time `json:"created_at"`
	Version        int       `json:"version"`
	Digest         string    `json:"digest"`
}

// ComputeDigest returns the BLAKE2b-256 digest of the checkpoint payload
func (c *Checkpoint) ComputeDigest() string {
	h, _ := blake2b.New256(nil)

	writeBytes := func(b []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	writeInt := func(v uint64) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], v)
		h.Write(n[:])
	}

	writeBytes([]byte(c.Arch))
	writeInt(uint64(int64(c.EpochOffset)))
	writeInt(uint64(int64(c.StepOffset)))
	writeInt(math.Float64bits(c.BestAccuracy))
	writeBytes(c.ModelState)
	writeBytes(c.OptimizerState)

	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks the stored digest against the payload
func (c *Checkpoint) Verify() error {
	if c.Digest == "" {
		return errs.New(errs.ErrorTypeCorruptCheckpoint, "verify digest", fmt.Errorf("missing digest"))
	}
	if got := c.ComputeDigest(); got != c.Digest {
		return errs.New(errs.ErrorTypeCorruptCheckpoint, "verify digest",
			fmt.Errorf("digest mismatch: stored %s, computed %s", c.Digest, got))
	}
	return nil
}

// Summary returns the human-inspectable fields of the checkpoint
func (c *Checkpoint) Summary() map[string]interface{} {
	return map[string]interface{}{
		"arch":            c.Arch,
		"epoch_offset":    c.EpochOffset,
		"step_offset":     c.StepOffset,
		"best_accuracy":   c.BestAccuracy,
		"model_bytes":     len(c.ModelState),
		"optimizer_bytes": len(c.OptimizerState),
		"created_at":      c.CreatedAt,
		"version":         c.Version,
		"digest":          c.Digest,
	}
}

// FileName renders the provenance file name for a checkpoint taken at the
// given validation accuracy and epoch
func FileName(accuracy float64, epoch int) string {
	return fmt.Sprintf("val_acc_of_%s_at_epoch:%d%s", formatAccuracy(accuracy), epoch, Extension)
}

// formatAccuracy prints the shortest round-tripping decimal, keeping a
// trailing ".0" on whole numbers
func formatAccuracy(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Saver persists checkpoints with bounded retention per directory
type Saver struct {
	logger logger.Logger
	now    func() time.Time
}

// NewSaver creates a new checkpoint saver
func NewSaver(log logger.Logger) *Saver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Saver{logger: log, now: time.Now}
}

// Persist writes ckpt to dir/name, then deletes the oldest checkpoints in dir
// beyond maxRetained. maxRetained <= 0 keeps every checkpoint.
func (s *Saver) Persist(ckpt *Checkpoint, dir, name string, maxRetained int) (string, error) {
	manager, err := storage.NewManager(dir)
	if err != nil {
		return "", errs.New(errs.ErrorTypeCheckpointIO, "prepare checkpoint directory", err)
	}

	ckpt.CreatedAt = s.now()
	ckpt.Version = Version
	ckpt.Digest = ckpt.ComputeDigest()

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(ckpt); err != nil {
		return "", errs.New(errs.ErrorTypeCheckpointIO, "encode checkpoint", err)
	}

	path, err := manager.Write(name, &buf)
	if err != nil {
		return "", errs.New(errs.ErrorTypeCheckpointIO, "write checkpoint", err)
	}

	removed, err := manager.Prune(Extension, maxRetained)
	if err != nil {
		return path, errs.New(errs.ErrorTypeCheckpointIO, "prune checkpoints", err)
	}

	s.logger.DebugWithFields("Checkpoint written", map[string]interface{}{
		"path":         path,
		"epoch_offset": ckpt.EpochOffset,
		"step_offset":  ckpt.StepOffset,
		"evicted":      len(removed),
	})
	for _, p := range removed {
		s.logger.WithField("path", p).Debug("Checkpoint evicted")
	}

	return path, nil
}

// Load reads a checkpoint file and verifies its digest
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeCheckpointIO, "open checkpoint", err)
	}
	defer file.Close()

	var ckpt Checkpoint
	if err := json.NewDecoder(file).Decode(&ckpt); err != nil {
		return nil, errs.New(errs.ErrorTypeCorruptCheckpoint, "decode checkpoint", err)
	}
	if ckpt.Version > Version {
		return nil, errs.Newf(errs.ErrorTypeCorruptCheckpoint, "decode checkpoint",
			"unsupported checkpoint version %d", ckpt.Version)
	}
	if err := ckpt.Verify(); err != nil {
		return nil, err
	}

	return &ckpt, nil
}

// List returns the checkpoint files in dir, oldest write first.
// A missing directory yields no entries.
func List(dir string) ([]storage.Entry, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	manager, err := storage.NewManager(dir)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeCheckpointIO, "open checkpoint directory", err)
	}
	entries, err := manager.List(Extension)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeCheckpointIO, "list checkpoints", err)
	}
	return entries, nil
}

// Latest returns the path of the most recently written checkpoint in dir,
// or "" when there is none
func Latest(dir string) (string, error) {
	entries, err := List(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1].Path, nil
}

// Dirs returns the general and best checkpoint directories of a run
func Dirs(logRoot, runName string) (latest, best string) {
	latest = filepath.Join(logRoot, runName, "checkpoints")
	return latest, filepath.Join(latest, "best")
}
