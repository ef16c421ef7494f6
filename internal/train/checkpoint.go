package train

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/seqcast/seqcast/internal/hyper"
	"github.com/seqcast/seqcast/internal/optim"
	"github.com/seqcast/seqcast/pkg/constants"
	"github.com/seqcast/seqcast/pkg/errors"
)

// Checkpoint is the best-model snapshot written on every new global best
// validation loss. Only the most recent one survives per run name.
type Checkpoint struct {
	ModelState map[string]optim.TensorState `json:"model_state"`
}

// ContinueCheckpoint is the full resume snapshot written on cancellation.
type ContinueCheckpoint struct {
	Epoch          int                          `json:"epoch"`
	ModelState     map[string]optim.TensorState `json:"model_state"`
	OptimizerState optim.AdamState              `json:"optimizer_state"`
	ConfigIndex    int                          `json:"config_index"`
	BestConfig     hyper.Set                    `json:"best_config"`
	ScheduleStep   int                          `json:"schedule_step"`
	WarmupStep     int                          `json:"warmup_step"`
}

// CheckpointStore persists checkpoints under a per-site/horizon directory,
// keyed by run name. All writes go through a temp file and rename so a crash
// mid-write never leaves a torn checkpoint behind.
type CheckpointStore struct {
	dir    string
	logger *logrus.Logger
}

// NewCheckpointStore creates the directory if needed.
func NewCheckpointStore(dir string, logger *logrus.Logger) (*CheckpointStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "DIRECTORY_CREATION_FAILED",
			fmt.Sprintf("failed to create checkpoint directory %s", dir))
	}
	return &CheckpointStore{dir: dir, logger: logger}, nil
}

// Dir returns the checkpoint directory.
func (s *CheckpointStore) Dir() string { return s.dir }

func (s *CheckpointStore) bestPath(run string) string {
	return filepath.Join(s.dir, run+constants.CheckpointExt)
}

func (s *CheckpointStore) continuePath(run string) string {
	return filepath.Join(s.dir, run+constants.ContinueSuffix+constants.CheckpointExt)
}

func (s *CheckpointStore) writeAtomic(path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "CHECKPOINT_ENCODE",
			fmt.Sprintf("failed to encode checkpoint %s", path))
	}

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "CHECKPOINT_TMP",
			fmt.Sprintf("failed to create temp file for %s", path))
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.WrapError(errors.ErrStorageWriteFailed,
			errors.ErrorTypeStorage, "CHECKPOINT_WRITE",
			fmt.Sprintf("failed to write checkpoint %s: %v", path, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.WrapError(err, errors.ErrorTypeStorage, "CHECKPOINT_CLOSE",
			fmt.Sprintf("failed to close temp checkpoint for %s", path))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.WrapError(err, errors.ErrorTypeStorage, "CHECKPOINT_RENAME",
			fmt.Sprintf("failed to move checkpoint into place at %s", path))
	}
	return nil
}

// SaveBest overwrites the run's best-model checkpoint.
func (s *CheckpointStore) SaveBest(run string, modelState map[string]optim.TensorState) error {
	if err := s.writeAtomic(s.bestPath(run), &Checkpoint{ModelState: modelState}); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"run":  run,
		"path": s.bestPath(run),
	}).Debug("Best checkpoint written")
	return nil
}

// LoadBest loads the run's best-model checkpoint.
func (s *CheckpointStore) LoadBest(run string) (*Checkpoint, error) {
	raw, err := os.ReadFile(s.bestPath(run))
	if os.IsNotExist(err) {
		return nil, errors.WrapError(errors.ErrCheckpointNotFound,
			errors.ErrorTypeStorage, "CHECKPOINT_NOT_FOUND",
			fmt.Sprintf("no checkpoint for run %q in %s", run, s.dir))
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "CHECKPOINT_READ",
			fmt.Sprintf("failed to read checkpoint for run %q", run))
	}
	var ck Checkpoint
	if err := json.Unmarshal(raw, &ck); err != nil {
		return nil, errors.WrapError(errors.ErrCheckpointCorrupt,
			errors.ErrorTypeStorage, "CHECKPOINT_CORRUPT",
			fmt.Sprintf("checkpoint for run %q is not valid JSON: %v", run, err))
	}
	return &ck, nil
}

// HasBest reports whether a best checkpoint exists for the run.
func (s *CheckpointStore) HasBest(run string) bool {
	_, err := os.Stat(s.bestPath(run))
	return err == nil
}

// SaveContinue overwrites the run's resume checkpoint.
func (s *CheckpointStore) SaveContinue(run string, ck *ContinueCheckpoint) error {
	if err := s.writeAtomic(s.continuePath(run), ck); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"run":          run,
		"epoch":        ck.Epoch,
		"config_index": ck.ConfigIndex,
	}).Info("Continue checkpoint written")
	return nil
}

// LoadContinue loads the run's resume checkpoint.
func (s *CheckpointStore) LoadContinue(run string) (*ContinueCheckpoint, error) {
	raw, err := os.ReadFile(s.continuePath(run))
	if os.IsNotExist(err) {
		return nil, errors.WrapError(errors.ErrCheckpointNotFound,
			errors.ErrorTypeStorage, "CHECKPOINT_NOT_FOUND",
			fmt.Sprintf("no continue checkpoint for run %q in %s", run, s.dir))
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "CHECKPOINT_READ",
			fmt.Sprintf("failed to read continue checkpoint for run %q", run))
	}
	var ck ContinueCheckpoint
	if err := json.Unmarshal(raw, &ck); err != nil {
		return nil, errors.WrapError(errors.ErrCheckpointCorrupt,
			errors.ErrorTypeStorage, "CHECKPOINT_CORRUPT",
			fmt.Sprintf("continue checkpoint for run %q is not valid JSON: %v", run, err))
	}
	return &ck, nil
}
