package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/seqcast/seqcast/internal/tensor"
	"github.com/seqcast/seqcast/pkg/errors"
)

// Splits holds the six pre-split, pre-scaled tensor artifacts the training
// core consumes: already-windowed series, ready for batching.
type Splits struct {
	TrainX tensor.Series
	TrainY tensor.Series
	ValidX tensor.Series
	ValidY tensor.Series
	TestX  tensor.Series
	TestY  tensor.Series
}

// Validate checks that every split pairs inputs with targets of the same
// length and that the training split is non-empty.
func (s *Splits) Validate() error {
	pairs := []struct {
		name string
		x, y tensor.Series
	}{
		{"train", s.TrainX, s.TrainY},
		{"valid", s.ValidX, s.ValidY},
		{"test", s.TestX, s.TestY},
	}
	for _, p := range pairs {
		if len(p.x) != len(p.y) {
			return errors.WrapError(errors.ErrShapeMismatch,
				errors.ErrorTypeData, "SHAPE_MISMATCH",
				fmt.Sprintf("%s split has %d inputs and %d targets", p.name, len(p.x), len(p.y)))
		}
	}
	if len(s.TrainX) == 0 {
		return errors.WrapError(errors.ErrInsufficientData,
			errors.ErrorTypeData, "EMPTY_SPLIT", "training split is empty")
	}
	return nil
}

// Source supplies the six split artifacts.
type Source interface {
	Load(ctx context.Context) (*Splits, error)
}

// Artifact file names, one per split tensor.
var artifactNames = map[string]string{
	"train_x": "train_x.json",
	"train_y": "train_y.json",
	"valid_x": "valid_x.json",
	"valid_y": "valid_y.json",
	"test_x":  "test_x.json",
	"test_y":  "test_y.json",
}

// FileSource reads the split artifacts from a directory of JSON files, each
// holding a 3-D nested array (sample, time step, feature).
type FileSource struct {
	dir    string
	logger *logrus.Logger
}

// NewFileSource creates a source reading from dir.
func NewFileSource(dir string, logger *logrus.Logger) *FileSource {
	if logger == nil {
		logger = logrus.New()
	}
	return &FileSource{dir: dir, logger: logger}
}

// Load reads and shapes all six artifacts.
func (fs *FileSource) Load(ctx context.Context) (*Splits, error) {
	read := func(key string) (tensor.Series, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		path := filepath.Join(fs.dir, artifactNames[key])
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, errors.WrapError(errors.ErrMissingArtifact,
				errors.ErrorTypeData, "ARTIFACT_NOT_FOUND",
				fmt.Sprintf("dataset artifact %s not found", path))
		}
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeData, "ARTIFACT_READ",
				fmt.Sprintf("failed to read dataset artifact %s", path))
		}
		var data [][][]float64
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeData, "ARTIFACT_DECODE",
				fmt.Sprintf("dataset artifact %s is not a 3-D JSON array", path))
		}
		return tensor.FromSlices(data)
	}

	splits := &Splits{}
	var err error
	if splits.TrainX, err = read("train_x"); err != nil {
		return nil, err
	}
	if splits.TrainY, err = read("train_y"); err != nil {
		return nil, err
	}
	if splits.ValidX, err = read("valid_x"); err != nil {
		return nil, err
	}
	if splits.ValidY, err = read("valid_y"); err != nil {
		return nil, err
	}
	if splits.TestX, err = read("test_x"); err != nil {
		return nil, err
	}
	if splits.TestY, err = read("test_y"); err != nil {
		return nil, err
	}

	if err := splits.Validate(); err != nil {
		return nil, err
	}
	fs.logger.WithFields(logrus.Fields{
		"dir":   fs.dir,
		"train": len(splits.TrainX),
		"valid": len(splits.ValidX),
		"test":  len(splits.TestX),
	}).Info("Dataset artifacts loaded")
	return splits, nil
}
