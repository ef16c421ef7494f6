package commands

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/seqcast/seqcast/internal/dataset"
	"github.com/seqcast/seqcast/internal/forecast"
	"github.com/seqcast/seqcast/internal/tensor"
	"github.com/seqcast/seqcast/internal/train"
	"github.com/seqcast/seqcast/pkg/constants"
)

type EvaluateOptions struct {
	Site     string
	Horizon  int
	DeepType string
	RNNType  string
	Name     string
	DataDir  string
	OutDir   string
	Config   []int
	Dropout  float64
	Seed     int64
}

func NewEvaluateCmd() *cobra.Command {
	opts := &EvaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a saved checkpoint against the held-out test split",
		Example: `  # Re-score the checkpoint of an earlier mlp search
  seqcast-cli evaluate --site bear --deep-type mlp --name mlp --set 1,8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Site, "site", "", "site identifier scoping artifacts")
	cmd.Flags().IntVar(&opts.Horizon, "horizon", constants.DefaultHorizon, "prediction horizon in time steps")
	cmd.Flags().StringVar(&opts.DeepType, "deep-type", constants.FamilyMLP, "model family (rnconv, rnn, lstnet, mlp)")
	cmd.Flags().StringVar(&opts.RNNType, "rnn-type", constants.CellLSTM, "recurrent cell type (lstm, gru, elman)")
	cmd.Flags().StringVar(&opts.Name, "name", "lstm", "run name of the checkpoint to score")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", ".", "directory holding the six split artifacts")
	cmd.Flags().StringVar(&opts.OutDir, "out-dir", ".", "directory holding checkpoints and receiving predictions")
	cmd.Flags().IntSliceVar(&opts.Config, "set", nil, "hyperparameter values of the checkpointed model, in tuple order")
	cmd.Flags().Float64Var(&opts.Dropout, "dropout", constants.DefaultDropout, "dropout rate the model was built with")
	cmd.Flags().Int64Var(&opts.Seed, "seed", constants.DefaultSeed, "random seed (weight layout only; weights are overwritten by the checkpoint)")

	return cmd
}

func runEvaluate(cmd *cobra.Command, opts *EvaluateOptions) error {
	logger := logrus.New()

	family, err := forecast.ParseFamily(opts.DeepType)
	if err != nil {
		return err
	}
	cfg, err := forecast.FromSet(family, opts.Config)
	if err != nil {
		return err
	}

	src := dataset.NewFileSource(opts.DataDir, logger)
	splits, err := src.Load(cmd.Context())
	if err != nil {
		return err
	}
	testX, testY := tensor.Wrap(splits.TestX), tensor.Wrap(splits.TestY)

	modelDir := filepath.Join(opts.OutDir, fmt.Sprintf(constants.ModelDirPattern, opts.Site, opts.Horizon))
	store, err := train.NewCheckpointStore(modelDir, logger)
	if err != nil {
		return err
	}
	predDir := filepath.Join(opts.OutDir, fmt.Sprintf(constants.PredDirPattern, opts.Site, opts.Horizon))
	evaluator := train.NewEvaluator(store, predDir, logger)

	seqLen, inF := tensor.SampleShape(splits.TestX)
	horizon, outF := tensor.SampleShape(splits.TestY)
	mopts := forecast.Options{
		InputSize:  inF,
		OutputSize: outF,
		SeqLen:     seqLen,
		Horizon:    horizon,
		Dropout:    opts.Dropout,
		Cell:       opts.RNNType,
		SkipHidden: constants.DefaultSkipHidden,
		SkipSpan:   constants.DefaultSkipSpan,
		Rand:       rand.New(rand.NewSource(opts.Seed)),
	}

	rmse, mae, err := evaluator.Evaluate(cfg, mopts, opts.Name, testX, testY)
	if err != nil {
		return err
	}

	fmt.Printf("Test RMSE: %.4f\n", rmse)
	fmt.Printf("Test MAE: %.4f\n", mae)
	return nil
}
