package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/seqcast/seqcast/internal/dataset"
	"github.com/seqcast/seqcast/internal/forecast"
	"github.com/seqcast/seqcast/internal/tensor"
	"github.com/seqcast/seqcast/internal/train"
	"github.com/seqcast/seqcast/pkg/constants"
)

type SearchOptions struct {
	Site        string
	Horizon     int
	BatchSize   int
	HiddenSizes []int
	Kernels     []int
	Layers      []int
	Dropout     float64
	LR          float64
	Epochs      int
	DeepType    string
	RNNType     string
	Name        string
	DataDir     string
	OutDir      string
	Seed        int64
	Resume      bool
	Strict      bool
	Synthetic   bool
}

func NewSearchCmd() *cobra.Command {
	opts := &SearchOptions{}

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a hyperparameter search over forecasting models",
		Long: `Run a full hyperparameter search: enumerate the candidate configuration
space, train each candidate with early stopping, checkpoint the best model,
and append the winning configuration's test metrics to the result ledgers.`,
		Example: `  # Search LSTM encoders over two widths for a watershed site
  seqcast-cli search --site bear --deep-type rnn --rnn-type lstm --hidden-size 32,64 --n-layers 1,2 --name lstm

  # Convolutional-recurrent search with kernels
  seqcast-cli search --site bear --deep-type rnconv --kernel 1,3,6,9 --name rnconv

  # Resume an interrupted search
  seqcast-cli search --site bear --deep-type mlp --name mlp --resume`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Site, "site", "", "site identifier scoping artifacts and ledgers")
	cmd.Flags().IntVar(&opts.Horizon, "horizon", constants.DefaultHorizon, "prediction horizon in time steps")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", constants.DefaultBatchSize, "training batch size")
	cmd.Flags().IntSliceVar(&opts.HiddenSizes, "hidden-size", []int{64}, "candidate hidden sizes")
	cmd.Flags().IntSliceVar(&opts.Kernels, "kernel", []int{1, 3, 6, 9}, "candidate kernel sizes (convolutional families)")
	cmd.Flags().IntSliceVar(&opts.Layers, "n-layers", []int{6}, "candidate layer counts")
	cmd.Flags().Float64Var(&opts.Dropout, "dropout", constants.DefaultDropout, "dropout rate")
	cmd.Flags().Float64Var(&opts.LR, "lr", constants.DefaultLearningRate, "learning rate")
	cmd.Flags().IntVar(&opts.Epochs, "epochs", constants.DefaultEpochs, "training epochs per configuration")
	cmd.Flags().StringVar(&opts.DeepType, "deep-type", constants.FamilyMLP, "model family (rnconv, rnn, lstnet, mlp)")
	cmd.Flags().StringVar(&opts.RNNType, "rnn-type", constants.CellLSTM, "recurrent cell type (lstm, gru, elman)")
	cmd.Flags().StringVar(&opts.Name, "name", "lstm", "run name keying checkpoints and ledger entries")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", ".", "directory holding the six split artifacts")
	cmd.Flags().StringVar(&opts.OutDir, "out-dir", ".", "directory receiving checkpoints, predictions, and ledgers")
	cmd.Flags().Int64Var(&opts.Seed, "seed", constants.DefaultSeed, "random seed for the configuration shuffle and weight init")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "resume from the run's continue checkpoint")
	cmd.Flags().BoolVar(&opts.Strict, "strict-remainder", false, "drop the batching remainder against the batch size instead of the batch count")
	cmd.Flags().BoolVar(&opts.Synthetic, "synthetic", false, "train on a generated synthetic dataset instead of file artifacts")

	return cmd
}

func runSearch(cmd *cobra.Command, opts *SearchOptions) error {
	logger := logrus.New()

	family, err := forecast.ParseFamily(opts.DeepType)
	if err != nil {
		return err
	}

	remainder := tensor.RemainderModBatchCount
	if opts.Strict {
		remainder = tensor.RemainderModBatchSize
	}

	controller, err := train.NewSearchController(train.SearchOptions{
		Site:                opts.Site,
		Horizon:             opts.Horizon,
		RunName:             opts.Name,
		Family:              family,
		Cell:                opts.RNNType,
		Layers:              opts.Layers,
		HiddenSizes:         opts.HiddenSizes,
		Kernels:             opts.Kernels,
		BatchSize:           opts.BatchSize,
		Dropout:             opts.Dropout,
		LR:                  opts.LR,
		Epochs:              opts.Epochs,
		Seed:                opts.Seed,
		BaseDir:             opts.OutDir,
		Resume:              opts.Resume,
		RemainderPolicy:     remainder,
		ResetStallOnImprove: true,
	}, logger)
	if err != nil {
		return err
	}

	var src dataset.Source
	if opts.Synthetic {
		src = dataset.NewSyntheticSource(dataset.SyntheticConfig{
			TrainSamples: 256,
			ValidSamples: 32,
			TestSamples:  32,
			SeqLen:       24,
			Horizon:      opts.Horizon,
			Features:     3,
			OutFeatures:  1,
			NoiseLevel:   0.1,
			Seed:         opts.Seed,
		})
	} else {
		src = dataset.NewFileSource(opts.DataDir, logger)
	}

	// SIGINT triggers the continue checkpoint and a controlled shutdown.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := controller.Run(ctx, src)
	if err != nil {
		return err
	}

	fmt.Printf("Search complete\n")
	fmt.Printf("Configurations: %d\n", result.Configs)
	fmt.Printf("Best config: %s\n", result.BestConfig)
	fmt.Printf("Test RMSE: %.4f\n", result.TestRMSE)
	fmt.Printf("Test MAE: %.4f\n", result.TestMAE)
	return nil
}
