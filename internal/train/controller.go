package train

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/seqcast/seqcast/internal/dataset"
	"github.com/seqcast/seqcast/internal/forecast"
	"github.com/seqcast/seqcast/internal/hyper"
	"github.com/seqcast/seqcast/internal/ledger"
	"github.com/seqcast/seqcast/internal/observability/metrics"
	"github.com/seqcast/seqcast/internal/optim"
	"github.com/seqcast/seqcast/internal/tensor"
	"github.com/seqcast/seqcast/pkg/constants"
	"github.com/seqcast/seqcast/pkg/errors"
)

// SearchOptions configures one hyperparameter search invocation.
type SearchOptions struct {
	Site    string
	Horizon int
	RunName string

	Family forecast.Family
	Cell   string

	Layers      []int
	HiddenSizes []int
	Kernels     []int

	BatchSize   int
	Dropout     float64
	LR          float64
	WeightDecay float64
	Epochs      int
	Patience    int
	Seed        int64

	SkipHidden int
	SkipSpan   int

	// BaseDir anchors every artifact the search writes: checkpoint and
	// prediction directories and the two ledgers.
	BaseDir string

	// Resume restarts an interrupted search from its continue checkpoint.
	Resume bool

	RemainderPolicy     tensor.RemainderPolicy
	PredPolicy          PredPolicy
	ResetStallOnImprove bool
}

func (o *SearchOptions) applyDefaults() {
	if o.Horizon == 0 {
		o.Horizon = constants.DefaultHorizon
	}
	if o.BatchSize == 0 {
		o.BatchSize = constants.DefaultBatchSize
	}
	if o.LR == 0 {
		o.LR = constants.DefaultLearningRate
	}
	if o.WeightDecay == 0 {
		o.WeightDecay = constants.DefaultWeightDecay
	}
	if o.Epochs == 0 {
		o.Epochs = constants.DefaultEpochs
	}
	if o.Patience == 0 {
		o.Patience = constants.DefaultPatience
	}
	if o.Cell == "" {
		o.Cell = constants.CellLSTM
	}
	if o.SkipHidden == 0 {
		o.SkipHidden = constants.DefaultSkipHidden
	}
	if o.SkipSpan == 0 {
		o.SkipSpan = constants.DefaultSkipSpan
	}
}

// SearchResult summarizes a finished search.
type SearchResult struct {
	SearchID    string    `json:"search_id"`
	BestConfig  hyper.Set `json:"best_config"`
	BestValLoss float64   `json:"best_val_loss"`
	TestRMSE    float64   `json:"test_rmse"`
	TestMAE     float64   `json:"test_mae"`
	Configs     int       `json:"configs"`
}

// SearchController drives the full search: config space enumeration, one
// trainer run per candidate, per-config evaluation, and the final
// best-config evaluation merged into the persistent ledgers.
type SearchController struct {
	opts    SearchOptions
	logger  *logrus.Logger
	metrics *metrics.SearchMetrics

	store     *CheckpointStore
	errLedger *ledger.Ledger
	cfgLedger *ledger.Ledger
	rng       *rand.Rand
	searchID  string
}

// NewSearchController wires the search's stores, ledgers, and seeded random
// source. All ambient state is explicit here; nothing global is consulted.
func NewSearchController(opts SearchOptions, logger *logrus.Logger) (*SearchController, error) {
	if logger == nil {
		logger = logrus.New()
	}
	opts.applyDefaults()

	if opts.RunName == "" {
		return nil, errors.NewValidationError("MISSING_RUN_NAME", "a run name is required")
	}
	if _, err := forecast.ParseFamily(string(opts.Family)); err != nil {
		return nil, err
	}

	modelDir := fmt.Sprintf(constants.ModelDirPattern, opts.Site, opts.Horizon)
	errPath := fmt.Sprintf(constants.ErrorLedgerPattern, opts.Site, opts.Horizon)
	cfgPath := fmt.Sprintf(constants.ConfigLedgerPattern, opts.Site, opts.Horizon)
	if opts.BaseDir != "" {
		modelDir = filepath.Join(opts.BaseDir, modelDir)
		errPath = filepath.Join(opts.BaseDir, errPath)
		cfgPath = filepath.Join(opts.BaseDir, cfgPath)
	}

	store, err := NewCheckpointStore(modelDir, logger)
	if err != nil {
		return nil, err
	}

	return &SearchController{
		opts:      opts,
		logger:    logger,
		metrics:   metrics.NewSearchMetrics(logger),
		store:     store,
		errLedger: ledger.New(errPath, logger),
		cfgLedger: ledger.New(cfgPath, logger),
		rng:       rand.New(rand.NewSource(opts.Seed)),
		searchID:  uuid.NewString(),
	}, nil
}

// Store exposes the checkpoint store, for the evaluate command and tests.
func (c *SearchController) Store() *CheckpointStore { return c.store }

// Metrics exposes the search metric set.
func (c *SearchController) Metrics() *metrics.SearchMetrics { return c.metrics }

func (c *SearchController) predDir() string {
	dir := fmt.Sprintf(constants.PredDirPattern, c.opts.Site, c.opts.Horizon)
	if c.opts.BaseDir != "" {
		dir = filepath.Join(c.opts.BaseDir, dir)
	}
	return dir
}

// modelOptions derives the fixed shape parameters from the loaded data.
func (c *SearchController) modelOptions(splits *dataset.Splits) forecast.Options {
	seqLen, inF := tensor.SampleShape(splits.TrainX)
	horizon, outF := tensor.SampleShape(splits.TrainY)
	return forecast.Options{
		InputSize:  inF,
		OutputSize: outF,
		SeqLen:     seqLen,
		Horizon:    horizon,
		Dropout:    c.opts.Dropout,
		Cell:       c.opts.Cell,
		SkipHidden: c.opts.SkipHidden,
		SkipSpan:   c.opts.SkipSpan,
		Rand:       c.rng,
	}
}

// Run executes the whole search. On context cancellation it returns the
// wrapped ErrCancelled after the continue checkpoint has been written; any
// other error aborts the sweep where it stands.
func (c *SearchController) Run(ctx context.Context, src dataset.Source) (*SearchResult, error) {
	splits, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}

	trainX, trainY, err := tensor.MakeBatches(c.opts.BatchSize, splits.TrainX, splits.TrainY, c.opts.RemainderPolicy)
	if err != nil {
		return nil, err
	}
	validX, validY := tensor.Wrap(splits.ValidX), tensor.Wrap(splits.ValidY)
	testX, testY := tensor.Wrap(splits.TestX), tensor.Wrap(splits.TestY)

	lists := forecast.HyperLists(c.opts.Family, c.opts.Layers, c.opts.HiddenSizes, c.opts.Kernels)
	space := hyper.Space(c.rng, lists...)
	if len(space) == 0 {
		c.logger.Warn("Configuration space is empty; nothing to search")
		return nil, errors.WrapError(errors.ErrEmptyConfigSpace,
			errors.ErrorTypeValidation, "EMPTY_SPACE",
			"no candidate configurations for the given hyperparameter lists")
	}

	c.logger.WithFields(logrus.Fields{
		"search_id": c.searchID,
		"run":       c.opts.RunName,
		"family":    c.opts.Family,
		"configs":   len(space),
		"batches":   len(trainX),
	}).Info("Search started")

	mopts := c.modelOptions(splits)
	evaluator := NewEvaluator(c.store, c.predDir(), c.logger)
	evaluator.Policy = c.opts.PredPolicy
	trainer := NewTrainer(c.store, c.opts.RunName, c.metrics, c.logger)
	trainer.Patience = c.opts.Patience
	trainer.ResetStallOnImprove = c.opts.ResetStallOnImprove

	valLoss := math.Inf(1)
	bestConfig := space[0]
	startIndex := 0

	var resume *ContinueCheckpoint
	if c.opts.Resume {
		resume, err = c.store.LoadContinue(c.opts.RunName)
		if err != nil {
			return nil, err
		}
		startIndex = resume.ConfigIndex
		bestConfig = resume.BestConfig
		c.logger.WithFields(logrus.Fields{
			"config_index": startIndex,
			"epoch":        resume.Epoch,
		}).Info("Resuming interrupted search")
	}

	result := &SearchResult{SearchID: c.searchID}
	for i := startIndex; i < len(space); i++ {
		set := space[i]
		cfg, err := forecast.FromSet(c.opts.Family, set)
		if err != nil {
			return nil, err
		}
		c.logger.WithFields(logrus.Fields{
			"config_index": i,
			"config":       set.String(),
		}).Info("Training configuration")

		model, err := forecast.New(cfg, mopts)
		if err != nil {
			return nil, err
		}
		opt := optim.NewAdam(c.opts.LR, c.opts.WeightDecay)
		sched := optim.NewCosineAnnealing(opt, len(trainX)*c.opts.Epochs)
		warm := optim.NewLinearWarmup(opt)

		epochStart := 0
		if resume != nil {
			if err := model.LoadStateDict(resume.ModelState); err != nil {
				return nil, err
			}
			if err := opt.LoadStateDict(resume.OptimizerState); err != nil {
				return nil, err
			}
			sched.SetT(resume.ScheduleStep)
			warm.SetT(resume.WarmupStep)
			epochStart = resume.Epoch
			resume = nil
		}

		state := NewEpochState(bestConfig, valLoss)
		for epoch := epochStart; epoch < c.opts.Epochs; epoch++ {
			state, err = trainer.TrainEpoch(ctx, model, opt, sched, warm,
				trainX, trainY, validX, validY, epoch, state, set, i)
			if err != nil {
				return nil, err
			}
			if state.Stop {
				break
			}
		}
		valLoss = state.ValLoss
		bestConfig = state.BestConfig
		c.metrics.ConfigsTotal.Inc()
		result.Configs++

		// The running best, not necessarily this config, is what gets
		// scored after every candidate.
		bestCfg, err := forecast.FromSet(c.opts.Family, bestConfig)
		if err != nil {
			return nil, err
		}
		rmse, mae, err := evaluator.Evaluate(bestCfg, mopts, c.opts.RunName, testX, testY)
		if err != nil {
			return nil, err
		}
		c.logger.WithFields(logrus.Fields{
			"config_index": i,
			"test_rmse":    rmse,
			"test_mae":     mae,
		}).Info("Configuration evaluated")
	}

	bestCfg, err := forecast.FromSet(c.opts.Family, bestConfig)
	if err != nil {
		return nil, err
	}
	rmse, mae, err := evaluator.Evaluate(bestCfg, mopts, c.opts.RunName, testX, testY)
	if err != nil {
		return nil, err
	}

	result.BestConfig = bestConfig
	result.BestValLoss = valLoss
	result.TestRMSE = rmse
	result.TestMAE = mae

	if err := c.errLedger.Append(c.opts.RunName, round4(rmse), round4(mae)); err != nil {
		return nil, err
	}
	if err := c.cfgLedger.Append(c.opts.RunName, ledgerValues(c.opts.Family, bestCfg)...); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"search_id":   c.searchID,
		"best_config": bestConfig.String(),
		"test_rmse":   rmse,
		"test_mae":    mae,
	}).Info("Search completed")
	return result, nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// ledgerValues renders the winning hyperparameters in ledger order: layer
// count and hidden size, plus the kernel for the convolutional family. The
// skip-connection family has no layer dimension and records a single layer.
func ledgerValues(f forecast.Family, cfg forecast.Config) []float64 {
	switch c := cfg.(type) {
	case forecast.ConvStackConfig:
		return []float64{float64(c.Layers), float64(c.Hidden), float64(c.Kernel)}
	case forecast.SkipConfig:
		return []float64{1, float64(c.HiddenRNN)}
	default:
		vals := cfg.Values()
		return []float64{float64(vals[0]), float64(vals[1])}
	}
}
