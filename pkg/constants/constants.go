package constants

// Application constants
const (
	// Application metadata
	AppName        = "seqcast-cli"
	AppDescription = "Sequence-to-sequence forecasting hyperparameter search"
	AppVersion     = "0.1.0"

	// Search defaults
	DefaultHorizon      = 72
	DefaultBatchSize    = 16
	DefaultDropout      = 0.5
	DefaultLearningRate = 0.0001
	DefaultEpochs       = 1
	DefaultPatience     = 30
	DefaultWeightDecay  = 0.001
	DefaultSeed         = 0

	// LstNet family defaults
	DefaultSkipHidden = 4
	DefaultSkipSpan   = 23

	// Model families
	FamilyRNConv = "rnconv"
	FamilyRNN    = "rnn"
	FamilyLstNet = "lstnet"
	FamilyMLP    = "mlp"

	// Recurrent cell types
	CellLSTM  = "lstm"
	CellGRU   = "gru"
	CellElman = "elman"

	// Artifact naming
	ModelDirPattern     = "models_%s_%d"
	PredDirPattern      = "preds_%s_%d"
	ErrorLedgerPattern  = "errors_%s_%d.json"
	ConfigLedgerPattern = "configs_%s_%d.json"
	ContinueSuffix      = "_continue"
	CheckpointExt       = ".ckpt.json"
)
