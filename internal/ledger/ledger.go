package ledger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/seqcast/seqcast/pkg/errors"
)

// Ledger is an on-disk, run-name-keyed, append-only record of search results
// that accumulates across invocations. Each invocation reads the whole file,
// appends the new values under its run name, and writes the whole file back;
// entries for other run names are never touched.
type Ledger struct {
	path   string
	logger *logrus.Logger
}

// New creates a ledger bound to a file path. The file need not exist yet.
func New(path string, logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	return &Ledger{path: path, logger: logger}
}

// Path returns the backing file path.
func (l *Ledger) Path() string { return l.path }

// Load reads the current ledger contents, or an empty map if the file does
// not exist. A file that exists but does not parse is fatal; the ledger holds
// results of completed searches and must not be silently reset.
func (l *Ledger) Load() (map[string][]float64, error) {
	raw, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return map[string][]float64{}, nil
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "LEDGER_READ",
			fmt.Sprintf("failed to read ledger %s", l.path))
	}

	entries := map[string][]float64{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.WrapError(errors.ErrLedgerCorrupt,
			errors.ErrorTypeStorage, "LEDGER_CORRUPT",
			fmt.Sprintf("ledger %s is not valid JSON: %v", l.path, err))
	}
	return entries, nil
}

// Append merges values onto the run's entry list and persists the result.
// Values accumulate monotonically; nothing is deduplicated or replaced.
func (l *Ledger) Append(run string, values ...float64) error {
	entries, err := l.Load()
	if err != nil {
		return err
	}
	entries[run] = append(entries[run], values...)

	raw, err := json.Marshal(entries)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "LEDGER_ENCODE",
			fmt.Sprintf("failed to encode ledger %s", l.path))
	}
	if err := os.WriteFile(l.path, raw, 0o644); err != nil {
		return errors.WrapError(errors.ErrStorageWriteFailed,
			errors.ErrorTypeStorage, "LEDGER_WRITE",
			fmt.Sprintf("failed to write ledger %s: %v", l.path, err))
	}

	l.logger.WithFields(logrus.Fields{
		"ledger": l.path,
		"run":    run,
		"added":  len(values),
		"total":  len(entries[run]),
	}).Debug("Ledger entry appended")
	return nil
}
