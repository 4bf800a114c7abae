package testbridge

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testbridge/engine"
	"github.com/ethereum-optimism/infra/op-testbridge/reporting"
)

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(run *engine.RunResult) error
}

// ConsoleResultFormatter prints the result tree as a table followed by a summary line.
type ConsoleResultFormatter struct {
	logger         log.Logger
	out            io.Writer
	showContainers bool
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger:         logger,
		out:            out,
		showContainers: true,
	}
}

// FormatResults formats and displays the run results.
func (f *ConsoleResultFormatter) FormatResults(run *engine.RunResult) error {
	f.logger.Info("Printing results...")
	title := fmt.Sprintf("Test Bridge Results (%s)", formatDuration(run.Duration))
	if err := reporting.NewTableReporter(title, f.showContainers).Print(f.out, run.Tree); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f.out, summarize(run)); err != nil {
		return err
	}
	if run.Violations != nil {
		f.logger.Warn("Report stream violated pairing rules", "err", run.Violations)
	}
	return nil
}
