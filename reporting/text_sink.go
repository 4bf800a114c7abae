package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// SummaryFileName is the name of the text summary written per run
const SummaryFileName = "summary.log"

// TextSummarySink writes the text summary of a finished run to disk
type TextSummarySink struct {
	formatter *TreeTextFormatter
	baseDir   string
}

// NewTextSummarySink creates a summary sink writing below baseDir
func NewTextSummarySink(baseDir string, includeDetails bool) *TextSummarySink {
	formatter := NewTreeTextFormatter(
		false, // includeContainers - cleaner summary without container noise
		true,  // includeStats
		includeDetails,
		false, // showExecutionOrder
	)
	return &TextSummarySink{
		formatter: formatter,
		baseDir:   baseDir,
	}
}

// RunDir returns the directory holding the artifacts of a run
func RunDir(baseDir, runID string) string {
	return filepath.Join(baseDir, "testrun-"+runID)
}

// Write formats tree and stores it as the summary of its run. It returns the
// path of the written file.
func (s *TextSummarySink) Write(tree *types.TestTree) (string, error) {
	outputDir := RunDir(s.baseDir, tree.RunID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	content, err := s.formatter.Format(tree)
	if err != nil {
		return "", fmt.Errorf("failed to format text summary: %w", err)
	}

	summaryFile := filepath.Join(outputDir, SummaryFileName)
	if err := os.WriteFile(summaryFile, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	return summaryFile, nil
}

// TableReporter renders result tables for the console
type TableReporter struct {
	formatter *TreeTableFormatter
}

// NewTableReporter creates a new table reporter
func NewTableReporter(title string, showContainers bool) *TableReporter {
	return &TableReporter{
		formatter: NewTreeTableFormatter(title, showContainers, false),
	}
}

// Generate returns the table for tree
func (tr *TableReporter) Generate(tree *types.TestTree) (string, error) {
	return tr.formatter.Format(tree)
}

// Print writes the table for tree to w
func (tr *TableReporter) Print(w io.Writer, tree *types.TestTree) error {
	content, err := tr.Generate(tree)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, content)
	return err
}
