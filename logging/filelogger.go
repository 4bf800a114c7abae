package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-testbridge/reporting"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/ethereum/go-ethereum/log"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	EventsFilename     = "events.jsonl"
	AllLogsFilename    = "all.log"
	ResultsFilename    = "results.json"
	FailedDirName      = "failed"
)

// FileLogger owns the artifact directory of one run
type FileLogger struct {
	baseDir      string                // Base directory for logs
	logDir       string                // Directory of this run
	failedDir    string                // Directory for failed tests
	mu           sync.Mutex            // Protects asyncWriters
	asyncWriters map[string]*AsyncFile // Map of async file writers
	runID        string
	log          log.Logger
	summary      *reporting.TextSummarySink
	events       *EventLogSink
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	log     log.Logger
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(logger log.Logger, path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100), // Buffer channel to reduce blocking
		log:   logger,
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	af.queue <- dataCopy
	return nil
}

// processQueue processes the write queue in the background
func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			af.log.Error("Error writing to file", "file", af.file.Name(), "err", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates the run directory below baseDir
func NewFileLogger(logger log.Logger, baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(logDir, FailedDirName)
	for _, dir := range []string{baseDir, logDir, failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	l := &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		failedDir:    failedDir,
		asyncWriters: make(map[string]*AsyncFile),
		runID:        runID,
		log:          logger.New("component", "file-logger", "run_id", runID),
		summary:      reporting.NewTextSummarySink(baseDir, true),
	}

	events, err := l.getAsyncWriter(filepath.Join(logDir, EventsFilename))
	if err != nil {
		return nil, err
	}
	all, err := l.getAsyncWriter(filepath.Join(logDir, AllLogsFilename))
	if err != nil {
		return nil, err
	}
	l.events = newEventLogSink(events, all)
	return l, nil
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	writer, err := NewAsyncFile(l.log, path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

// closeAllWriters closes all async writers
func (l *FileLogger) closeAllWriters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for path, writer := range l.asyncWriters {
		if err := writer.Close(); err != nil {
			l.log.Warn("Failed to close log file", "file", path, "err", err)
		}
	}
	l.asyncWriters = make(map[string]*AsyncFile)
}

// Close flushes and closes the writers of this run. It is safe to call
// after Complete.
func (l *FileLogger) Close() {
	l.closeAllWriters()
}

// EventSink returns the report listener writing the event log of this run
func (l *FileLogger) EventSink() reporting.Listener {
	return l.events
}

// GetRunID returns the run id of this logger
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// GetDirectory returns the directory of this run
func (l *FileLogger) GetDirectory() string {
	return l.logDir
}

// GetFailedDir returns the directory containing logs for failed tests
func (l *FileLogger) GetFailedDir() string {
	return l.failedDir
}

// GetEventsFile returns the path of the JSON-lines event log
func (l *FileLogger) GetEventsFile() string {
	return filepath.Join(l.logDir, EventsFilename)
}

// GetAllLogsFile returns the path to the combined log file
func (l *FileLogger) GetAllLogsFile() string {
	return filepath.Join(l.logDir, AllLogsFilename)
}

// GetSummaryFile returns the path to the summary file
func (l *FileLogger) GetSummaryFile() string {
	return filepath.Join(l.logDir, reporting.SummaryFileName)
}

// Complete flushes the event log and writes the artifacts derived from the
// finished tree: the text summary, results.json and one file per failed test
func (l *FileLogger) Complete(tree *types.TestTree) error {
	defer l.closeAllWriters()

	if tree.RunID != l.runID {
		return fmt.Errorf("tree of run %s does not belong to run %s", tree.RunID, l.runID)
	}
	if _, err := l.summary.Write(tree); err != nil {
		return err
	}

	content, err := reporting.NewTreeJSONFormatter(true).Format(tree)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(l.logDir, ResultsFilename), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}

	written := make(map[string]bool)
	for _, node := range tree.FailedNodes {
		name := readableNodeFilename(node)
		if written[name] {
			continue
		}
		written[name] = true
		if err := l.writeFailedNode(node, name); err != nil {
			return err
		}
	}

	l.log.Info("Wrote run artifacts", "dir", l.logDir, "failed", len(written))
	return nil
}

func (l *FileLogger) writeFailedNode(node *types.TestTreeNode, name string) error {
	var content strings.Builder
	fmt.Fprintf(&content, "Test:       %s\n", node.GetPath())
	fmt.Fprintf(&content, "ID:         %s\n", node.ID)
	if node.LegacyName != "" {
		fmt.Fprintf(&content, "Legacy:     %s\n", node.LegacyName)
	}
	fmt.Fprintf(&content, "Status:     %s\n", node.Status)
	fmt.Fprintf(&content, "Duration:   %s\n", formatDuration(node.Duration))
	if node.Error != nil {
		fmt.Fprintf(&content, "\nERROR:\n~~~~~~\n%s\n", indentText(stripansi.Strip(node.Error.Error()), "  "))
	}

	path := filepath.Join(l.failedDir, name+".log")
	if err := os.WriteFile(path, []byte(content.String()), 0644); err != nil {
		return fmt.Errorf("failed to write failed test log %s: %w", path, err)
	}
	return nil
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_",
		"<", "_", ">", "_", "|", "_", " ", "_", ",", "", "...", "",
	)
	return replacer.Replace(s)
}

// readableNodeFilename derives a file name from the display path of a node
func readableNodeFilename(node *types.TestTreeNode) string {
	return safeFilename(node.GetPath())
}

// indentText adds indentation to each line of text for better readability
func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

func marshalLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
