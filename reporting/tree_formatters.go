package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/ethereum-optimism/infra/op-testbridge/ui"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// JSON response structures for tree formatting

// TreeJSONResponse represents the complete JSON response for a test tree
type TreeJSONResponse struct {
	RunID       string              `json:"runId"`
	Timestamp   time.Time           `json:"timestamp"`
	Duration    time.Duration       `json:"duration"`
	Stats       types.TestTreeStats `json:"stats"`
	Hierarchy   *TreeNodeJSON       `json:"hierarchy,omitempty"`
	Tests       []TestNodeJSON      `json:"tests"`
	FailedTests []string            `json:"failedTests"`
}

// TreeNodeJSON represents a tree node in JSON format
type TreeNodeJSON struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	LegacyName     string               `json:"legacyName,omitempty"`
	Kind           types.NodeKind       `json:"kind"`
	Type           types.NodeType       `json:"type"`
	Status         types.TestStatus     `json:"status"`
	Duration       time.Duration        `json:"duration"`
	Depth          int                  `json:"depth"`
	Tags           []string             `json:"tags,omitempty"`
	Error          string               `json:"error,omitempty"`
	Reason         string               `json:"reason,omitempty"`
	Dynamic        bool                 `json:"dynamic,omitempty"`
	ExecutionOrder int                  `json:"executionOrder,omitempty"`
	Children       []TreeNodeJSON       `json:"children,omitempty"`
	Stats          *types.TestTreeStats `json:"stats,omitempty"`
}

// TestNodeJSON represents a flat test node in JSON format
type TestNodeJSON struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Kind           types.NodeKind   `json:"kind"`
	Status         types.TestStatus `json:"status"`
	Duration       time.Duration    `json:"duration"`
	ExecutionOrder int              `json:"executionOrder"`
	Depth          int              `json:"depth"`
	Path           string           `json:"path"`
	Error          string           `json:"error,omitempty"`
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// getStatusString returns a consistent lowercase status string
func getStatusString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass, types.TestStatusFail, types.TestStatusSkip, types.TestStatusAbort, types.TestStatusOpen:
		return string(status)
	default:
		return "unknown"
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// TreeJSONFormatter renders a test tree as JSON
type TreeJSONFormatter struct {
	includeHierarchy bool
}

// NewTreeJSONFormatter creates a JSON formatter. The flat test list is always
// included, the nested hierarchy only on request.
func NewTreeJSONFormatter(includeHierarchy bool) *TreeJSONFormatter {
	return &TreeJSONFormatter{includeHierarchy: includeHierarchy}
}

// Format formats a test tree as indented JSON
func (f *TreeJSONFormatter) Format(tree *types.TestTree) (string, error) {
	resp := TreeJSONResponse{
		RunID:       tree.RunID,
		Timestamp:   tree.Timestamp,
		Duration:    tree.Duration,
		Stats:       tree.Stats,
		Tests:       make([]TestNodeJSON, 0, len(tree.TestNodes)),
		FailedTests: make([]string, 0, len(tree.FailedNodes)),
	}
	if f.includeHierarchy && tree.Root != nil {
		h := f.nodeJSON(tree.Root)
		resp.Hierarchy = &h
	}
	for _, node := range tree.TestNodes {
		resp.Tests = append(resp.Tests, TestNodeJSON{
			ID:             node.ID,
			Name:           node.Name,
			Kind:           node.Kind,
			Status:         node.Status,
			Duration:       node.Duration,
			ExecutionOrder: node.ExecutionOrder,
			Depth:          node.Depth,
			Path:           node.GetPath(),
			Error:          errorString(node.Error),
		})
	}
	for _, node := range tree.FailedNodes {
		resp.FailedTests = append(resp.FailedTests, node.ID)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal test tree: %w", err)
	}
	return string(out), nil
}

func (f *TreeJSONFormatter) nodeJSON(node *types.TestTreeNode) TreeNodeJSON {
	out := TreeNodeJSON{
		ID:             node.ID,
		Name:           node.Name,
		LegacyName:     node.LegacyName,
		Kind:           node.Kind,
		Type:           node.Type,
		Status:         node.Status,
		Duration:       node.Duration,
		Depth:          node.Depth,
		Tags:           node.Tags,
		Error:          errorString(node.Error),
		Reason:         node.Reason,
		Dynamic:        node.Dynamic,
		ExecutionOrder: node.ExecutionOrder,
	}
	if node.Type == types.NodeTypeContainer {
		stats := node.GetTestStats()
		out.Stats = &stats
	}
	for _, child := range node.Children {
		out.Children = append(out.Children, f.nodeJSON(child))
	}
	return out
}

// TreeTableFormatter formats test trees as ASCII tables using the tree structure
type TreeTableFormatter struct {
	title              string
	showContainers     bool
	showExecutionOrder bool
}

// NewTreeTableFormatter creates a new tree-based table formatter
func NewTreeTableFormatter(title string, showContainers, showExecutionOrder bool) *TreeTableFormatter {
	return &TreeTableFormatter{
		title:              title,
		showContainers:     showContainers,
		showExecutionOrder: showExecutionOrder,
	}
}

// Format formats a test tree as an ASCII table
func (f *TreeTableFormatter) Format(tree *types.TestTree) (string, error) {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(f.title)

	headers := []interface{}{"TYPE", "ID", "DURATION", "TESTS", "PASSED", "FAILED", "ABORTED", "SKIPPED", "STATUS", "ERROR"}
	if f.showExecutionOrder {
		headers = append([]interface{}{"ORDER"}, headers...)
	}
	t.AppendHeader(table.Row(headers))

	configs := []table.ColumnConfig{
		{Name: "TYPE", AutoMerge: true},
		{Name: "ID", WidthMax: 200, WidthMaxEnforcer: text.WrapSoft},
		{Name: "DURATION", Align: text.AlignRight},
		{Name: "TESTS", Align: text.AlignRight},
		{Name: "PASSED", Align: text.AlignRight},
		{Name: "FAILED", Align: text.AlignRight},
		{Name: "ABORTED", Align: text.AlignRight},
		{Name: "SKIPPED", Align: text.AlignRight},
		{Name: "ERROR", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	}
	if f.showExecutionOrder {
		configs = append([]table.ColumnConfig{{Name: "ORDER", Align: text.AlignRight}}, configs...)
	}
	t.SetColumnConfigs(configs)

	tree.Walk(func(node *types.TestTreeNode) bool {
		// the engine is summarized in the footer
		if node.Parent == nil {
			return true
		}
		if !f.showContainers && node.Type != types.NodeTypeTest {
			return true
		}
		f.addNodeRow(t, node)
		return true
	})

	switch tree.Stats.Status {
	case types.TestStatusFail:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case types.TestStatusSkip, types.TestStatusAbort:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	case types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	default:
		t.SetStyle(table.StyleDefault)
	}

	footerRow := []interface{}{
		"TOTAL",
		"",
		formatDuration(tree.Duration),
		tree.Stats.Total,
		tree.Stats.Passed,
		tree.Stats.Failed,
		tree.Stats.Aborted,
		tree.Stats.Skipped,
		strings.ToUpper(getStatusString(tree.Stats.Status)),
		"",
	}
	if f.showExecutionOrder {
		footerRow = append([]interface{}{""}, footerRow...)
	}
	t.AppendFooter(table.Row(footerRow))

	t.Render()
	return buf.String(), nil
}

// addNodeRow adds a single node as a row in the table
func (f *TreeTableFormatter) addNodeRow(t table.Writer, node *types.TestTreeNode) {
	displayName := generateTreePrefix(node, f.visible) + node.Name
	stats := node.GetTestStats()

	errMsg := extractKeyErrorMessage(node.Error)
	if errMsg == "" {
		errMsg = node.Reason
	}

	rowData := []interface{}{
		getNodeTypeString(node),
		displayName,
		formatDuration(node.Duration),
		stats.Total,
		stats.Passed,
		stats.Failed,
		stats.Aborted,
		stats.Skipped,
		strings.ToUpper(getStatusString(node.Status)),
		errMsg,
	}
	if f.showExecutionOrder {
		orderStr := ""
		if node.Type == types.NodeTypeTest {
			orderStr = fmt.Sprintf("%d", node.ExecutionOrder)
		}
		rowData = append([]interface{}{orderStr}, rowData...)
	}
	t.AppendRow(table.Row(rowData))
}

func (f *TreeTableFormatter) visible(node *types.TestTreeNode) bool {
	return f.showContainers || node.Type == types.NodeTypeTest
}

// generateTreePrefix generates the tree-style prefix for a node. Children of
// the engine get no prefix.
func generateTreePrefix(node *types.TestTreeNode, visible func(*types.TestTreeNode) bool) string {
	if node.Parent == nil || node.Parent.Parent == nil {
		return ""
	}

	isLast := isLastSibling(node, visible)

	var parentIsLast []bool
	current := node.Parent
	for current != nil && current.Parent != nil && current.Parent.Parent != nil {
		parentIsLast = append([]bool{isLastSibling(current, visible)}, parentIsLast...)
		current = current.Parent
	}

	return ui.BuildTreePrefix(node.Depth-1, isLast, parentIsLast)
}

// isLastSibling checks if a node is the last among its visible siblings
func isLastSibling(node *types.TestTreeNode, visible func(*types.TestTreeNode) bool) bool {
	if node.Parent == nil {
		return true
	}
	var siblings []*types.TestTreeNode
	for _, sibling := range node.Parent.Children {
		if sibling == node || visible(sibling) {
			siblings = append(siblings, sibling)
		}
	}
	return len(siblings) == 0 || siblings[len(siblings)-1] == node
}

// getNodeTypeString returns a display string for the node kind
func getNodeTypeString(node *types.TestTreeNode) string {
	switch node.Kind {
	case types.KindEngine:
		return "Engine"
	case types.KindClass:
		return "Class"
	case types.KindMethod:
		if node.Type == types.NodeTypeContainer {
			return "Method"
		}
		return "Test"
	case types.KindInvocation:
		return "Invocation"
	default:
		return "Unknown"
	}
}

// extractKeyErrorMessage shortens an error to its first line
func extractKeyErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.Index(msg, "\n"); idx != -1 {
		return msg[:idx]
	}
	if len(msg) > 80 {
		return msg[:77] + "..."
	}
	return msg
}

// TreeTextFormatter formats test trees as plain text using the tree structure
type TreeTextFormatter struct {
	includeContainers  bool
	includeStats       bool
	includeDetails     bool
	showExecutionOrder bool
}

// NewTreeTextFormatter creates a new tree-based text formatter
func NewTreeTextFormatter(includeContainers, includeStats, includeDetails, showExecutionOrder bool) *TreeTextFormatter {
	return &TreeTextFormatter{
		includeContainers:  includeContainers,
		includeStats:       includeStats,
		includeDetails:     includeDetails,
		showExecutionOrder: showExecutionOrder,
	}
}

// Format formats a test tree as plain text
func (f *TreeTextFormatter) Format(tree *types.TestTree) (string, error) {
	var buf bytes.Buffer

	buf.WriteString("Test Results Summary\n")
	buf.WriteString(strings.Repeat("=", 50) + "\n\n")

	if f.includeStats {
		fmt.Fprintf(&buf, "Run ID: %s\n", tree.RunID)
		if tree.Root != nil {
			fmt.Fprintf(&buf, "Engine: %s\n", tree.Root.Name)
		}
		fmt.Fprintf(&buf, "Duration: %s\n", formatDuration(tree.Duration))
		fmt.Fprintf(&buf, "Total Tests: %d\n", tree.Stats.Total)
		fmt.Fprintf(&buf, "Passed: %d\n", tree.Stats.Passed)
		fmt.Fprintf(&buf, "Failed: %d\n", tree.Stats.Failed)
		fmt.Fprintf(&buf, "Aborted: %d\n", tree.Stats.Aborted)
		fmt.Fprintf(&buf, "Skipped: %d\n", tree.Stats.Skipped)
		fmt.Fprintf(&buf, "Pass Rate: %.1f%%\n", tree.Stats.PassRate)
		fmt.Fprintf(&buf, "Status: %s\n", strings.ToUpper(getStatusString(tree.Stats.Status)))
		buf.WriteString("\n")
	}

	buf.WriteString("Test Hierarchy:\n")
	buf.WriteString(strings.Repeat("-", 30) + "\n")

	tree.Walk(func(node *types.TestTreeNode) bool {
		if node.Parent == nil {
			return true
		}
		if !f.visible(node) {
			return true
		}
		f.writeNodeText(&buf, node)
		return true
	})

	if len(tree.FailedNodes) > 0 {
		buf.WriteString("\nFailed Tests:\n")
		buf.WriteString(strings.Repeat("-", 20) + "\n")
		for _, node := range tree.FailedNodes {
			buf.WriteString("- " + node.GetPath())
			if f.includeDetails && node.Error != nil {
				fmt.Fprintf(&buf, " (Error: %s)", node.Error.Error())
			}
			buf.WriteString("\n")
		}
	}

	return buf.String(), nil
}

func (f *TreeTextFormatter) visible(node *types.TestTreeNode) bool {
	return f.includeContainers || node.Type == types.NodeTypeTest
}

// writeNodeText writes a single node as text
func (f *TreeTextFormatter) writeNodeText(buf *bytes.Buffer, node *types.TestTreeNode) {
	prefix := ""
	if f.includeContainers {
		prefix = generateTreePrefix(node, f.visible)
	}

	line := fmt.Sprintf("%s%s %s", prefix, getStatusChar(node.Status), node.Name)

	if f.showExecutionOrder && node.Type == types.NodeTypeTest {
		line += fmt.Sprintf(" [#%d]", node.ExecutionOrder)
	}
	if node.Type == types.NodeTypeTest {
		line += fmt.Sprintf(" (%s)", formatDuration(node.Duration))
	}
	if f.includeStats && node.Type == types.NodeTypeContainer {
		stats := node.GetTestStats()
		line += fmt.Sprintf(" [%d tests, %d passed, %d failed]", stats.Total, stats.Passed, stats.Failed)
	}
	buf.WriteString(line + "\n")

	if !f.includeDetails {
		return
	}
	errorPrefix := strings.Repeat(" ", len([]rune(prefix))+2)
	if node.Error != nil {
		fmt.Fprintf(buf, "%sError: %s\n", errorPrefix, node.Error.Error())
	} else if node.Reason != "" {
		fmt.Fprintf(buf, "%sReason: %s\n", errorPrefix, node.Reason)
	}
}

// getStatusChar returns a character representing the test status
func getStatusChar(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓"
	case types.TestStatusFail:
		return "✗"
	case types.TestStatusSkip:
		return "⊝"
	case types.TestStatusAbort:
		return "⚠"
	default:
		return "?"
	}
}
