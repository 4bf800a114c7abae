package types

import (
	"sort"
	"time"
)

// TestStatus is the display status of a node in a TestTree
type TestStatus string

const (
	TestStatusPass  TestStatus = "pass"
	TestStatusFail  TestStatus = "fail"
	TestStatusAbort TestStatus = "abort"
	TestStatusSkip  TestStatus = "skip"
	TestStatusOpen  TestStatus = "open"
)

// StatusOf maps a terminal result onto a display status
func StatusOf(result ExecutionResult) TestStatus {
	switch result.Status {
	case StatusSuccessful:
		return TestStatusPass
	case StatusFailed:
		return TestStatusFail
	case StatusAborted:
		return TestStatusAbort
	default:
		return TestStatusOpen
	}
}

// NodeOutcome is everything recorded about a node during one run
type NodeOutcome struct {
	Node       *Node
	Status     TestStatus
	Error      error
	Reason     string
	Duration   time.Duration
	Order      int
	Registered bool // registered dynamically while running
}

// TestTreeNode represents a node in the hierarchical test tree
type TestTreeNode struct {
	// Node identity and metadata
	ID         string
	Name       string
	LegacyName string
	Kind       NodeKind
	Type       NodeType
	Tags       []string

	// Test execution data
	Status         TestStatus
	Duration       time.Duration
	Error          error
	Reason         string
	ExecutionOrder int
	Dynamic        bool

	// Hierarchy
	Children []*TestTreeNode
	Parent   *TestTreeNode
	Depth    int

	// Display control
	IsVisible bool
}

// TestTreeStats contains aggregated statistics for a tree node
type TestTreeStats struct {
	Total    int        // Total number of test nodes (excludes containers)
	Passed   int        // Number of passed tests
	Failed   int        // Number of failed tests
	Aborted  int        // Number of aborted tests
	Skipped  int        // Number of skipped tests
	PassRate float64    // Pass rate percentage
	Status   TestStatus // Overall status
}

// TestTree represents the complete hierarchical result of one run
type TestTree struct {
	Root      *TestTreeNode
	Stats     TestTreeStats
	Duration  time.Duration
	RunID     string
	Timestamp time.Time

	// Flat indices for quick lookup
	AllNodes    []*TestTreeNode
	TestNodes   []*TestTreeNode
	FailedNodes []*TestTreeNode

	nodesByID map[string]*TestTreeNode
}

// TestTreeBuilder builds a TestTree from recorded node outcomes
type TestTreeBuilder struct {
	showInvocations bool
}

// NewTestTreeBuilder creates a new test tree builder
func NewTestTreeBuilder() *TestTreeBuilder {
	return &TestTreeBuilder{showInvocations: true}
}

// WithInvocations controls whether invocation nodes are included in the tree
func (b *TestTreeBuilder) WithInvocations(show bool) *TestTreeBuilder {
	b.showInvocations = show
	return b
}

// BuildFromOutcomes creates a TestTree. Ancestors without an outcome of their
// own are added as open containers.
func (b *TestTreeBuilder) BuildFromOutcomes(outcomes []*NodeOutcome, runID string) *TestTree {
	tree := &TestTree{
		RunID:       runID,
		Timestamp:   time.Now(),
		nodesByID:   make(map[string]*TestTreeNode),
		AllNodes:    make([]*TestTreeNode, 0, len(outcomes)),
		TestNodes:   make([]*TestTreeNode, 0),
		FailedNodes: make([]*TestTreeNode, 0),
	}

	byID := make(map[string]*NodeOutcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.Node.ID.String()] = o
	}

	for _, o := range outcomes {
		if o.Node.Kind == KindInvocation && !b.showInvocations {
			continue
		}
		b.ensureNode(tree, o.Node, byID)
	}

	if tree.Root == nil {
		tree.Root = &TestTreeNode{ID: "root", Name: "Test Results", Type: NodeTypeContainer, IsVisible: true}
	}

	for _, node := range tree.AllNodes {
		if !node.countsAsTest() {
			continue
		}
		tree.TestNodes = append(tree.TestNodes, node)
		if node.Status == TestStatusFail {
			tree.FailedNodes = append(tree.FailedNodes, node)
		}
	}

	tree.Stats = b.calculateNodeStats(tree.Root)
	tree.Duration = tree.Root.Duration
	b.sortNodeChildren(tree.Root)
	return tree
}

// ensureNode adds n and all of its missing ancestors to the tree
func (b *TestTreeBuilder) ensureNode(tree *TestTree, n *Node, byID map[string]*NodeOutcome) *TestTreeNode {
	key := n.ID.String()
	if existing := tree.nodesByID[key]; existing != nil {
		return existing
	}

	var parent *TestTreeNode
	if p := n.Parent(); p != nil {
		parent = b.ensureNode(tree, p, byID)
	}

	node := &TestTreeNode{
		ID:         key,
		Name:       n.DisplayName,
		LegacyName: n.LegacyName,
		Kind:       n.Kind,
		Type:       n.Type,
		Tags:       n.Tags,
		Status:     TestStatusOpen,
		Children:   make([]*TestTreeNode, 0),
		Parent:     parent,
		IsVisible:  true,
	}
	if o := byID[key]; o != nil {
		node.Status = o.Status
		node.Error = o.Error
		node.Reason = o.Reason
		node.Duration = o.Duration
		node.ExecutionOrder = o.Order
		node.Dynamic = o.Registered
	}

	if parent == nil {
		tree.Root = node
	} else {
		node.Depth = parent.Depth + 1
		parent.Children = append(parent.Children, node)
	}
	tree.nodesByID[key] = node
	tree.AllNodes = append(tree.AllNodes, node)
	return node
}

// calculateNodeStats calculates statistics for a single node and its children
func (b *TestTreeBuilder) calculateNodeStats(node *TestTreeNode) TestTreeStats {
	stats := TestTreeStats{}

	if node.countsAsTest() {
		stats.Total = 1
		switch node.Status {
		case TestStatusPass:
			stats.Passed = 1
		case TestStatusFail:
			stats.Failed = 1
		case TestStatusAbort:
			stats.Aborted = 1
		case TestStatusSkip:
			stats.Skipped = 1
		}
	}

	for _, child := range node.Children {
		childStats := b.calculateNodeStats(child)
		stats.Total += childStats.Total
		stats.Passed += childStats.Passed
		stats.Failed += childStats.Failed
		stats.Aborted += childStats.Aborted
		stats.Skipped += childStats.Skipped
	}

	if stats.Total > 0 {
		stats.PassRate = float64(stats.Passed) / float64(stats.Total) * 100
	}

	switch {
	case stats.Failed > 0:
		stats.Status = TestStatusFail
	case stats.Aborted > 0:
		stats.Status = TestStatusAbort
	case stats.Passed > 0:
		stats.Status = TestStatusPass
	case stats.Skipped > 0:
		stats.Status = TestStatusSkip
	default:
		stats.Status = node.Status
	}

	// A container failing on its own (configuration failure) stays failed
	// even when every child passed.
	if node.Type == NodeTypeContainer && node.Status != TestStatusFail && node.Status != TestStatusAbort {
		node.Status = stats.Status
	}

	return stats
}

// sortNodeChildren orders tests by execution order and containers by name
func (b *TestTreeBuilder) sortNodeChildren(node *TestTreeNode) {
	sort.SliceStable(node.Children, func(i, j int) bool {
		a, c := node.Children[i], node.Children[j]
		if a.Kind == KindClass && c.Kind == KindClass {
			return a.Name < c.Name
		}
		return a.ExecutionOrder < c.ExecutionOrder
	})

	for _, child := range node.Children {
		b.sortNodeChildren(child)
	}
}

// countsAsTest reports whether the node is a leaf that contributes to totals
func (n *TestTreeNode) countsAsTest() bool {
	if n.Type == NodeTypeTest {
		return true
	}
	// A container method whose invocations were hidden counts once
	return n.Kind == KindMethod && len(n.Children) == 0
}

// GetPath returns the hierarchical display path to this node
func (n *TestTreeNode) GetPath() string {
	if n.Parent == nil || n.Parent.Kind == KindEngine {
		return n.Name
	}
	return n.Parent.GetPath() + "/" + n.Name
}

// GetTestStats returns statistics for this node
func (n *TestTreeNode) GetTestStats() TestTreeStats {
	return NewTestTreeBuilder().calculateNodeStats(n)
}

// Walk traverses the tree calling the visitor function for each node
func (tree *TestTree) Walk(visitor func(*TestTreeNode) bool) {
	tree.walkNode(tree.Root, visitor)
}

func (tree *TestTree) walkNode(node *TestTreeNode, visitor func(*TestTreeNode) bool) {
	if !visitor(node) {
		return
	}
	for _, child := range node.Children {
		tree.walkNode(child, visitor)
	}
}

// FindNode finds a node by its unique id string
func (tree *TestTree) FindNode(id string) *TestTreeNode {
	return tree.nodesByID[id]
}

// GetVisibleNodes returns all currently visible nodes
func (tree *TestTree) GetVisibleNodes() []*TestTreeNode {
	var visible []*TestTreeNode
	tree.Walk(func(node *TestTreeNode) bool {
		if node.IsVisible {
			visible = append(visible, node)
		}
		return true
	})
	return visible
}

// ShowOnlyFailed shows only failed or aborted tests and their ancestors
func (tree *TestTree) ShowOnlyFailed() {
	tree.Walk(func(node *TestTreeNode) bool {
		node.IsVisible = false
		return true
	})

	tree.Walk(func(node *TestTreeNode) bool {
		if node.Status == TestStatusFail || node.Status == TestStatusAbort {
			for current := node; current != nil; current = current.Parent {
				current.IsVisible = true
			}
		}
		return true
	})
}

// ShowAll makes all nodes visible
func (tree *TestTree) ShowAll() {
	tree.Walk(func(node *TestTreeNode) bool {
		node.IsVisible = true
		return true
	})
}
