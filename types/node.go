// Package types contains shared types used across the test bridge
package types

import (
	"fmt"
	"strings"
	"sync"
)

// NodeKind identifies the level of a node in the reporting hierarchy
type NodeKind string

// String implements the Stringer interface for NodeKind
func (k NodeKind) String() string {
	return string(k)
}

const (
	KindEngine     NodeKind = "engine"
	KindClass      NodeKind = "class"
	KindMethod     NodeKind = "method"
	KindInvocation NodeKind = "invoc"
)

// NodeType tells whether a node reports child outcomes or a single outcome
type NodeType string

const (
	NodeTypeContainer NodeType = "container"
	NodeTypeTest      NodeType = "test"
)

// Node is an entry in the reporting tree. Engine, class, method and invocation
// nodes share this representation; Kind selects which payload fields are set.
type Node struct {
	ID          UniqueID
	Kind        NodeKind
	Type        NodeType
	DisplayName string
	LegacyName  string
	Tags        []string

	// Class and method payload
	ClassName      string
	MethodName     string
	ParameterTypes []string
	InstanceIndex  int

	// Invocation payload
	InvocationIndex int
	Parameters      []string

	mu       sync.RWMutex
	parent   *Node
	children []*Node
}

// NewEngineNode creates the root of a reporting tree
func NewEngineNode(engineID, displayName string) *Node {
	return &Node{
		ID:          NewUniqueID(engineID),
		Kind:        KindEngine,
		Type:        NodeTypeContainer,
		DisplayName: displayName,
		LegacyName:  displayName,
	}
}

// NewClassNode creates a class node below the given engine id
func NewClassNode(engineID UniqueID, className string) *Node {
	return &Node{
		ID:          engineID.Append(KindClass, className),
		Kind:        KindClass,
		Type:        NodeTypeContainer,
		DisplayName: SimpleClassName(className),
		LegacyName:  className,
		ClassName:   className,
	}
}

// IsContainer reports whether the node reports child outcomes
func (n *Node) IsContainer() bool {
	return n.Type == NodeTypeContainer
}

// Parent returns the parent node, nil for the engine root or detached nodes
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// Children returns a snapshot of the node's children
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// ChildCount returns the number of attached children
func (n *Node) ChildCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.children)
}

// AddChild attaches child below n
func (n *Node) AddChild(child *Node) {
	child.mu.Lock()
	child.parent = n
	child.mu.Unlock()

	n.mu.Lock()
	n.children = append(n.children, child)
	n.mu.Unlock()
}

// RemoveChild detaches child from n. It returns false if child was not attached to n.
func (n *Node) RemoveChild(child *Node) bool {
	n.mu.Lock()
	removed := false
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			removed = true
			break
		}
	}
	n.mu.Unlock()

	if removed {
		child.mu.Lock()
		child.parent = nil
		child.mu.Unlock()
	}
	return removed
}

// FindChild returns the direct child with the given id
func (n *Node) FindChild(id UniqueID) *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, c := range n.children {
		if c.ID.Equal(id) {
			return c
		}
	}
	return nil
}

// Source renders the node's source location as Class#method
func (n *Node) Source() string {
	switch n.Kind {
	case KindClass:
		return n.ClassName
	case KindMethod, KindInvocation:
		return fmt.Sprintf("%s#%s(%s)", n.ClassName, n.MethodName, strings.Join(n.ParameterTypes, ", "))
	default:
		return ""
	}
}

func (n *Node) String() string {
	return n.ID.String()
}

// SimpleClassName strips the package qualifier from a class name
func SimpleClassName(className string) string {
	if i := strings.LastIndex(className, "."); i >= 0 && i < len(className)-1 {
		return className[i+1:]
	}
	return className
}
