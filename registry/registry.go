// Package registry owns the reporting tree: the engine root, its classes and
// their methods, keyed by composite identity.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/ethereum/go-ethereum/log"
)

// ErrNotFound is returned by lookups of unknown classes or methods
var ErrNotFound = errors.New("node not found")

// Config contains registry configuration
type Config struct {
	Log               log.Logger
	EngineID          string
	EngineDisplayName string
	// ClassFilter decides which classes become nodes, nil accepts every class
	ClassFilter func(className string) bool
}

// Registry manages the node tree of one engine
type Registry struct {
	config  Config
	log     log.Logger
	engine  *types.Node
	classes sync.Map // class name -> *ClassEntry
}

// ClassEntry is the registry state of one class node
type ClassEntry struct {
	Name string
	Node *types.Node

	seen   atomic.Bool
	rounds atomic.Int64

	mu      sync.RWMutex
	methods map[string]*types.Node
}

// NewRegistry creates a registry holding only the engine root
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.EngineID == "" {
		return nil, fmt.Errorf("engine id is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.EngineDisplayName == "" {
		cfg.EngineDisplayName = cfg.EngineID
	}
	if cfg.ClassFilter == nil {
		cfg.ClassFilter = func(string) bool { return true }
	}

	return &Registry{
		config: cfg,
		log:    cfg.Log.New("component", "registry"),
		engine: types.NewEngineNode(cfg.EngineID, cfg.EngineDisplayName),
	}, nil
}

// Engine returns the root node
func (r *Registry) Engine() *types.Node {
	return r.engine
}

// Accepts reports whether the class filter admits className
func (r *Registry) Accepts(className string) bool {
	return r.config.ClassFilter(className)
}

// CreateClass returns the entry for className, creating and attaching it on
// first use. It returns ErrNotFound if the class filter rejects the class.
func (r *Registry) CreateClass(className string) (*ClassEntry, error) {
	if existing, ok := r.classes.Load(className); ok {
		return existing.(*ClassEntry), nil
	}
	if !r.Accepts(className) {
		return nil, fmt.Errorf("class %s filtered out: %w", className, ErrNotFound)
	}

	entry := &ClassEntry{
		Name:    className,
		Node:    types.NewClassNode(r.engine.ID, className),
		methods: make(map[string]*types.Node),
	}
	actual, loaded := r.classes.LoadOrStore(className, entry)
	if loaded {
		return actual.(*ClassEntry), nil
	}
	r.engine.AddChild(entry.Node)
	r.log.Debug("Class created", "class", className)
	return entry, nil
}

// Class looks up an existing class entry
func (r *Registry) Class(className string) (*ClassEntry, error) {
	entry, ok := r.classes.Load(className)
	if !ok {
		return nil, fmt.Errorf("class %s: %w", className, ErrNotFound)
	}
	return entry.(*ClassEntry), nil
}

// Classes returns all class entries ordered by name
func (r *Registry) Classes() []*ClassEntry {
	var out []*ClassEntry
	r.classes.Range(func(_, v any) bool {
		out = append(out, v.(*ClassEntry))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AttachMethod attaches node under the class with the given composite key.
// If another node was attached with the same key first, that node is
// returned and node is discarded.
func (r *Registry) AttachMethod(class *ClassEntry, key string, node *types.Node) *types.Node {
	class.mu.Lock()
	if existing, ok := class.methods[key]; ok {
		class.mu.Unlock()
		return existing
	}
	class.methods[key] = node
	class.mu.Unlock()

	class.Node.AddChild(node)
	return node
}

// ComputeMethod returns the method with key. When absent, create builds it
// and onCreate runs before any other caller can observe the new node. The
// boolean reports whether the node was created by this call.
func (r *Registry) ComputeMethod(class *ClassEntry, key string, create func() *types.Node, onCreate func(*types.Node)) (*types.Node, bool) {
	class.mu.Lock()
	defer class.mu.Unlock()
	if existing, ok := class.methods[key]; ok {
		return existing, false
	}
	node := create()
	class.Node.AddChild(node)
	if onCreate != nil {
		onCreate(node)
	}
	class.methods[key] = node
	return node, true
}

// LookupMethod finds a method by composite key
func (r *Registry) LookupMethod(class *ClassEntry, key string) (*types.Node, error) {
	class.mu.RLock()
	defer class.mu.RUnlock()
	if node, ok := class.methods[key]; ok {
		return node, nil
	}
	return nil, fmt.Errorf("method %s of %s: %w", key, class.Name, ErrNotFound)
}

// Methods returns the method nodes of a class keyed by composite key
func (c *ClassEntry) Methods() map[string]*types.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*types.Node, len(c.methods))
	for k, v := range c.methods {
		out[k] = v
	}
	return out
}

// Detach removes a class or method node from the tree and from the registry
func (r *Registry) Detach(node *types.Node) error {
	switch node.Kind {
	case types.KindClass:
		if _, ok := r.classes.LoadAndDelete(node.ClassName); !ok {
			return fmt.Errorf("class %s: %w", node.ClassName, ErrNotFound)
		}
	case types.KindMethod:
		class, err := r.Class(node.ClassName)
		if err != nil {
			return err
		}
		class.mu.Lock()
		for k, v := range class.methods {
			if v == node {
				delete(class.methods, k)
			}
		}
		class.mu.Unlock()
	}

	parent := node.Parent()
	if parent == nil || !parent.RemoveChild(node) {
		return fmt.Errorf("node %s is not attached: %w", node.ID, ErrNotFound)
	}
	return nil
}

// MarkSeen records that the scheduler reported the class during discovery
func (c *ClassEntry) MarkSeen() {
	c.seen.Store(true)
}

// AddRound records one more expected after-class callback
func (c *ClassEntry) AddRound() {
	c.rounds.Add(1)
}

// Rounds returns the number of after-class callbacks still expected
func (c *ClassEntry) Rounds() int64 {
	return c.rounds.Load()
}

// CompleteRound consumes one expected round. It reports true once no rounds
// remain, classes with no recorded rounds complete on their first call.
func (c *ClassEntry) CompleteRound() bool {
	return c.rounds.Add(-1) <= 0
}

// FinalizeDiscovery prunes classes the scheduler never reported and classes
// left without children. It returns the pruned class names.
func (r *Registry) FinalizeDiscovery() []string {
	var pruned []string
	for _, class := range r.Classes() {
		if class.seen.Load() && class.Node.ChildCount() > 0 {
			continue
		}
		if err := r.Detach(class.Node); err != nil {
			r.log.Warn("Failed to prune class", "class", class.Name, "err", err)
			continue
		}
		pruned = append(pruned, class.Name)
	}
	if len(pruned) > 0 {
		r.log.Debug("Pruned classes after discovery", "classes", pruned)
	}
	return pruned
}
