package translator

import (
	"errors"

	"github.com/ethereum-optimism/infra/op-testbridge/registry"
	"github.com/ethereum-optimism/infra/op-testbridge/scheduler"
	"github.com/ethereum-optimism/infra/op-testbridge/tracker"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/ethereum/go-ethereum/log"
)

// DiscoveryListener builds the static tree from a dry run of the scheduler.
// Nothing is reported while discovering. A class counts one round each time
// its overlapping before-class/after-class pairs drain, which is how often the
// execution tracker consults the class at the end of a round.
type DiscoveryListener struct {
	log      log.Logger
	registry *registry.Registry
	classes  *tracker.Tracker[*registry.ClassEntry]
}

var _ scheduler.Listener = (*DiscoveryListener)(nil)

// NewDiscoveryListener creates a listener populating reg
func NewDiscoveryListener(logger log.Logger, reg *registry.Registry) *DiscoveryListener {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &DiscoveryListener{
		log:      logger.New("component", "discovery"),
		registry: reg,
		classes:  tracker.New[*registry.ClassEntry](),
	}
}

func (d *DiscoveryListener) OnBeforeClass(class scheduler.Class) {
	d.classes.Begin(class.Name, func() (*registry.ClassEntry, bool) {
		entry, err := d.registry.CreateClass(class.Name)
		if err != nil {
			d.log.Debug("Class not discovered", "class", class.Name, "reason", err)
			return nil, false
		}
		entry.MarkSeen()
		return entry, true
	})
}

func (d *DiscoveryListener) OnAfterClass(class scheduler.Class) {
	d.classes.End(class.Name,
		func(*registry.ClassEntry) bool { return true },
		(*registry.ClassEntry).AddRound,
	)
}

func (d *DiscoveryListener) OnConfigurationFailure(*scheduler.Result) {}

func (d *DiscoveryListener) OnConfigurationSkip(*scheduler.Result) {}

func (d *DiscoveryListener) OnTestStart(r *scheduler.Result) {
	d.addMethod(r)
}

func (d *DiscoveryListener) OnTestSuccess(r *scheduler.Result) {
	d.addMethod(r)
}

func (d *DiscoveryListener) OnTestFailure(r *scheduler.Result) {
	d.addMethod(r)
}

func (d *DiscoveryListener) OnTestSkipped(r *scheduler.Result) {
	d.addMethod(r)
}

func (d *DiscoveryListener) OnTestFailedWithTimeout(r *scheduler.Result) {
	d.addMethod(r)
}

func (d *DiscoveryListener) OnTestFailedWithinSuccessPercentage(r *scheduler.Result) {
	d.addMethod(r)
}

func (d *DiscoveryListener) addMethod(r *scheduler.Result) {
	class, err := d.registry.Class(r.Class.Name)
	if err != nil {
		return
	}
	key := registry.MethodKey(r)
	if _, err := d.registry.LookupMethod(class, key); !errors.Is(err, registry.ErrNotFound) {
		return
	}
	d.registry.AttachMethod(class, key, registry.NewMethodNode(class.Node, r))
}

// Finalize prunes classes without methods and returns the discovered root
func (d *DiscoveryListener) Finalize() *types.Node {
	if pruned := d.registry.FinalizeDiscovery(); len(pruned) > 0 {
		d.log.Info("Pruned classes without tests", "count", len(pruned))
	}
	return d.registry.Engine()
}
