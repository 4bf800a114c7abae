package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum-optimism/infra/op-testbridge/cancel"
	"github.com/ethereum-optimism/infra/op-testbridge/reporting"
	"github.com/ethereum-optimism/infra/op-testbridge/scheduler"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runEvents = `
{"event":"before-class","class":"com.example.A"}
{"thread":"w1","event":"test-start","id":"a1","class":"com.example.A","method":{"name":"one","groups":["fast"]}}
{"thread":"w1","event":"test-success","id":"a1","class":"com.example.A","method":{"name":"one","groups":["fast"]}}
{"thread":"w1","event":"test-start","id":"a2","class":"com.example.A","method":{"name":"two"}}
{"thread":"w1","event":"test-failure","id":"a2","class":"com.example.A","method":{"name":"two"},"error":"expected 2"}
{"thread":"w2","event":"test-start","id":"r1","class":"com.example.A","method":{"name":"rows","parameter_types":["int"],"data_driven":true},"parameters":["1"],"has_more_invocations":true}
{"thread":"w3","event":"test-start","id":"r2","class":"com.example.A","method":{"name":"rows","parameter_types":["int"],"data_driven":true},"parameters":["2"],"invocation_index":1}
{"thread":"w2","event":"test-success","id":"r1","class":"com.example.A","method":{"name":"rows","parameter_types":["int"],"data_driven":true},"parameters":["1"],"has_more_invocations":true}
{"thread":"w3","event":"test-success","id":"r2","class":"com.example.A","method":{"name":"rows","parameter_types":["int"],"data_driven":true},"parameters":["2"],"invocation_index":1}
{"event":"after-class","class":"com.example.A"}
{"event":"before-class","class":"com.example.B"}
{"event":"configuration-failure","class":"com.example.B","method":{"name":"setUp"},"error":"boom"}
{"event":"test-skipped","id":"b1","class":"com.example.B","method":{"name":"three"}}
{"event":"after-class","class":"com.example.B"}
{"event":"before-class","class":"com.example.Empty"}
{"event":"after-class","class":"com.example.Empty"}
`

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func newTestEngine(t *testing.T, selectors []types.Selector, listener reporting.Listener, c *cancel.Coordinator) *Engine {
	events, err := scheduler.ReadEvents(strings.NewReader(runEvents))
	require.NoError(t, err)
	e, err := New(Config{
		Log:       testLogger(),
		Scheduler: scheduler.NewReplay(scheduler.ReplayConfig{Log: testLogger(), Events: events}),
		Listener:  listener,
		Selectors: selectors,
		Cancel:    c,
		RunID:     "run-1",
	})
	require.NoError(t, err)
	return e
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{
		Log:       testLogger(),
		Scheduler: scheduler.NewReplay(scheduler.ReplayConfig{Log: testLogger()}),
		Selectors: []types.Selector{{MethodName: "m", InstanceIndex: -1, InvocationIndex: -1}},
	})
	assert.Error(t, err)

	settings := types.DefaultSettings()
	settings.Classes.Include = []string{"("}
	_, err = New(Config{
		Log:       testLogger(),
		Settings:  settings,
		Scheduler: scheduler.NewReplay(scheduler.ReplayConfig{Log: testLogger()}),
	})
	assert.Error(t, err)
}

func TestEngine_Discover(t *testing.T) {
	e := newTestEngine(t, nil, nil, nil)
	root, err := e.Discover(context.Background())
	require.NoError(t, err)

	var classes []string
	for _, c := range root.Children() {
		classes = append(classes, c.DisplayName)
	}
	assert.ElementsMatch(t, []string{"A", "B"}, classes)

	plan := e.Plan()
	assert.ElementsMatch(t, []string{"com.example.A", "com.example.B"}, plan.Classes)
	assert.Empty(t, plan.Methods)
}

func TestEngine_Execute(t *testing.T) {
	extra := reporting.NewRecorder()
	e := newTestEngine(t, nil, extra, nil)

	run, err := e.Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, run.Violations)
	require.NoError(t, extra.Validate())

	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, types.StatusSuccessful, run.Result.Status)

	tree := run.Tree
	require.NotNil(t, tree.Root)
	assert.Equal(t, types.KindEngine, tree.Root.Kind)

	one := tree.FindNode("[engine:testng]/[class:com.example.A]/[method:one()]")
	require.NotNil(t, one)
	assert.Equal(t, types.TestStatusPass, one.Status)
	assert.Equal(t, []string{"fast"}, one.Tags)

	two := tree.FindNode("[engine:testng]/[class:com.example.A]/[method:two()]")
	require.NotNil(t, two)
	assert.Equal(t, types.TestStatusFail, two.Status)
	assert.EqualError(t, two.Error, "expected 2")

	rows := tree.FindNode("[engine:testng]/[class:com.example.A]/[method:rows(int)]")
	require.NotNil(t, rows)
	assert.Len(t, rows.Children, 2)
	assert.Equal(t, types.TestStatusPass, rows.Status)

	classB := tree.FindNode("[engine:testng]/[class:com.example.B]")
	require.NotNil(t, classB)
	assert.Equal(t, types.TestStatusFail, classB.Status)
	assert.EqualError(t, classB.Error, "boom")

	three := tree.FindNode("[engine:testng]/[class:com.example.B]/[method:three()]")
	require.NotNil(t, three)
	assert.Equal(t, types.TestStatusSkip, three.Status)

	assert.Nil(t, tree.FindNode("[engine:testng]/[class:com.example.Empty]"))
}

func TestEngine_Selectors(t *testing.T) {
	parse := func(id string) types.Selector {
		uid, err := types.ParseUniqueID(id)
		require.NoError(t, err)
		sel, err := types.SelectorFromID(uid)
		require.NoError(t, err)
		return sel
	}

	t.Run("single method", func(t *testing.T) {
		e := newTestEngine(t, []types.Selector{
			parse("[engine:testng]/[class:com.example.A]/[method:two()]"),
		}, nil, nil)
		_, err := e.Discover(context.Background())
		require.NoError(t, err)

		plan := e.Plan()
		assert.Empty(t, plan.Classes)
		assert.Equal(t, map[string][]string{"com.example.A": {"two"}}, plan.Methods)

		run, err := e.Execute(context.Background())
		require.NoError(t, err)
		require.NoError(t, run.Violations)
		assert.Len(t, run.Tree.TestNodes, 1)
		assert.Equal(t, types.TestStatusFail, run.Tree.TestNodes[0].Status)
	})

	t.Run("invocation selects its method", func(t *testing.T) {
		e := newTestEngine(t, []types.Selector{
			parse("[engine:testng]/[class:com.example.A]/[method:rows(int)]/[invoc:1]"),
		}, nil, nil)
		run, err := e.Execute(context.Background())
		require.NoError(t, err)
		rows := run.Tree.FindNode("[engine:testng]/[class:com.example.A]/[method:rows(int)]")
		require.NotNil(t, rows)
		assert.Len(t, rows.Children, 2)
		assert.Nil(t, run.Tree.FindNode("[engine:testng]/[class:com.example.A]/[method:one()]"))
	})

	t.Run("whole class", func(t *testing.T) {
		e := newTestEngine(t, []types.Selector{parse("[engine:testng]/[class:com.example.B]")}, nil, nil)
		_, err := e.Discover(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"com.example.B"}, e.Plan().Classes)
	})

	t.Run("nothing selected", func(t *testing.T) {
		e := newTestEngine(t, []types.Selector{parse("[engine:testng]/[class:com.example.Missing]")}, nil, nil)
		run, err := e.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.StatusSuccessful, run.Result.Status)
		assert.Empty(t, run.Tree.TestNodes)
	})
}

func TestEngine_Cancelled(t *testing.T) {
	c := cancel.NewCoordinator()
	e := newTestEngine(t, nil, nil, c)
	_, err := e.Discover(context.Background())
	require.NoError(t, err)

	ctx, cancelRun := context.WithCancel(context.Background())
	cancelRun()
	run, err := e.Execute(ctx)
	require.NoError(t, err)
	require.NoError(t, run.Violations)

	assert.True(t, c.Cancelled())
	assert.Equal(t, types.StatusAborted, run.Result.Status)
	assert.ErrorIs(t, run.Result.Cause, cancel.ErrCancelled)

	for _, id := range []string{
		"[engine:testng]/[class:com.example.A]/[method:one()]",
		"[engine:testng]/[class:com.example.A]/[method:two()]",
	} {
		node := run.Tree.FindNode(id)
		require.NotNil(t, node, id)
		assert.Equal(t, types.TestStatusAbort, node.Status, id)
		assert.ErrorIs(t, node.Error, cancel.ErrCancelled, id)
	}
}

// overlappingScheduler runs one class as several concurrent instances: every
// instance begins the class, one test runs, then every instance ends it
type overlappingScheduler struct {
	class      scheduler.Class
	instances  int
	afterClass func()
}

func (s *overlappingScheduler) Run(_ context.Context, _ scheduler.Plan, l scheduler.Listener) error {
	parallel := func(fn func()) {
		var wg sync.WaitGroup
		for i := 0; i < s.instances; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn()
			}()
		}
		wg.Wait()
	}
	parallel(func() { l.OnBeforeClass(s.class) })
	r := &scheduler.Result{ID: "p1", Class: s.class, Method: scheduler.Method{Name: "one"}}
	l.OnTestStart(r)
	l.OnTestSuccess(r)
	parallel(func() { l.OnAfterClass(s.class) })
	if s.afterClass != nil {
		s.afterClass()
	}
	return nil
}

func TestEngine_OverlappingClassInstances(t *testing.T) {
	rec := reporting.NewRecorder()
	s := &overlappingScheduler{class: scheduler.Class{Name: "com.example.P"}, instances: 5}
	e, err := New(Config{Log: testLogger(), Scheduler: s, Listener: rec, RunID: "run-1"})
	require.NoError(t, err)

	_, err = e.Discover(context.Background())
	require.NoError(t, err)
	class, err := e.Registry().Class("com.example.P")
	require.NoError(t, err)
	assert.Equal(t, int64(1), class.Rounds())

	var finishedByAfterClass bool
	s.afterClass = func() {
		node := rec.Find("P")
		if node == nil {
			return
		}
		events := rec.EventsFor(node)
		finishedByAfterClass = len(events) > 0 && events[len(events)-1].Kind == reporting.EventFinished
	}

	run, err := e.Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, run.Violations)
	assert.True(t, finishedByAfterClass, "class must finish with its last after-class")
	assert.Equal(t, types.StatusSuccessful, run.Result.Status)

	node := rec.Find("P")
	require.NotNil(t, node)
	var kinds []reporting.EventKind
	for _, ev := range rec.EventsFor(node) {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []reporting.EventKind{reporting.EventStarted, reporting.EventFinished}, kinds)
}
