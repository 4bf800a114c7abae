package reporting

import (
	"errors"
	"sync"
	"testing"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type guardFixture struct {
	rec    *Recorder
	guard  *ProtocolGuard
	engine *types.Node
	class  *types.Node
	method *types.Node
}

func newGuardFixture() *guardFixture {
	engine := types.NewEngineNode("testng", "TestNG")
	class := types.NewClassNode(engine.ID, "com.example.A")
	engine.AddChild(class)
	method := testMethod(class, "one()", "one", types.NodeTypeTest)

	rec := NewRecorder()
	return &guardFixture{
		rec:    rec,
		guard:  NewProtocolGuard(log.NewLogger(log.DiscardHandler()), rec),
		engine: engine,
		class:  class,
		method: method,
	}
}

func eventStrings(rec *Recorder) []string {
	var out []string
	for _, ev := range rec.Events() {
		out = append(out, ev.String())
	}
	return out
}

func TestProtocolGuard(t *testing.T) {
	t.Run("forwards a well paired stream", func(t *testing.T) {
		f := newGuardFixture()
		f.guard.ExecutionStarted(f.engine)
		f.guard.ExecutionStarted(f.class)
		f.guard.ExecutionStarted(f.method)
		f.guard.ReportingEntryPublished(f.method, types.NewReportEntry("description", "d"))
		f.guard.ExecutionFinished(f.method, types.Successful())
		f.guard.ExecutionFinished(f.class, types.Successful())
		f.guard.ExecutionFinished(f.engine, types.Successful())

		assert.Equal(t, []string{
			"started(TestNG)",
			"started(A)",
			"started(one)",
			"entry(one)",
			"finished(one, successful)",
			"finished(A, successful)",
			"finished(TestNG, successful)",
		}, eventStrings(f.rec))
		assert.NoError(t, f.rec.Validate())
	})

	t.Run("drops duplicates", func(t *testing.T) {
		f := newGuardFixture()
		f.guard.ExecutionStarted(f.engine)
		f.guard.ExecutionStarted(f.class)
		f.guard.ExecutionStarted(f.class)
		f.guard.ExecutionFinished(f.class, types.Successful())
		f.guard.ExecutionFinished(f.class, types.Failed(errors.New("late")))
		f.guard.ExecutionSkipped(f.class, "late")

		assert.Equal(t, []string{
			"started(TestNG)",
			"started(A)",
			"finished(A, successful)",
		}, eventStrings(f.rec))
	})

	t.Run("drops finish without start", func(t *testing.T) {
		f := newGuardFixture()
		f.guard.ExecutionStarted(f.engine)
		f.guard.ExecutionFinished(f.class, types.Successful())
		assert.Equal(t, []string{"started(TestNG)"}, eventStrings(f.rec))
	})

	t.Run("drops start under a closed parent", func(t *testing.T) {
		f := newGuardFixture()
		f.guard.ExecutionStarted(f.engine)
		f.guard.ExecutionStarted(f.class)
		f.guard.ExecutionFinished(f.class, types.Successful())
		f.guard.ExecutionStarted(f.method)
		// a skip needs no running parent
		f.guard.ExecutionSkipped(f.method, "x")

		assert.Equal(t, []string{
			"started(TestNG)",
			"started(A)",
			"finished(A, successful)",
			"skipped(one, x)",
		}, eventStrings(f.rec))
	})

	t.Run("registration happens once and before start", func(t *testing.T) {
		f := newGuardFixture()
		f.guard.ExecutionStarted(f.engine)
		f.guard.ExecutionStarted(f.class)
		f.guard.DynamicTestRegistered(f.method)
		f.guard.DynamicTestRegistered(f.method)
		f.guard.ExecutionStarted(f.method)
		f.guard.DynamicTestRegistered(f.method)

		assert.Equal(t, []string{
			"started(TestNG)",
			"started(A)",
			"registered(one)",
			"started(one)",
		}, eventStrings(f.rec))
	})

	t.Run("concurrent terminal events", func(t *testing.T) {
		f := newGuardFixture()
		f.guard.ExecutionStarted(f.engine)
		f.guard.ExecutionStarted(f.class)
		f.guard.ExecutionStarted(f.method)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.guard.ExecutionFinished(f.method, types.Successful())
			}()
		}
		wg.Wait()
		assert.Len(t, f.rec.EventsFor(f.method), 2)
	})
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	m := Multi{a, b}
	engine := types.NewEngineNode("testng", "TestNG")

	m.ExecutionStarted(engine)
	m.ExecutionFinished(engine, types.Successful())

	require.Len(t, a.Events(), 2)
	assert.Equal(t, eventStrings(a), eventStrings(b))
}
