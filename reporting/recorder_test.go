package reporting

import (
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Validate(t *testing.T) {
	engine := types.NewEngineNode("testng", "TestNG")
	class := types.NewClassNode(engine.ID, "com.example.A")
	engine.AddChild(class)
	method := testMethod(class, "one()", "one", types.NodeTypeTest)

	tests := []struct {
		name    string
		report  func(r *Recorder)
		wantErr string
	}{
		{
			name: "never finished",
			report: func(r *Recorder) {
				r.ExecutionStarted(engine)
			},
			wantErr: "has 0 terminal events",
		},
		{
			name: "finished twice",
			report: func(r *Recorder) {
				r.ExecutionStarted(engine)
				r.ExecutionFinished(engine, types.Successful())
				r.ExecutionFinished(engine, types.Successful())
			},
			wantErr: "has 2 terminal events",
		},
		{
			name: "finished without start",
			report: func(r *Recorder) {
				r.ExecutionFinished(engine, types.Successful())
			},
			wantErr: "finished without being started",
		},
		{
			name: "started outside parent",
			report: func(r *Recorder) {
				r.ExecutionStarted(class)
				r.ExecutionFinished(class, types.Successful())
			},
			wantErr: "started outside of its running parent",
		},
		{
			name: "registered late",
			report: func(r *Recorder) {
				r.ExecutionStarted(engine)
				r.ExecutionStarted(class)
				r.ExecutionStarted(method)
				r.DynamicTestRegistered(method)
				r.ExecutionFinished(method, types.Successful())
				r.ExecutionFinished(class, types.Successful())
				r.ExecutionFinished(engine, types.Successful())
			},
			wantErr: "registered after its lifecycle began",
		},
		{
			name: "parent finished before child",
			report: func(r *Recorder) {
				r.ExecutionStarted(engine)
				r.ExecutionStarted(class)
				r.ExecutionStarted(method)
				r.ExecutionFinished(class, types.Successful())
				r.ExecutionFinished(method, types.Successful())
				r.ExecutionFinished(engine, types.Successful())
			},
			wantErr: "finished before its child",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder()
			tt.report(r)
			err := r.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRecorder_Outcomes(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	fresh := NewRecorder()
	fresh.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	replay(sampleRecording(t), fresh)

	outcomes := fresh.Outcomes()
	require.Len(t, outcomes, 9)
	assert.Equal(t, types.KindEngine, outcomes[0].Node.Kind)
	assert.Equal(t, 0, outcomes[0].Order)

	byName := make(map[string]*types.NodeOutcome)
	for _, o := range outcomes {
		byName[o.Node.DisplayName] = o
	}
	assert.Equal(t, types.TestStatusPass, byName["one"].Status)
	assert.Equal(t, time.Second, byName["one"].Duration)

	assert.Equal(t, types.TestStatusFail, byName["two"].Status)
	assert.Contains(t, byName["two"].Error.Error(), "expected 2")

	assert.True(t, byName["[0] 1"].Registered)
	assert.False(t, byName["one"].Registered)

	assert.Equal(t, types.TestStatusSkip, byName["three"].Status)
	assert.Equal(t, "<unknown>", byName["three"].Reason)
	assert.Zero(t, byName["three"].Duration)

	assert.Equal(t, types.TestStatusFail, byName["B"].Status)
	assert.EqualError(t, byName["B"].Error, "boom")
}

func TestRecorder_Find(t *testing.T) {
	rec := sampleRecording(t)
	require.NotNil(t, rec.Find("rows(int)"))
	assert.Equal(t, types.KindMethod, rec.Find("rows(int)").Kind)
	assert.Nil(t, rec.Find("missing"))

	events := rec.EventsFor(rec.Find("two"))
	require.Len(t, events, 2)
	assert.False(t, events[0].IsTerminal())
	assert.True(t, events[1].IsTerminal())
}
