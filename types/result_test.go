package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	third := errors.New("third")

	t.Run("no causes", func(t *testing.T) {
		assert.NoError(t, Chain())
		assert.NoError(t, Chain(nil, nil))
	})

	t.Run("single cause is returned as is", func(t *testing.T) {
		assert.Same(t, first, Chain(nil, first))
	})

	t.Run("several causes keep order", func(t *testing.T) {
		err := Chain(first, nil, second, third)
		var chained *ChainedError
		require.ErrorAs(t, err, &chained)
		assert.Same(t, first, chained.Primary)
		assert.Equal(t, []error{second, third}, chained.Suppressed)
		assert.ErrorIs(t, err, third)
		assert.Equal(t, "first (suppressed: second; third)", err.Error())
		assert.Equal(t, []error{first, second, third}, Causes(err))
	})

	t.Run("causes of a plain error", func(t *testing.T) {
		assert.Equal(t, []error{first}, Causes(first))
		assert.Nil(t, Causes(nil))
	})
}

func TestPolicy(t *testing.T) {
	boom := errors.New("boom")

	t.Run("defaults", func(t *testing.T) {
		p := DefaultPolicy()
		assert.Equal(t, ClassifyFailed, p.Classify(ScopeClass, OutcomeFailure))
		assert.Equal(t, ClassifyAborted, p.Classify(ScopeEngine, OutcomeSkip))
	})

	t.Run("partial table falls back to defaults", func(t *testing.T) {
		p := Policy{ScopeEngine: {OutcomeSkip: ClassifyAbortedWithoutCause}}
		assert.Equal(t, ClassifyAbortedWithoutCause, p.Classify(ScopeEngine, OutcomeSkip))
		assert.Equal(t, ClassifyFailed, p.Classify(ScopeEngine, OutcomeFailure))
		assert.Equal(t, ClassifyAborted, p.Classify(ScopeClass, OutcomeSkip))
	})

	t.Run("classification results", func(t *testing.T) {
		assert.Equal(t, Failed(boom), ClassifyFailed.Result(boom))
		assert.Equal(t, Aborted(boom), ClassifyAborted.Result(boom))
		assert.Equal(t, Aborted(nil), ClassifyAbortedWithoutCause.Result(boom))
		assert.Equal(t, Aborted(nil), ClassifyFailed.Result(nil))
	})

	t.Run("validate", func(t *testing.T) {
		assert.NoError(t, DefaultPolicy().Validate())
		assert.Error(t, Policy{"suite": {OutcomeSkip: ClassifyAborted}}.Validate())
		assert.Error(t, Policy{ScopeClass: {"oops": ClassifyAborted}}.Validate())
		assert.Error(t, Policy{ScopeClass: {OutcomeSkip: "ignored"}}.Validate())
	})
}
