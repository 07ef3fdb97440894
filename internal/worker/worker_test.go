package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/step"
)

func TestRegistry(t *testing.T) {
	codesmith := Func{
		WorkerName: "codesmith",
		AcceptFn:   func(string) float64 { return 3 },
		ExecuteFn: func(_ context.Context, s step.ExecutionStep) (Result, error) {
			return Result{Output: "built " + s.ID}, nil
		},
	}
	research := Func{WorkerName: "research", AcceptFn: func(string) float64 { return -1 }}

	reg, err := NewRegistry(codesmith, research)
	require.NoError(t, err)

	assert.True(t, reg.Has("codesmith"))
	assert.False(t, reg.Has("architect"))
	assert.Equal(t, []string{"codesmith", "research"}, reg.Names())

	conf := reg.Confidence("anything")
	assert.Equal(t, 1.0, conf["codesmith"])
	assert.Equal(t, 0.0, conf["research"])

	w, err := reg.Get("codesmith")
	require.NoError(t, err)
	res, err := w.Execute(context.Background(), step.New("s1", "codesmith", "x"))
	require.NoError(t, err)
	assert.Equal(t, "built s1", res.Output)

	_, err = reg.Get("ghost")
	assert.True(t, errors.Is(err, errors.ErrUnknownWorker))
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(Func{WorkerName: "a"}, Func{WorkerName: "a"})
	assert.Error(t, err)

	_, err = NewRegistry(Func{})
	assert.Error(t, err)
}

func TestNilRegistry(t *testing.T) {
	var reg *Registry
	assert.False(t, reg.Has("x"))
	assert.Nil(t, reg.Names())
	_, err := reg.Get("x")
	assert.ErrorIs(t, err, errors.ErrUnknownWorker)
}

func TestFunc_MissingExecute(t *testing.T) {
	_, err := Func{WorkerName: "noop"}.Execute(context.Background(), step.New("s", "noop", "t"))
	assert.Error(t, err)
	assert.Zero(t, Func{}.Accepts("t"))
}
