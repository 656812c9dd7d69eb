package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAtomizer() *atomizer {
	return &atomizer{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestAtomizeSplitsStdoutLinesInOrder(t *testing.T) {
	a := newTestAtomizer()

	atoms, err := a.Atomize(context.Background(), testJob(`printf 'tests/a.py\ntests/b.py\n\ntests/c.py\n'`, 0))
	require.NoError(t, err)

	values := lo.Map(atoms, func(a *Atom, _ int) string { return a.Value })
	assert.Equal(t, []string{"tests/a.py", "tests/b.py", "tests/c.py"}, values)
	for i, atom := range atoms {
		assert.Equal(t, i, atom.Ordinal)
		assert.Equal(t, AtomPending, atom.Status)
	}
}

func TestAtomizeFailsOnNonZeroExit(t *testing.T) {
	a := newTestAtomizer()

	_, err := a.Atomize(context.Background(), testJob(`echo boom >&2; exit 3`, 0))
	require.Error(t, err)

	var atomErr *AtomizationError
	require.ErrorAs(t, err, &atomErr)
	assert.Equal(t, 3, atomErr.ExitCode)
	assert.Contains(t, atomErr.Output, "boom")
}

func TestAtomizeRejectsEmptyOutput(t *testing.T) {
	a := newTestAtomizer()

	_, err := a.Atomize(context.Background(), testJob(`true`, 0))
	var atomErr *AtomizationError
	require.ErrorAs(t, err, &atomErr)
	// A clean exit with no atoms is not an exit-code failure; the message
	// must say what actually went wrong.
	assert.Contains(t, err.Error(), "produced no atoms")
	assert.NotContains(t, err.Error(), "exited with code")
}
