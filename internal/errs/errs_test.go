package errs

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClassOfRoundTripsThroughWrap(t *testing.T) {
	base := errors.New("bad frame")
	wrapped := Wrap(base, Malformed)

	require.Equal(t, Malformed, ClassOf(wrapped))
	require.ErrorIs(t, wrapped, base)
}

func TestClassOfDefaultsToTransientForPlainErrors(t *testing.T) {
	require.Equal(t, Transient, ClassOf(errors.New("unclassified")))
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

func TestWrapCapturesStackOnlyForFatal(t *testing.T) {
	fatal := Wrap(errors.New("disk full"), Fatal)
	_, ok := fatal.Unwrap().(stackTracer)
	require.True(t, ok, "Fatal-wrapped error should carry a stack trace")
	require.Equal(t, "disk full", fatal.Unwrap().Error())

	malformed := Wrap(errors.New("bad frame"), Malformed)
	_, ok = malformed.Unwrap().(stackTracer)
	require.False(t, ok, "non-Fatal errors should not be stack-wrapped")
	require.Equal(t, "bad frame", malformed.Unwrap().Error())
}

func TestClassStringNames(t *testing.T) {
	require.Equal(t, "transient", Transient.String())
	require.Equal(t, "malformed", Malformed.String())
	require.Equal(t, "inconsistent", Inconsistent.String())
	require.Equal(t, "fatal", Fatal.String())
	require.Equal(t, "unknown", Class(99).String())
}
