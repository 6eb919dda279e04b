package ikerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapFormatsMessage(t *testing.T) {
	err := Wrap(NotFound, "marks.Find", "no mark labeled %q", "cp")
	require.EqualError(t, err, `marks.Find: not_found: no mark labeled "cp"`)
}

func TestKindOfUnwrapsThroughFmtErrorf(t *testing.T) {
	base := New(Provider, "provider.Stream", errors.New("rate limited"))
	wrapped := fmt.Errorf("agent turn failed: %w", base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, Provider, kind)
}

func TestKindOfFalseForPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	require.False(t, ok)
}

func TestIsMatchesByKindNotIdentity(t *testing.T) {
	err := New(InvalidArg, "op", nil)
	require.True(t, Is(err, InvalidArg))
	require.False(t, Is(err, NotFound))
}

func TestErrorsIsAcrossTwoInstancesOfSameKind(t *testing.T) {
	a := New(OutOfRange, "op-a", errors.New("too big"))
	b := New(OutOfRange, "op-b", errors.New("too small"))
	require.True(t, errors.Is(a, b))
	require.True(t, errors.Is(b, a))
}

func TestUnwrapExposesUnderlyingError(t *testing.T) {
	underlying := errors.New("disk full")
	err := New(IO, "store.Append", underlying)
	require.ErrorIs(t, err, underlying)
}
