package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceErrorRendering(t *testing.T) {
	cause := errors.New("out of memory")
	err := NewDeviceError(KindDevice, "CreateCommittedResource [PassCB]", "E_OUTOFMEMORY", cause, []string{"heap too small"})

	assert.Equal(t, "errors_test.go", err.File)
	assert.NotZero(t, err.Line)
	msg := err.Error()
	assert.Contains(t, msg, "[device] CreateCommittedResource [PassCB]")
	assert.Contains(t, msg, "code=E_OUTOFMEMORY")
	assert.Contains(t, msg, "out of memory")
	assert.Contains(t, msg, "\n\theap too small")
	assert.ErrorIs(t, err, cause)
}

func TestDeviceErrorSentinels(t *testing.T) {
	removed := fmt.Errorf("present: %w", NewDeviceError(KindDeviceRemoved, "Present", "", errors.New("hung"), nil))
	assert.ErrorIs(t, removed, ErrDeviceRemoved)
	assert.True(t, IsFatal(removed))

	missing := NewDeviceError(KindNotFound, "pipeline `sky`", "", nil, nil)
	assert.ErrorIs(t, missing, ErrNotFound)
	assert.False(t, IsFatal(missing))

	kind, ok := KindOf(removed)
	require.True(t, ok)
	assert.Equal(t, KindDeviceRemoved, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.True(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestAssertPanicsWithContractError(t *testing.T) {
	SetAssertions(true)
	defer SetAssertions(true)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		de, ok := r.(*DeviceError)
		require.True(t, ok)
		assert.Equal(t, KindContract, de.Kind)
		assert.Contains(t, de.Op, "slot 3")
	}()
	Assert(false, "slot %d out of range", 3)
}

func TestAssertDisabledIsNoop(t *testing.T) {
	SetAssertions(false)
	defer SetAssertions(true)

	assert.NotPanics(t, func() { Assert(false, "ignored") })
	err := AssertErr(ErrInvalidHandle, "bad handle")
	assert.ErrorIs(t, err, ErrInvalidHandle)
}
