package core

import (
	"fmt"
	"sync/atomic"
)

var assertionsEnabled atomic.Bool

func init() {
	assertionsEnabled.Store(true)
}

// SetAssertions toggles contract checks. With assertions off a violated
// contract is undefined behaviour, same as a release build.
func SetAssertions(enabled bool) {
	assertionsEnabled.Store(enabled)
}

func AssertionsEnabled() bool {
	return assertionsEnabled.Load()
}

// Assert panics with a KindContract DeviceError when cond is false.
func Assert(cond bool, format string, args ...interface{}) {
	if cond || !assertionsEnabled.Load() {
		return
	}
	err := newDeviceError(2, KindContract, fmt.Sprintf(format, args...), "", nil, nil)
	LogError(err.Error())
	panic(err)
}

// AssertErr is Assert for violations that also carry a cause. It returns the
// error so release builds can still hand it back to the caller.
func AssertErr(cause error, format string, args ...interface{}) error {
	err := newDeviceError(2, KindContract, fmt.Sprintf(format, args...), "", cause, nil)
	LogError(err.Error())
	if assertionsEnabled.Load() {
		panic(err)
	}
	return err
}
