package custodian

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreCurrent(),
		// memguard re-keys its enclave coffer in a process-lifetime goroutine.
		goleak.IgnoreAnyFunction("github.com/awnumar/memguard/core.NewCoffer.func1"),
	)
}
