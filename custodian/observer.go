package custodian

import "time"

// Operation names reported to an Observer.
const (
	OpEnsureKey   = "ensure_key"
	OpEncrypt     = "encrypt"
	OpDecrypt     = "decrypt"
	OpReprovision = "reprovision"
	OpInfo        = "info"
)

// Observer is notified after every custodian operation. Implementations
// must not block; err is nil on success.
type Observer interface {
	Observe(op, alias string, elapsed time.Duration, err error)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(op, alias string, elapsed time.Duration, err error)

func (f ObserverFunc) Observe(op, alias string, elapsed time.Duration, err error) {
	f(op, alias, elapsed, err)
}

type nopObserver struct{}

func (nopObserver) Observe(string, string, time.Duration, error) {}
