package health

import "sync/atomic"

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the readiness gate. The server drops it before draining
// connections so load balancers stop routing new checkout traffic here.
func SetReady(v bool) {
	ready.Store(v)
}

// IsReady reports the readiness gate state.
func IsReady() bool {
	return ready.Load()
}
