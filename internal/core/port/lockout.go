package port

// LockoutTracker gates sensitive operations on the failure history of identity keys.
type LockoutTracker interface {
	IsLockedOut(keys ...string) bool
	RecordFailure(keys ...string)
	ResetAttempts(keys ...string)
}

// LockoutMetrics captures telemetry hooks for the lockout tracker.
type LockoutMetrics interface {
	IncFailure()
	IncLockout()
	IncBlocked()
	SetLockoutSize(n int)
	AddSweepEvictions(cache string, n int)
	IncSweepError(cache string)
}
