// Package supervisor owns process lifecycle: acquiring the single-instance
// lock, optionally daemonizing (Linux) or running under the Service
// Control Manager (Windows), wiring OS signals to a shutdown request, and
// guaranteeing the RuleManager's rules are removed on every exit path —
// normal exit, signal-driven exit, or a panic recovered from the verdict
// loop. SIGKILL is explicitly out of scope: it cannot be intercepted, and
// NFQUEUE's "bypass" queue mode and WinDivert's handle-close-on-process-
// death behavior both make leftover rules inert rather than a fail-closed
// hazard.
package supervisor

import (
	"fmt"

	"dpibreak/internal/core"
	"dpibreak/internal/rulemanager"
)

// Locker is the single-instance lock primitive. Linux implements it with
// flock on a PID file; on Windows, the Service Control Manager itself
// already prevents two instances of the same service from running, so the
// Windows Locker is a no-op.
type Locker interface {
	Acquire() error
	Release() error
}

// Run acquires lock, installs rules via rm, then calls body. Once the lock
// is held, Run calls rm.Remove() before it returns on every path: a failed
// Install, body returning (with or without an error, e.g. after a shutdown
// signal), or body panicking. A panic in body is recovered and returned as
// an error; it is not re-raised. If the lock cannot be acquired, Run returns
// without calling Install or Remove.
func Run(lock Locker, rm rulemanager.RuleManager, body func() error) (err error) {
	if acqErr := lock.Acquire(); acqErr != nil {
		return &core.StartupFatalError{Op: "supervisor.Lock.Acquire", Err: acqErr}
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil {
			core.Log.Warnf("supervisor", "lock release failed: %v", relErr)
		}
	}()

	if instErr := rm.Install(); instErr != nil {
		if remErr := rm.Remove(); remErr != nil {
			core.Log.Warnf("supervisor", "rule cleanup after failed install failed: %v", remErr)
		}
		return &core.StartupFatalError{Op: "supervisor.RuleManager.Install", Err: instErr}
	}

	defer func() {
		if remErr := rm.Remove(); remErr != nil {
			core.Log.Warnf("supervisor", "rule cleanup failed: %v", remErr)
		} else {
			core.Log.Infof("supervisor", "rules removed, cleanup complete")
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			core.Log.Errorf("supervisor", "recovered panic in verdict loop: %v", r)
			err = fmt.Errorf("supervisor: panic recovered: %v", r)
		}
	}()

	return body()
}
