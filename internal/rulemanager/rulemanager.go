// Package rulemanager installs and removes the host firewall rule that
// redirects matching outbound traffic into the diverter's packet queue,
// and guarantees that rule is torn down on every exit path.
package rulemanager

// RuleManager installs the platform rule that steers traffic to the
// diverter on Install, and undoes exactly that on Remove. Remove must be
// idempotent and safe to call even if Install never succeeded, since the
// Supervisor calls it during cleanup on every exit path once the
// single-instance lock is held, including after a failed Install.
type RuleManager interface {
	Install() error
	Remove() error
}
