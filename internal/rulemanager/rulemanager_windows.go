//go:build windows

package rulemanager

// WindowsRuleManager is a no-op RuleManager: on Windows there is no
// separate firewall rule to install. WinDivert's own filter string (passed
// to divert.Open by the diverter) is what steers traffic into userspace,
// so Install/Remove exist only to satisfy the cross-platform interface and
// the Supervisor's unconditional cleanup call.
type WindowsRuleManager struct{}

// NewWindows returns a WindowsRuleManager.
func NewWindows() *WindowsRuleManager { return &WindowsRuleManager{} }

// Install is a no-op; WinDivert's filter is applied when the diverter
// opens its handle.
func (r *WindowsRuleManager) Install() error { return nil }

// Remove is a no-op for the same reason; closing the WinDivert handle
// (done by the diverter) is what stops traffic from being intercepted.
func (r *WindowsRuleManager) Remove() error { return nil }
