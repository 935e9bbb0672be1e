//go:build linux

package rulemanager

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"dpibreak/internal/core"
)

// tableName is the dedicated nftables table this module owns. Using a
// private table rather than appending to an existing one means Remove can
// simply delete the whole table without touching rules anyone else set up.
const tableName = "dpibreak"

// LinuxRuleManager installs the nft (preferred) or iptables+xt_u32
// (fallback) rules that steer outbound ClientHello-bearing segments and
// inbound SYN/ACKs into the diverter's NFQUEUE.
type LinuxRuleManager struct {
	NFTCommand string // override path for the nft binary, e.g. for tests
	QueueNum   uint16

	backend string // "nft" or "iptables", set by Install
}

// NewLinux returns a LinuxRuleManager for the given queue number and nft
// command override (empty string means use the default "nft" on PATH).
func NewLinux(nftCommand string, queueNum uint16) *LinuxRuleManager {
	if nftCommand == "" {
		nftCommand = "nft"
	}
	return &LinuxRuleManager{NFTCommand: nftCommand, QueueNum: queueNum}
}

// Install creates the nft table/chains if the nft binary is usable,
// otherwise falls back to iptables/ip6tables with xt_u32. Idempotent: each
// backend deletes its stale rules (the nft table of the same name, or the
// matching iptables/ip6tables rules) before creating them, so a retry after
// a partial failure starts clean.
func (r *LinuxRuleManager) Install() error {
	if nftAvailable(r.NFTCommand) {
		if err := r.installNFT(); err != nil {
			core.Log.Warnf("rulemanager", "nft install failed, falling back to iptables: %v", err)
		} else {
			r.backend = "nft"
			return nil
		}
	}
	if err := r.installIptables(); err != nil {
		return fmt.Errorf("rulemanager: both nft and iptables install failed: %w", err)
	}
	r.backend = "iptables"
	return nil
}

// Remove deletes whichever backend's rules Install created. Safe to call
// even if Install never ran or only partially succeeded — both code paths
// tolerate a missing table/chain.
func (r *LinuxRuleManager) Remove() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = run(ctx, r.NFTCommand, "delete", "table", "inet", tableName)

	_ = run(ctx, "iptables", "-t", "mangle", "-D", "OUTPUT", "-p", "tcp", "--dport", "443",
		"-m", "u32", "--u32", pshOrNotAckU32(), "-j", "NFQUEUE", "--queue-num", qnum(r.QueueNum), "--queue-bypass")
	_ = run(ctx, "iptables", "-t", "mangle", "-D", "INPUT", "-p", "tcp", "--sport", "443",
		"--tcp-flags", "SYN,ACK", "SYN,ACK", "-j", "NFQUEUE", "--queue-num", qnum(r.QueueNum), "--queue-bypass")
	_ = run(ctx, "ip6tables", "-t", "mangle", "-D", "OUTPUT", "-p", "tcp", "--dport", "443",
		"-m", "u32", "--u32", pshOrNotAckU32(), "-j", "NFQUEUE", "--queue-num", qnum(r.QueueNum), "--queue-bypass")
	_ = run(ctx, "ip6tables", "-t", "mangle", "-D", "INPUT", "-p", "tcp", "--sport", "443",
		"--tcp-flags", "SYN,ACK", "SYN,ACK", "-j", "NFQUEUE", "--queue-num", qnum(r.QueueNum), "--queue-bypass")

	return nil
}

func (r *LinuxRuleManager) installNFT() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = run(ctx, r.NFTCommand, "delete", "table", "inet", tableName)

	script := fmt.Sprintf(`
table inet %s {
  chain out {
    type filter hook output priority 0; policy accept;
    tcp dport 443 tcp flags psh queue num %d bypass
  }
  chain in {
    type filter hook input priority 0; policy accept;
    tcp sport 443 tcp flags syn,ack == syn,ack queue num %d bypass
  }
}
`, tableName, r.QueueNum, r.QueueNum)

	return runStdin(ctx, r.NFTCommand, script, "-f", "-")
}

func (r *LinuxRuleManager) installIptables() error {
	_ = r.Remove()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := [][]string{
		{"iptables", "-t", "mangle", "-A", "OUTPUT", "-p", "tcp", "--dport", "443",
			"-m", "u32", "--u32", pshOrNotAckU32(), "-j", "NFQUEUE", "--queue-num", qnum(r.QueueNum), "--queue-bypass"},
		{"iptables", "-t", "mangle", "-A", "INPUT", "-p", "tcp", "--sport", "443",
			"--tcp-flags", "SYN,ACK", "SYN,ACK", "-j", "NFQUEUE", "--queue-num", qnum(r.QueueNum), "--queue-bypass"},
		{"ip6tables", "-t", "mangle", "-A", "OUTPUT", "-p", "tcp", "--dport", "443",
			"-m", "u32", "--u32", pshOrNotAckU32(), "-j", "NFQUEUE", "--queue-num", qnum(r.QueueNum), "--queue-bypass"},
		{"ip6tables", "-t", "mangle", "-A", "INPUT", "-p", "tcp", "--sport", "443",
			"--tcp-flags", "SYN,ACK", "SYN,ACK", "-j", "NFQUEUE", "--queue-num", qnum(r.QueueNum), "--queue-bypass"},
	}
	for _, s := range steps {
		if err := run(ctx, s[0], s[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// pshOrNotAckU32 is the xt_u32 expression selecting segments with the PSH
// flag set — the fallback's byte-offset equivalent of nft's "tcp flags
// psh", reading the TCP header's flags byte at a fixed offset from the
// start of the IP header (assumes no IP options, the common case for
// outbound connections this host originates).
func pshOrNotAckU32() string {
	return "0>>22&0x3C@12>>26&0x3C@0&0xFF=0x08"
}

func qnum(n uint16) string { return fmt.Sprintf("%d", n) }

func nftAvailable(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, stderr.String())
	}
	return nil
}

func runStdin(ctx context.Context, name, stdin string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewBufferString(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, stderr.String())
	}
	return nil
}
