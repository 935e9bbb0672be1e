//go:build windows

package diverter

import (
	"context"
	"fmt"
	"time"

	"github.com/imgk/divert-go"

	"dpibreak/internal/core"
)

// outboundTLSFilter matches outbound TCP segments to port 443 carrying a
// payload — narrowed further by Decide's own ClientHello check, but
// WinDivert itself has no TLS awareness so the filter only trims volume —
// plus inbound SYN/ACK replies from port 443, which never reach Decide's
// fragment path but do feed ObserveSYNACK/HopTab so fake_autottl has a hop
// count to derive a decoy TTL from, the same way the Linux NFQUEUE input
// chain captures them.
const outboundTLSFilter = "(outbound and tcp and tcp.DstPort == 443 and tcp.PayloadLength > 0) or " +
	"(inbound and tcp and tcp.SrcPort == 443 and tcp.Syn and tcp.Ack)"

// WindowsDiverter binds a single WinDivert handle used for both receiving
// intercepted packets and re-injecting replacements — unlike Linux, there
// is no separate raw socket: WinDivert's Send re-injects at the same layer
// it captured from.
type WindowsDiverter struct {
	handle *divert.Handle
}

// NewWindows returns an unopened WindowsDiverter.
func NewWindows() *WindowsDiverter { return &WindowsDiverter{} }

// Open registers the WinDivert filter. queueNum has no meaning on Windows
// (WinDivert has no queue-number concept); it is accepted only so the
// Capabilities interface stays uniform across platforms.
func (d *WindowsDiverter) Open(queueNum uint16) error {
	h, err := divert.Open(outboundTLSFilter, divert.LayerNetwork, 0, 0)
	if err != nil {
		return &core.StartupFatalError{Op: "divert.Open", Err: err}
	}
	d.handle = h
	return nil
}

// Close shuts down the WinDivert handle.
func (d *WindowsDiverter) Close() error {
	if d.handle == nil {
		return nil
	}
	return d.handle.Close()
}

// Run reads packets from the WinDivert handle, hands each to classify, and
// enacts the returned Verdict, until ctx is canceled.
func (d *WindowsDiverter) Run(ctx context.Context, classify func(raw []byte) Verdict, delay time.Duration) error {
	buf := make([]byte, 0xffff)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, addr, err := d.handle.Recv(buf)
		if err != nil {
			core.Log.Debugf("diverter", "windivert recv: %v", err)
			continue
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])

		v := classify(raw)
		switch v.Kind {
		case Accept:
			if _, err := d.handle.Send(raw, addr); err != nil {
				core.Log.Warnf("diverter", "windivert reinject accept: %v", err)
			}
		case Drop:
			// do not re-inject
		case Replace:
			if err := Emit(d, v, delay); err != nil {
				core.Log.Warnf("diverter", "emit replacement buffers: %v", err)
			}
		}
	}
}

// Recv is unused on Windows — Run drives the loop directly against the
// WinDivert handle, mirroring LinuxDiverter's Run/Recv split.
func (d *WindowsDiverter) Recv() ([]byte, func() error, func() error, error) {
	return nil, nil, nil, fmt.Errorf("diverter: Recv is not used by WindowsDiverter, use Run")
}

// Emit re-injects a fully-formed packet through the same WinDivert handle
// it was captured from. WinDivert recalculates nothing automatically for
// injected packets built this way, so the caller (fragment/fakesynth) must
// have already set correct length fields and checksums — which PacketView
// does via ComputeChecksums during serialization, except where
// fake_badsum intentionally corrupts them.
func (d *WindowsDiverter) Emit(raw []byte) error {
	addr := divert.Address{}
	addr.SetOutbound(true)
	if _, err := d.handle.Send(raw, &addr); err != nil {
		return &core.EmitTransientError{Op: "divert.Send", Err: err}
	}
	return nil
}
