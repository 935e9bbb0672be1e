// Package diverter contains the platform-agnostic verdict function plus the
// platform bindings (NFQUEUE on Linux, WinDivert on Windows) that feed it
// packets and enact its verdicts. Decide is pure with respect to its
// inputs: given a packet, config, and HopTab snapshot, it always returns
// the same Verdict, which keeps it testable without a real queue.
package diverter

import (
	"time"

	"dpibreak/internal/core"
	"dpibreak/internal/fakesynth"
	"dpibreak/internal/fragment"
	"dpibreak/internal/hoptab"
	"dpibreak/internal/packetview"
	"dpibreak/internal/tlsdetect"
)

// Kind tags the three possible dispositions for an intercepted packet.
type Kind int

const (
	// Accept passes the packet through unmodified.
	Accept Kind = iota
	// Drop discards the packet with no replacement.
	Drop
	// Replace drops the original and emits Buffers in order instead.
	Replace
)

// Verdict is the outcome of classifying one intercepted packet.
type Verdict struct {
	Kind    Kind
	Buffers [][]byte

	// FragmentCount and FakeCount break Buffers down by origin, for
	// metrics — Buffers itself interleaves the two and a failed decoy
	// build can make the fake count lower than the fragment count, so a
	// caller cannot recover this split by just halving len(Buffers).
	FragmentCount int
	FakeCount     int
}

// Capabilities is the platform binding's view of the diverter: open a
// queue, receive packets, emit replacements, and close cleanly. Linux and
// Windows each implement it against a different kernel primitive.
type Capabilities interface {
	Open(queueNum uint16) error
	Close() error
	// Recv blocks until a packet arrives or the queue is closed.
	Recv() (raw []byte, accept func() error, drop func() error, err error)
	// Emit sends a fully-formed replacement packet at IP level.
	Emit(raw []byte) error
}

// Decide classifies pv and returns the Verdict the diverter should enact.
// Non-TCP or non-ClientHello traffic always yields Accept. hops, if
// non-nil, is consulted for fake_autottl and updated is ignored here — the
// caller is responsible for feeding HopTab from the inbound SYN/ACK
// observation path, which is a distinct code path from this one.
func Decide(cfg core.Config, pv *packetview.PacketView, hops *hoptab.Table) Verdict {
	if !pv.IsTCP() {
		return Verdict{Kind: Accept}
	}

	payload := pv.Payload()
	if !tlsdetect.IsClientHello(payload) {
		return Verdict{Kind: Accept}
	}

	if !cfg.Fragment {
		return Verdict{Kind: Accept}
	}

	frags, err := fragment.Segments(pv)
	if err != nil {
		core.Log.Debugf("diverter", "fragment failed, accepting unmodified: %v", err)
		return Verdict{Kind: Accept}
	}

	if !cfg.Fake {
		return Verdict{Kind: Replace, Buffers: frags, FragmentCount: len(frags)}
	}

	ttl := cfg.FakeTTL
	if cfg.FakeAutoTTL && hops != nil {
		if inferred, ok := hops.Lookup(pv.DstIP().String()); ok {
			ttl = fakesynth.ResolveTTL(true, inferred, cfg.FakeTTL)
		}
	}

	buffers := make([][]byte, 0, len(frags)*2)
	fakeCount := 0
	for _, f := range frags {
		fake, err := fakesynth.Build(pv, ttl, cfg.FakeBadSum)
		if err != nil {
			core.Log.Debugf("diverter", "fake synth failed, skipping decoy: %v", err)
		} else {
			buffers = append(buffers, fake)
			fakeCount++
		}
		buffers = append(buffers, f)
	}

	return Verdict{Kind: Replace, Buffers: buffers, FragmentCount: len(frags), FakeCount: fakeCount}
}

// Emit enacts a Replace verdict against caps, pausing delay between
// consecutive buffers as the spec's emission schedule requires. A failed
// send does not stop the remaining buffers; the first error is returned
// once every buffer has been attempted.
func Emit(caps Capabilities, v Verdict, delay time.Duration) error {
	var firstErr error
	for i, buf := range v.Buffers {
		if err := caps.Emit(buf); err != nil && firstErr == nil {
			firstErr = err
		}
		if i < len(v.Buffers)-1 && delay > 0 {
			time.Sleep(delay)
		}
	}
	return firstErr
}

// ObserveSYNACK feeds an inbound SYN/ACK's observed TTL into hops, keyed by
// its source address (the peer whose hop distance we're inferring).
func ObserveSYNACK(hops *hoptab.Table, pv *packetview.PacketView) {
	if hops == nil {
		return
	}
	hops.Observe(pv.SrcIP().String(), pv.Hops())
}
