// Package fragment resegments a single TCP packet carrying a TLS
// ClientHello into multiple packets whose payloads concatenate back to the
// original, splitting near the SNI so no one fragment contains the whole
// hostname. This is the only active-desync technique this module uses by
// default — one clean, deterministic split, not the roulette of strategies
// a zapret-style tool tries one at a time.
package fragment

import (
	"fmt"

	"dpibreak/internal/packetview"
	"dpibreak/internal/tlsdetect"
)

// DefaultSplitCount is the number of segments a ClientHello is cut into
// when no narrower split point is available. The spec fixes K=2: one split
// point is enough to separate the SNI extension from the record header a
// naive DPI engine reads in a single read() call.
const DefaultSplitCount = 2

// Split computes byte offsets (relative to payload) at which to cut hello
// into DefaultSplitCount pieces. It prefers splitting inside the SNI
// hostname — the byte offset FindSNIOffset reports plus half the hostname's
// length, so the hostname itself straddles the boundary — and falls back to a near-midpoint
// split when no SNI extension is present (the payload is still a
// ClientHello; some deployments omit SNI or encrypt it).
func Split(hello []byte) []int {
	if len(hello) < 2 {
		return nil
	}

	if offset, length := tlsdetect.FindSNIOffset(hello); offset > 0 && length > 0 {
		mid := offset + length/2
		if mid > 0 && mid < len(hello) {
			return []int{mid}
		}
	}

	mid := (len(hello) + 1) / 2
	if mid <= 0 || mid >= len(hello) {
		return nil
	}
	return []int{mid}
}

// chunks slices data at the given ascending, in-bounds split points.
func chunks(data []byte, splits []int) [][]byte {
	if len(splits) == 0 {
		return [][]byte{data}
	}
	out := make([][]byte, 0, len(splits)+1)
	start := 0
	for _, p := range splits {
		if p <= start || p >= len(data) {
			continue
		}
		out = append(out, data[start:p])
		start = p
	}
	out = append(out, data[start:])
	return out
}

// Segments resegments the packet decoded into pv (whose payload must be a
// TLS ClientHello) into len(splits)+1 raw IP packets. Each packet keeps the
// original 5-tuple; sequence numbers are offset by the cumulative length of
// preceding fragments so the receiver's reassembly is transparent. Only the
// final fragment carries PSH, matching how a real unfragmented send would
// terminate the record.
func Segments(pv *packetview.PacketView) ([][]byte, error) {
	payload := pv.Payload()
	if len(payload) == 0 {
		return nil, fmt.Errorf("fragment: empty payload")
	}

	splits := Split(payload)
	parts := chunks(payload, splits)
	if len(parts) < 2 {
		return nil, fmt.Errorf("fragment: no viable split point")
	}

	baseSeq := pv.Seq()
	out := make([][]byte, 0, len(parts))
	var offset uint32
	for i, part := range parts {
		seq := baseSeq + offset
		psh := i == len(parts)-1
		raw, err := pv.RebuildSegment(packetview.RebuildOpts{
			Payload:     part,
			SeqOverride: &seq,
			PSHOverride: &psh,
		})
		if err != nil {
			return nil, fmt.Errorf("fragment: rebuild segment %d: %w", i, err)
		}
		out = append(out, raw)
		offset += uint32(len(part))
	}
	return out, nil
}
