package fakesynth

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"dpibreak/internal/packetview"
	"dpibreak/internal/tlsdetect"
)

func TestPayloadIsClientHelloWithDecoySNI(t *testing.T) {
	p := Payload()
	if !tlsdetect.IsClientHello(p) {
		t.Fatalf("decoy payload does not classify as a ClientHello")
	}
	if got := tlsdetect.ExtractSNI(p); got != decoyHostname {
		t.Fatalf("decoy SNI = %q, want %q", got, decoyHostname)
	}
}

func TestResolveTTL_AutoTTLUsesInferredMinusOne(t *testing.T) {
	got := ResolveTTL(true, 10, 8)
	if got != 9 {
		t.Fatalf("ResolveTTL = %d, want 9", got)
	}
}

func TestResolveTTL_FallsBackNearPeer(t *testing.T) {
	// inferred hops of 2 would yield candidate=1, at or below MinTTL, so it
	// must fall back to the fixed TTL rather than risk reaching past the
	// real path's first hop.
	got := ResolveTTL(true, 2, 8)
	if got != 8 {
		t.Fatalf("ResolveTTL = %d, want fallback of 8", got)
	}
}

func TestResolveTTL_BoundaryCandidateOfTwoPassesThrough(t *testing.T) {
	// inferred hops of 3 yields candidate=2, which is > MinTTL(1) and must
	// be used as-is rather than falling back.
	got := ResolveTTL(true, 3, 8)
	if got != 2 {
		t.Fatalf("ResolveTTL = %d, want candidate value 2", got)
	}
}

func TestResolveTTL_FixedWhenAutoTTLOff(t *testing.T) {
	got := ResolveTTL(false, 30, 5)
	if got != 5 {
		t.Fatalf("ResolveTTL = %d, want 5", got)
	}
}

func buildRealSegment(t *testing.T) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("10.0.0.9").To4(),
		DstIP:    net.ParseIP("8.8.8.8").To4(),
	}
	tcp := &layers.TCP{SrcPort: 54000, DstPort: 443, Seq: 42, ACK: true, PSH: true}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set network layer: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, tcp, gopacket.Payload([]byte("real clienthello bytes"))); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}

func TestBuild_PreservesTupleWithLowTTL(t *testing.T) {
	raw := buildRealSegment(t)
	pv := packetview.New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}
	origTuple := pv.Tuple()

	decoy, err := Build(pv, 4, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	dpv := packetview.New()
	if err := dpv.Parse(decoy); err != nil {
		t.Fatalf("parse decoy: %v", err)
	}
	if dpv.Tuple() != origTuple {
		t.Fatalf("decoy tuple = %+v, want %+v", dpv.Tuple(), origTuple)
	}
	if dpv.Hops() != 4 {
		t.Fatalf("decoy TTL = %d, want 4", dpv.Hops())
	}
	if !tlsdetect.IsClientHello(dpv.Payload()) {
		t.Fatalf("decoy payload is not a ClientHello")
	}
}
