package packetview

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func buildIPv4TCP(t *testing.T, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("93.184.216.34").To4(),
	}
	tcp := &layers.TCP{
		SrcPort: 51000,
		DstPort: 443,
		Seq:     1000,
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set network layer: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, tcp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}

func TestParseAndAccessors(t *testing.T) {
	payload := []byte("hello tls clienthello bytes")
	raw := buildIPv4TCP(t, payload)

	pv := New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !pv.IsTCP() {
		t.Fatalf("expected TCP layer")
	}
	if pv.IsIPv6() {
		t.Fatalf("expected IPv4")
	}
	if got := pv.SrcPort(); got != 51000 {
		t.Errorf("SrcPort = %d, want 51000", got)
	}
	if got := pv.DstPort(); got != 443 {
		t.Errorf("DstPort = %d, want 443", got)
	}
	if got := pv.Hops(); got != 64 {
		t.Errorf("Hops = %d, want 64", got)
	}
	if string(pv.Payload()) != string(payload) {
		t.Errorf("Payload = %q, want %q", pv.Payload(), payload)
	}
}

func TestRebuildRoundTrip(t *testing.T) {
	raw := buildIPv4TCP(t, []byte("original payload"))
	pv := New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}

	replacement := []byte("replacement payload")
	out, err := pv.Rebuild(replacement, 0, false)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	pv2 := New()
	if err := pv2.Parse(out); err != nil {
		t.Fatalf("parse rebuilt: %v", err)
	}
	if string(pv2.Payload()) != string(replacement) {
		t.Errorf("rebuilt payload = %q, want %q", pv2.Payload(), replacement)
	}
	if pv2.Hops() != 64 {
		t.Errorf("rebuilt TTL = %d, want 64 (unchanged)", pv2.Hops())
	}
}

func TestRebuildOverridesHops(t *testing.T) {
	raw := buildIPv4TCP(t, []byte("payload"))
	pv := New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := pv.Rebuild([]byte("decoy"), 8, false)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	pv2 := New()
	if err := pv2.Parse(out); err != nil {
		t.Fatalf("parse rebuilt: %v", err)
	}
	if pv2.Hops() != 8 {
		t.Errorf("rebuilt TTL = %d, want 8", pv2.Hops())
	}
}

func TestRebuildBadChecksumDiffers(t *testing.T) {
	raw := buildIPv4TCP(t, []byte("payload"))
	pv := New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}
	good, err := pv.Rebuild([]byte("payload"), 0, false)
	if err != nil {
		t.Fatalf("rebuild good: %v", err)
	}
	bad, err := pv.Rebuild([]byte("payload"), 0, true)
	if err != nil {
		t.Fatalf("rebuild bad: %v", err)
	}
	ihl := int(good[0]&0x0f) * 4
	ckOff := ihl + 16
	goodCk := uint16(good[ckOff])<<8 | uint16(good[ckOff+1])
	badCk := uint16(bad[ckOff])<<8 | uint16(bad[ckOff+1])
	if goodCk == badCk {
		t.Fatalf("expected corrupted checksum to differ from valid one")
	}
}

func TestRebuildAssignsFreshIPv4ID(t *testing.T) {
	raw := buildIPv4TCP(t, []byte("original payload"))
	pv := New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}
	origID := pv.ip4.Id

	out1, err := pv.Rebuild([]byte("piece one"), 0, false)
	if err != nil {
		t.Fatalf("rebuild 1: %v", err)
	}
	out2, err := pv.Rebuild([]byte("piece two"), 0, false)
	if err != nil {
		t.Fatalf("rebuild 2: %v", err)
	}

	id1 := uint16(out1[4])<<8 | uint16(out1[5])
	id2 := uint16(out2[4])<<8 | uint16(out2[5])

	if id1 == id2 {
		t.Fatalf("two rebuilt fragments got the same IPv4 ID %#04x", id1)
	}
	if id1 == origID || id2 == origID {
		t.Fatalf("rebuilt fragment reused the original segment's IPv4 ID %#04x", origID)
	}
}

func TestCorruptChecksumDiffersFromOriginal(t *testing.T) {
	for _, correct := range []uint16{0x0000, 0x220d, 0xffff, 0x8000} {
		if got := corruptChecksum(correct); got == correct {
			t.Errorf("corruptChecksum(%#04x) = %#04x, want a different value", correct, got)
		}
	}
}
