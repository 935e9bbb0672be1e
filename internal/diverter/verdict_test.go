package diverter

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"dpibreak/internal/core"
	"dpibreak/internal/hoptab"
	"dpibreak/internal/packetview"
)

// buildSegment constructs a raw IPv4/TCP packet to port 443 carrying
// payload, from src 10.0.0.1:54321 to 1.2.3.4:443, seq 1000 — matching the
// fixture traffic described for the S1..S6 scenarios.
func buildSegment(t *testing.T, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("1.2.3.4").To4(),
	}
	tcp := &layers.TCP{SrcPort: 54321, DstPort: 443, Seq: 1000, PSH: true, ACK: true, Window: 65535}
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

func clientHelloPayload(totalLen int) []byte {
	// A ClientHello shaped payload of exactly totalLen bytes: record header
	// (5) + handshake header (4) + body padding, with a plausible version
	// byte and handshake type, matching scenario S1's "16 03 01 02 00 01 ..".
	payload := make([]byte, totalLen)
	payload[0] = 0x16
	payload[1] = 0x03
	payload[2] = 0x01
	bodyLen := totalLen - 5
	payload[3] = byte(bodyLen >> 8)
	payload[4] = byte(bodyLen)
	payload[5] = 0x01 // handshake type: client_hello
	return payload
}

func TestS1_FragmentOnly(t *testing.T) {
	payload := clientHelloPayload(517)
	raw := buildSegment(t, payload)
	pv := packetview.New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := core.DefaultConfig()
	cfg.Fake = false

	v := Decide(cfg, pv, nil)
	if v.Kind != Replace {
		t.Fatalf("Kind = %v, want Replace", v.Kind)
	}
	if len(v.Buffers) != 2 {
		t.Fatalf("got %d buffers, want 2", len(v.Buffers))
	}
	if v.FragmentCount != 2 || v.FakeCount != 0 {
		t.Fatalf("FragmentCount/FakeCount = %d/%d, want 2/0", v.FragmentCount, v.FakeCount)
	}

	total := 0
	var seqs []uint32
	for _, buf := range v.Buffers {
		spv := packetview.New()
		if err := spv.Parse(buf); err != nil {
			t.Fatalf("parse buffer: %v", err)
		}
		total += len(spv.Payload())
		seqs = append(seqs, spv.Seq())
	}
	if total != 517 {
		t.Fatalf("summed payload length = %d, want 517", total)
	}
	if seqs[0] != 1000 {
		t.Fatalf("first seq = %d, want 1000", seqs[0])
	}

	first := packetview.New()
	if err := first.Parse(v.Buffers[0]); err != nil {
		t.Fatalf("parse first: %v", err)
	}
	if firstPayload := first.Payload(); len(firstPayload) < 3 || firstPayload[0] != 0x16 || firstPayload[1] != 0x03 || firstPayload[2] != 0x01 {
		t.Fatalf("first piece does not begin 16 03 01: % x", firstPayload[:3])
	}
	if seqs[1] != 1000+uint32(len(first.Payload())) {
		t.Fatalf("second seq = %d, want %d", seqs[1], 1000+uint32(len(first.Payload())))
	}
}

func TestS2_FakeAndFragmentExplicitTTL(t *testing.T) {
	payload := clientHelloPayload(517)
	raw := buildSegment(t, payload)
	pv := packetview.New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := core.DefaultConfig()
	cfg.Fake = true
	cfg.FakeTTL = 8

	v := Decide(cfg, pv, nil)
	if len(v.Buffers) != 4 {
		t.Fatalf("got %d buffers, want 4 (K1,F1,K2,F2)", len(v.Buffers))
	}
	if v.FragmentCount != 2 || v.FakeCount != 2 {
		t.Fatalf("FragmentCount/FakeCount = %d/%d, want 2/2", v.FragmentCount, v.FakeCount)
	}

	for _, idx := range []int{0, 2} { // K1, K2
		kp := packetview.New()
		if err := kp.Parse(v.Buffers[idx]); err != nil {
			t.Fatalf("parse buffer %d: %v", idx, err)
		}
		if kp.Hops() != 8 {
			t.Errorf("buffer %d TTL = %d, want 8", idx, kp.Hops())
		}
	}
}

func TestS3_FakeAutoTTLWithCachedPeer(t *testing.T) {
	payload := clientHelloPayload(200)
	raw := buildSegment(t, payload)
	pv := packetview.New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}

	hops := hoptab.New()
	// Seed the table with the observed TTL 255-12, which InferHops maps to
	// 12 hops (initial TTL 255).
	hops.Observe("1.2.3.4", 255-12)

	cfg := core.DefaultConfig()
	cfg.Fake = true
	cfg.FakeAutoTTL = true
	cfg.FakeTTL = 8

	v := Decide(cfg, pv, hops)
	kp := packetview.New()
	if err := kp.Parse(v.Buffers[0]); err != nil {
		t.Fatalf("parse K1: %v", err)
	}
	if kp.Hops() != 11 {
		t.Fatalf("K1 TTL = %d, want 11", kp.Hops())
	}
}

func TestS4_AutoTTLFallback(t *testing.T) {
	payload := clientHelloPayload(200)
	raw := buildSegment(t, payload)
	pv := packetview.New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := core.DefaultConfig()
	cfg.Fake = true
	cfg.FakeAutoTTL = true
	cfg.FakeTTL = 8

	v := Decide(cfg, pv, hoptab.New())
	kp := packetview.New()
	if err := kp.Parse(v.Buffers[0]); err != nil {
		t.Fatalf("parse K1: %v", err)
	}
	if kp.Hops() != 8 {
		t.Fatalf("K1 TTL = %d, want fallback 8", kp.Hops())
	}
}

func TestS5_BadSum(t *testing.T) {
	payload := clientHelloPayload(200)
	raw := buildSegment(t, payload)
	pv := packetview.New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := core.DefaultConfig()
	cfg.Fake = true
	cfg.FakeBadSum = true
	cfg.FakeTTL = 8

	v := Decide(cfg, pv, nil)
	fakeRaw := v.Buffers[0]

	cfgGood := cfg
	cfgGood.FakeBadSum = false
	vGood := Decide(cfgGood, pv, nil)
	goodRaw := vGood.Buffers[0]

	ihl := int(fakeRaw[0]&0x0f) * 4
	ckOff := ihl + 16
	badCk := uint16(fakeRaw[ckOff])<<8 | uint16(fakeRaw[ckOff+1])
	goodCk := uint16(goodRaw[ckOff])<<8 | uint16(goodRaw[ckOff+1])

	if badCk == goodCk {
		t.Fatalf("fake_badsum checksum (%#04x) equals the valid one (%#04x)", badCk, goodCk)
	}
}

func TestS6_NonClientHelloAccepted(t *testing.T) {
	payload := []byte{0x17, 0x03, 0x03, 0x00, 0x10, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	raw := buildSegment(t, payload)
	pv := packetview.New()
	if err := pv.Parse(raw); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := core.DefaultConfig()
	cfg.Fake = true

	v := Decide(cfg, pv, nil)
	if v.Kind != Accept {
		t.Fatalf("Kind = %v, want Accept", v.Kind)
	}
	if len(v.Buffers) != 0 {
		t.Fatalf("got %d buffers, want 0", len(v.Buffers))
	}
}
