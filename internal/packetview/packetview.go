// Package packetview decodes a raw IP packet captured off the wire into its
// layer fields, and re-serializes it with the changes the diverter needs
// (replacement payload, TTL/hop-limit, sequence number, PSH flag), plus an
// in-place TCP checksum corruption of the serialized copy. It is deliberately narrow:
// IPv4/IPv6 + TCP only, no UDP, no IP options beyond what gopacket decodes
// for free.
package packetview

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ipIDCounter hands out the fresh per-fragment IPv4 identification field the
// spec requires: every emitted replacement packet is a distinct datagram as
// far as reassembly/dedup middleboxes are concerned, not a copy of the
// original segment's ID. IPv6 carries no base-header identification field,
// so this only applies to the IPv4 path.
var ipIDCounter uint32

func nextIPID() uint16 {
	return uint16(atomic.AddUint32(&ipIDCounter, 1))
}

// PacketView wraps one decoded packet and its backing buffer. Its layer
// structs are embedded by value, so one PacketView can be reused across
// calls to Parse without allocating them again.
type PacketView struct {
	ip4 layers.IPv4
	ip6 layers.IPv6
	tcp layers.TCP

	isIPv6  bool
	decoded []gopacket.LayerType
	parser  *gopacket.DecodingLayerParser

	raw []byte // the original undecoded bytes from the last Parse
}

// New returns a ready-to-use PacketView. Construct one per worker goroutine
// (the verdict loop is single-threaded, so one suffices) and call Parse on
// each packet in turn.
func New() *PacketView {
	pv := &PacketView{}
	pv.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, &pv.ip4, &pv.ip6, &pv.tcp)
	pv.parser.IgnoreUnsupported = true
	return pv
}

// Parse decodes data in place. The first byte's IP version nibble selects
// IPv4 vs IPv6; anything else is an error since the diverter only ever
// queues IP packets.
func (pv *PacketView) Parse(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("packetview: empty packet")
	}
	version := data[0] >> 4

	var first gopacket.LayerType
	switch version {
	case 4:
		first = layers.LayerTypeIPv4
		pv.isIPv6 = false
	case 6:
		first = layers.LayerTypeIPv6
		pv.isIPv6 = true
	default:
		return fmt.Errorf("packetview: unrecognized IP version %d", version)
	}

	if pv.parser.FirstLayerType != first {
		pv.parser = gopacket.NewDecodingLayerParser(first, &pv.ip4, &pv.ip6, &pv.tcp)
		pv.parser.IgnoreUnsupported = true
	}

	pv.raw = data
	return pv.parser.DecodeLayers(data, &pv.decoded)
}

// hasTCP reports whether the last Parse produced a TCP layer.
func (pv *PacketView) hasTCP() bool {
	for _, lt := range pv.decoded {
		if lt == layers.LayerTypeTCP {
			return true
		}
	}
	return false
}

// IsTCP reports whether the decoded packet carries a TCP segment.
func (pv *PacketView) IsTCP() bool { return pv.hasTCP() }

// IsIPv6 reports which IP version was decoded.
func (pv *PacketView) IsIPv6() bool { return pv.isIPv6 }

// SrcIP returns the packet's source address.
func (pv *PacketView) SrcIP() net.IP {
	if pv.isIPv6 {
		return pv.ip6.SrcIP
	}
	return pv.ip4.SrcIP
}

// DstIP returns the packet's destination address.
func (pv *PacketView) DstIP() net.IP {
	if pv.isIPv6 {
		return pv.ip6.DstIP
	}
	return pv.ip4.DstIP
}

// SrcPort returns the TCP source port, or 0 if there is no TCP layer.
func (pv *PacketView) SrcPort() uint16 {
	if !pv.hasTCP() {
		return 0
	}
	return uint16(pv.tcp.SrcPort)
}

// DstPort returns the TCP destination port, or 0 if there is no TCP layer.
func (pv *PacketView) DstPort() uint16 {
	if !pv.hasTCP() {
		return 0
	}
	return uint16(pv.tcp.DstPort)
}

// Seq returns the TCP sequence number.
func (pv *PacketView) Seq() uint32 { return pv.tcp.Seq }

// Hops returns the packet's TTL (IPv4) or hop limit (IPv6).
func (pv *PacketView) Hops() uint8 {
	if pv.isIPv6 {
		return pv.ip6.HopLimit
	}
	return pv.ip4.TTL
}

// Payload returns the TCP payload bytes (everything after the TCP header).
func (pv *PacketView) Payload() []byte {
	return pv.tcp.Payload
}

// FiveTuple identifies the flow by (srcIP, srcPort, dstIP, dstPort); the
// protocol is always TCP and is not stored.
type FiveTuple struct {
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
}

// Tuple returns the packet's flow identity for correlating fragments with
// their original segment.
func (pv *PacketView) Tuple() FiveTuple {
	return FiveTuple{
		SrcIP:   pv.SrcIP().String(),
		DstIP:   pv.DstIP().String(),
		SrcPort: pv.SrcPort(),
		DstPort: pv.DstPort(),
	}
}

// Rebuild serializes a new raw packet using this view's current IP/TCP
// headers but a replacement payload, recomputing the length fields and
// checksums. hops, if non-zero, overrides the TTL/hop-limit of the
// serialized copy (used for fake decoy packets); pass 0 to keep the
// original. badChecksum, if true, flips the TCP checksum so it fails
// verification.
func (pv *PacketView) Rebuild(payload []byte, hops uint8, badChecksum bool) ([]byte, error) {
	return pv.RebuildSegment(RebuildOpts{Payload: payload, Hops: hops, BadChecksum: badChecksum})
}

// RebuildOpts customizes RebuildSegment. SeqOverride, if non-nil, replaces
// the TCP sequence number (used when emitting one of several resegmented
// fragments of an original packet). PSHOverride, if non-nil, forces the PSH
// flag (the spec requires it set on the last fragment only).
type RebuildOpts struct {
	Payload     []byte
	Hops        uint8
	BadChecksum bool
	SeqOverride *uint32
	PSHOverride *bool
}

// RebuildSegment is the general form of Rebuild, used by the fragmenter to
// emit resegmented TCP packets that carry the same flow identity and an
// adjusted sequence number.
func (pv *PacketView) RebuildSegment(o RebuildOpts) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	tcp := pv.tcp
	tcp.Payload = nil
	if o.SeqOverride != nil {
		tcp.Seq = *o.SeqOverride
	}
	if o.PSHOverride != nil {
		tcp.PSH = *o.PSHOverride
	}

	var networkLayer gopacket.SerializableLayer
	if pv.isIPv6 {
		ip6 := pv.ip6
		if o.Hops != 0 {
			ip6.HopLimit = o.Hops
		}
		if err := tcp.SetNetworkLayerForChecksum(&ip6); err != nil {
			return nil, err
		}
		networkLayer = &ip6
	} else {
		ip4 := pv.ip4
		if o.Hops != 0 {
			ip4.TTL = o.Hops
		}
		ip4.Id = nextIPID()
		if err := tcp.SetNetworkLayerForChecksum(&ip4); err != nil {
			return nil, err
		}
		networkLayer = &ip4
	}

	if err := gopacket.SerializeLayers(buf, opts, networkLayer, &tcp, gopacket.Payload(o.Payload)); err != nil {
		return nil, fmt.Errorf("packetview: serialize: %w", err)
	}
	out := buf.Bytes()

	if o.BadChecksum {
		corruptTCPChecksum(out, pv.isIPv6)
	}

	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

// corruptTCPChecksum flips the TCP checksum field of a serialized packet in
// place, for fake_badsum decoys. IPv4 header length is variable (IHL); IPv6
// has a fixed 40-byte header and no options in our decode path.
func corruptTCPChecksum(pkt []byte, isIPv6 bool) {
	var tcpOffset int
	if isIPv6 {
		tcpOffset = 40
	} else {
		if len(pkt) < 1 {
			return
		}
		ihl := int(pkt[0]&0x0f) * 4
		tcpOffset = ihl
	}
	ckOffset := tcpOffset + 16
	if ckOffset+2 > len(pkt) {
		return
	}
	cur := uint16(pkt[ckOffset])<<8 | uint16(pkt[ckOffset+1])
	bad := corruptChecksum(cur)
	pkt[ckOffset] = byte(bad >> 8)
	pkt[ckOffset+1] = byte(bad)
}
