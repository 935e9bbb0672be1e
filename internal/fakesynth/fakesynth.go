// Package fakesynth builds decoy TLS ClientHello packets: copies of the
// real segment's 5-tuple and sequence number, but with a short TTL/hop
// limit so they are seen (and recorded) by a path middlebox yet never
// reach the real destination, plus a canned hostname that carries no
// information about the connection's actual target.
package fakesynth

import (
	"dpibreak/internal/packetview"
)

// decoyHostname is the SNI value baked into every synthesized decoy
// ClientHello. It names a large, innocuous, TLS 1.3-capable host so a
// passive observer sees a plausible handshake rather than an obviously
// malformed one.
const decoyHostname = "www.microsoft.com"

// MinTTL is the smallest usable autottl-derived TTL. A candidate at or
// below this value would expire at or before the very next hop, so
// fakesynth falls back to the operator-configured fixed TTL instead.
const MinTTL = 1

// Payload returns a minimal but well-formed TLS 1.2 ClientHello record
// carrying decoyHostname in its SNI extension. The record is rebuilt on
// every call; its bytes are the same each time.
func Payload() []byte {
	return clientHelloWithSNI(decoyHostname)
}

// clientHelloWithSNI constructs a ClientHello TLS record with a single SNI
// extension carrying host. The cipher suite list and extension set are
// intentionally minimal — this packet is never meant to complete a
// handshake, only to resemble one long enough to be logged by DPI.
func clientHelloWithSNI(host string) []byte {
	name := []byte(host)

	serverName := make([]byte, 0, 3+len(name))
	serverName = append(serverName, 0x00) // host_name
	serverName = append(serverName, byte(len(name)>>8), byte(len(name)))
	serverName = append(serverName, name...)

	serverNameList := make([]byte, 0, 2+len(serverName))
	serverNameList = append(serverNameList, byte(len(serverName)>>8), byte(len(serverName)))
	serverNameList = append(serverNameList, serverName...)

	sniExt := make([]byte, 0, 4+len(serverNameList))
	sniExt = append(sniExt, 0x00, 0x00) // extension type: server_name
	sniExt = append(sniExt, byte(len(serverNameList)>>8), byte(len(serverNameList)))
	sniExt = append(sniExt, serverNameList...)

	body := make([]byte, 0, 40+len(sniExt))
	body = append(body, 0x03, 0x03)            // client_version: TLS 1.2
	body = append(body, make([]byte, 32)...)   // random (zeroed; never inspected)
	body = append(body, 0x00)                  // session_id: empty
	body = append(body, 0x00, 0x02, 0x13, 0x01) // cipher_suites: TLS_AES_128_GCM_SHA256
	body = append(body, 0x01, 0x00)            // compression_methods: null
	body = append(body, byte(len(sniExt)>>8), byte(len(sniExt)))
	body = append(body, sniExt...)

	handshake := make([]byte, 0, 4+len(body))
	handshake = append(handshake, 0x01) // handshake type: client_hello
	handshake = append(handshake, byte(len(body)>>16), byte(len(body)>>8), byte(len(body)))
	handshake = append(handshake, body...)

	record := make([]byte, 0, 5+len(handshake))
	record = append(record, 0x16, 0x03, 0x01) // record type: handshake, version 3.1
	record = append(record, byte(len(handshake)>>8), byte(len(handshake)))
	record = append(record, handshake...)
	return record
}

// ResolveTTL picks the TTL a decoy packet should carry. When autoTTL is
// true and inferredHops is usable, it returns inferredHops - 1 so the decoy
// expires one hop before it would reach the actual path the real segment
// takes. Otherwise, or if that value would be MinTTL or lower, it falls
// back to fixedTTL.
func ResolveTTL(autoTTL bool, inferredHops uint8, fixedTTL uint8) uint8 {
	if autoTTL && inferredHops > 0 {
		candidate := inferredHops - 1
		if candidate > MinTTL {
			return candidate
		}
	}
	return fixedTTL
}

// Build rebuilds pv (the real segment's packet, for its 5-tuple and
// sequence number) as a decoy packet carrying the synthesized ClientHello,
// the given hop limit, and optionally a corrupted TCP checksum.
func Build(pv *packetview.PacketView, ttl uint8, badChecksum bool) ([]byte, error) {
	return pv.Rebuild(Payload(), ttl, badChecksum)
}
