// Package tlsdetect recognizes a TLS record whose first handshake message
// is a ClientHello, and locates the SNI hostname within it. No deeper TLS
// parsing is performed than what a positive/negative classification needs —
// this package never validates extensions beyond SNI, and it is
// conservative by construction: anything ambiguous classifies as "not a
// ClientHello" so the caller accepts the packet unchanged.
package tlsdetect

import "encoding/binary"

// TLS record and handshake constants.
const (
	recordTypeHandshake  = 0x16
	handshakeClientHello = 0x01
	extSNI               = 0x0000 // Server Name Indication extension type
	sniHostNameType       = 0x00
)

// Classification is the result of inspecting a TCP payload for a TLS
// ClientHello, matching the data model in the packet-mutation engine's
// classification contract.
type Classification struct {
	HasTLSHandshake  bool // byte[0] == 0x16 and version looks plausible
	HasClientHello   bool // first handshake message is ClientHello (0x01)
	RecordOffset     int  // always 0: the record starts at the first payload byte
}

// IsClientHello reports whether payload begins with a TLS record of type
// handshake (0x16) whose first handshake message is client_hello (0x01).
//
// Required: payload length ≥ 6; byte[0] == 0x16; bytes[1:3] is a TLS version
// 0x0301..0x0304; the record length field is non-zero and does not exceed
// the maximum TLS record size; byte[5] == 0x01. No deeper parsing is
// performed — this is a conservative, single-pass decision.
func IsClientHello(payload []byte) bool {
	return Classify(payload).HasClientHello
}

// Classify inspects payload and returns its Classification. A payload that
// straddles a segment boundary (too short to see byte[5] yet) classifies as
// not-a-ClientHello rather than guessing — the rare case the spec accepts
// because senders emit the ClientHello as the first application bytes of
// the stream.
func Classify(payload []byte) Classification {
	if len(payload) < 6 {
		return Classification{}
	}
	if payload[0] != recordTypeHandshake {
		return Classification{}
	}
	if payload[1] != 0x03 || payload[2] < 0x01 || payload[2] > 0x04 {
		return Classification{}
	}
	recordLen := int(binary.BigEndian.Uint16(payload[3:5]))
	if recordLen == 0 || recordLen > 0x4000 {
		return Classification{}
	}
	c := Classification{HasTLSHandshake: true}
	if payload[5] == handshakeClientHello {
		c.HasClientHello = true
	}
	return c
}

// FindSNIOffset locates the SNI hostname within a TLS ClientHello and
// returns its byte offset relative to the start of payload, along with its
// length. Returns (-1, 0) if absent or truncated. Fragmenter places its
// split point at offset + length/2, inside the hostname.
func FindSNIOffset(payload []byte) (offset, length int) {
	if !IsClientHello(payload) {
		return -1, 0
	}

	// TLS record: [type(1) | version(2) | length(2)] = 5 bytes
	// Handshake:  [type(1) | length(3)]              = 4 bytes
	pos := 5 + 4

	// ClientHello body: [client_version(2) | random(32)] = 34 bytes
	pos += 34
	if pos >= len(payload) {
		return -1, 0
	}

	// Session ID: [length(1) | session_id(N)]
	sessionIDLen := int(payload[pos])
	pos += 1 + sessionIDLen
	if pos+2 > len(payload) {
		return -1, 0
	}

	// Cipher suites: [length(2) | suites(N)]
	cipherSuitesLen := int(binary.BigEndian.Uint16(payload[pos : pos+2]))
	pos += 2 + cipherSuitesLen
	if pos+1 > len(payload) {
		return -1, 0
	}

	// Compression methods: [length(1) | methods(N)]
	compressionLen := int(payload[pos])
	pos += 1 + compressionLen
	if pos+2 > len(payload) {
		return -1, 0
	}

	// Extensions: [total_length(2) | extensions...]
	extensionsLen := int(binary.BigEndian.Uint16(payload[pos : pos+2]))
	pos += 2
	extensionsEnd := pos + extensionsLen
	if extensionsEnd > len(payload) {
		extensionsEnd = len(payload)
	}

	for pos+4 <= extensionsEnd {
		extType := binary.BigEndian.Uint16(payload[pos : pos+2])
		extLen := int(binary.BigEndian.Uint16(payload[pos+2 : pos+4]))
		pos += 4

		if extType == extSNI {
			// [server_name_list_length(2) | name_type(1) | hostname_length(2) | hostname(N)]
			if pos+5 > extensionsEnd {
				return -1, 0
			}
			nameType := payload[pos+2]
			if nameType != sniHostNameType {
				return -1, 0
			}
			hostnameLen := int(binary.BigEndian.Uint16(payload[pos+3 : pos+5]))
			hostnameStart := pos + 5
			if hostnameStart+hostnameLen > extensionsEnd {
				return -1, 0
			}
			return hostnameStart, hostnameLen
		}

		pos += extLen
	}

	return -1, 0
}

// ExtractSNI extracts the server name from a TLS ClientHello, or "" if
// absent.
func ExtractSNI(payload []byte) string {
	offset, length := FindSNIOffset(payload)
	if offset < 0 {
		return ""
	}
	return string(payload[offset : offset+length])
}
