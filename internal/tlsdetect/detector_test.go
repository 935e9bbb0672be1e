package tlsdetect

import "testing"

func clientHello(sni string) []byte {
	var ext []byte
	if sni != "" {
		name := []byte(sni)
		serverName := append([]byte{sniHostNameType, byte(len(name) >> 8), byte(len(name))}, name...)
		serverNameList := append([]byte{byte(len(serverName) >> 8), byte(len(serverName))}, serverName...)
		extBody := append([]byte{0x00, 0x00, byte(len(serverNameList) >> 8), byte(len(serverNameList))}, serverNameList...)
		ext = extBody
	}

	body := make([]byte, 0, 128)
	body = append(body, 0x03, 0x03)             // client_version
	body = append(body, make([]byte, 32)...)    // random
	body = append(body, 0x00)                   // session id length
	body = append(body, 0x00, 0x02, 0x13, 0x01) // cipher suites
	body = append(body, 0x01, 0x00)             // compression methods
	body = append(body, byte(len(ext)>>8), byte(len(ext)))
	body = append(body, ext...)

	handshake := append([]byte{handshakeClientHello, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}, body...)
	record := append([]byte{recordTypeHandshake, 0x03, 0x01, byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)
	return record
}

func TestIsClientHello_Positive(t *testing.T) {
	data := clientHello("example.com")
	if !IsClientHello(data) {
		t.Fatalf("expected ClientHello classification for crafted record")
	}
}

func TestIsClientHello_Negative(t *testing.T) {
	cases := map[string][]byte{
		"empty":                  {},
		"http get":               []byte("GET / HTTP/1.1\r\n"),
		"tls application data":   {0x17, 0x03, 0x03, 0x00, 0x05, 0xaa, 0xbb, 0xcc, 0xdd, 0xee},
		"tls server hello":       {0x16, 0x03, 0x03, 0x00, 0x10, 0x02, 0x00, 0x00, 0x0c},
		"truncated before type5": {0x16, 0x03, 0x01, 0x00, 0x01},
		"bad version major":      {0x16, 0x04, 0x01, 0x00, 0x10, 0x01},
	}
	for name, data := range cases {
		if IsClientHello(data) {
			t.Errorf("%s: expected not-a-ClientHello, got true", name)
		}
	}
}

func TestFindSNIOffset(t *testing.T) {
	data := clientHello("www.example.org")
	offset, length := FindSNIOffset(data)
	if offset < 0 {
		t.Fatalf("expected SNI to be found")
	}
	got := string(data[offset : offset+length])
	if got != "www.example.org" {
		t.Fatalf("got %q, want %q", got, "www.example.org")
	}
}

func TestFindSNIOffset_Absent(t *testing.T) {
	data := clientHello("")
	offset, length := FindSNIOffset(data)
	if offset != -1 || length != 0 {
		t.Fatalf("expected no SNI, got offset=%d length=%d", offset, length)
	}
}

func TestExtractSNI(t *testing.T) {
	data := clientHello("api.example.net")
	if got := ExtractSNI(data); got != "api.example.net" {
		t.Fatalf("got %q", got)
	}
	if got := ExtractSNI([]byte("not tls")); got != "" {
		t.Fatalf("expected empty string for non-TLS payload, got %q", got)
	}
}
