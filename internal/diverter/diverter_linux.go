//go:build linux

package diverter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/florianl/go-nfqueue"
	"golang.org/x/sys/unix"

	"dpibreak/internal/core"
)

// LinuxDiverter binds to an NFQUEUE for verdicts and a raw IP socket (with
// IP_HDRINCL) for emitting replacement packets, since NFQUEUE itself can
// only accept or drop the packet it was handed — it cannot substitute a
// different number of packets for one.
type LinuxDiverter struct {
	nf       *nfqueue.Nfqueue
	rawSock4 int
	rawSock6 int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewLinux returns an unopened LinuxDiverter.
func NewLinux() *LinuxDiverter { return &LinuxDiverter{} }

// Open binds the NFQUEUE at queueNum and the raw sockets used to re-inject
// replacement packets.
func (d *LinuxDiverter) Open(queueNum uint16) error {
	cfg := nfqueue.Config{
		NfQueue:      queueNum,
		MaxPacketLen: 0xffff,
		MaxQueueLen:  0xff,
		Copymode:     nfqueue.NfQnlCopyPacket,
		WriteTimeout: 50 * time.Millisecond,
	}
	nf, err := nfqueue.Open(&cfg)
	if err != nil {
		return &core.StartupFatalError{Op: "nfqueue.Open", Err: err}
	}
	d.nf = nf

	rs4, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		nf.Close()
		return &core.StartupFatalError{Op: "socket(AF_INET, SOCK_RAW)", Err: err}
	}
	if err := unix.SetsockoptInt(rs4, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(rs4)
		nf.Close()
		return &core.StartupFatalError{Op: "setsockopt(IP_HDRINCL)", Err: err}
	}
	d.rawSock4 = rs4

	rs6, err := unix.Socket(unix.AF_INET6, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		core.Log.Warnf("diverter", "IPv6 raw socket unavailable, v6 replacements will fail: %v", err)
		d.rawSock6 = -1
	} else {
		d.rawSock6 = rs6
	}

	return nil
}

// Close releases the NFQUEUE handle and raw sockets.
func (d *LinuxDiverter) Close() error {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	var firstErr error
	if d.rawSock4 != 0 {
		if err := unix.Close(d.rawSock4); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.rawSock6 > 0 {
		if err := unix.Close(d.rawSock6); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.nf != nil {
		if err := d.nf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run registers handle as the verdict callback and blocks until ctx is
// canceled; it returns early only if registering the callback fails.
// Queue errors after registration are logged and do not end Run. This replaces the generic Recv/accept/
// drop shape of Capabilities with NFQUEUE's own callback registration,
// which is the idiomatic way to drive this particular library; the
// diverter's platform-neutral core still only ever sees Decide's Verdict
// type.
func (d *LinuxDiverter) Run(ctx context.Context, handle func(raw []byte) Verdict, delay time.Duration) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	fn := func(a nfqueue.Attribute) int {
		if a.PacketID == nil || a.Payload == nil {
			return 0
		}
		id := *a.PacketID
		payload := *a.Payload

		v := handle(payload)
		switch v.Kind {
		case Accept:
			_ = d.nf.SetVerdict(id, nfqueue.NfAccept)
		case Drop:
			_ = d.nf.SetVerdict(id, nfqueue.NfDrop)
		case Replace:
			_ = d.nf.SetVerdict(id, nfqueue.NfDrop)
			if err := Emit(d, v, delay); err != nil {
				core.Log.Warnf("diverter", "emit replacement buffers: %v", err)
			}
		}
		return 0
	}

	errFn := func(e error) int {
		core.Log.Debugf("diverter", "nfqueue error: %v", e)
		return 0
	}

	if err := d.nf.RegisterWithErrorFunc(runCtx, fn, errFn); err != nil {
		return &core.StartupFatalError{Op: "nfqueue.Register", Err: err}
	}
	<-runCtx.Done()
	return nil
}

// Recv is unused on Linux — Run drives the verdict loop directly through
// NFQUEUE's own callback registration. It exists only to satisfy
// Capabilities for code that is written against the platform-neutral
// interface.
func (d *LinuxDiverter) Recv() ([]byte, func() error, func() error, error) {
	return nil, nil, nil, fmt.Errorf("diverter: Recv is not used by LinuxDiverter, use Run")
}

// Emit writes a fully-formed IP packet to the appropriate raw socket.
func (d *LinuxDiverter) Emit(raw []byte) error {
	if len(raw) < 1 {
		return fmt.Errorf("diverter: empty replacement buffer")
	}
	version := raw[0] >> 4

	if version == 4 {
		dst := net.IPv4(raw[16], raw[17], raw[18], raw[19])
		addr := unix.SockaddrInet4{}
		copy(addr.Addr[:], dst.To4())
		if err := unix.Sendto(d.rawSock4, raw, 0, &addr); err != nil {
			return &core.EmitTransientError{Op: "sendto(v4)", Err: err}
		}
		return nil
	}

	if d.rawSock6 <= 0 {
		return &core.EmitTransientError{Op: "sendto(v6)", Err: fmt.Errorf("no IPv6 raw socket open")}
	}
	var dst [16]byte
	copy(dst[:], raw[24:40])
	addr := unix.SockaddrInet6{Addr: dst}
	if err := unix.Sendto(d.rawSock6, raw, 0, &addr); err != nil {
		return &core.EmitTransientError{Op: "sendto(v6)", Err: err}
	}
	return nil
}
