package transport

import (
	"context"
	stderrors "errors"
	"net"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
	"github.com/joshuafuller/ipadapter/internal/errors"
)

type stubConn struct {
	slot   Slot
	port   uint16
	mu     sync.Mutex
	closed bool
}

func (c *stubConn) ReadPacket([]byte) (int, net.Addr, endpoint.PacketInfo, error) {
	return 0, nil, endpoint.PacketInfo{}, net.ErrClosed
}
func (c *stubConn) WritePacket([]byte, *net.UDPAddr) error { return nil }
func (c *stubConn) JoinGroup(*net.Interface, net.IP) error { return nil }
func (c *stubConn) LeaveGroup(*net.Interface, net.IP) error { return nil }
func (c *stubConn) SetMulticastInterface(*net.Interface) error { return nil }
func (c *stubConn) SetMulticastTTL(int) error { return nil }
func (c *stubConn) LocalPort() uint16 { return c.port }
func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// stubOpener fails the listed slots (or only the listed slot/port combos)
// and records every connection it hands out.
type stubOpener struct {
	failSlots map[Slot]bool
	failPorts map[uint16]bool
	calls     []uint16
	opened    []*stubConn
}

func (o *stubOpener) open(_ context.Context, slot Slot, port uint16, _ logrus.FieldLogger) (Conn, error) {
	o.calls = append(o.calls, port)
	if o.failSlots[slot] || o.failPorts[port] {
		return nil, &errors.NetworkError{Operation: "bind socket", Err: stderrors.New("address in use")}
	}
	if port == 0 {
		port = uint16(40000 + len(o.opened))
	}
	c := &stubConn{slot: slot, port: port}
	o.opened = append(o.opened, c)
	return c, nil
}

func TestTableOpen_AllSlots(t *testing.T) {
	o := &stubOpener{}
	tbl, err := openWith(context.Background(), TableConfig{IPv4: true, IPv6: true}, o.open)
	require.NoError(t, err)

	assert.Len(t, tbl.Bound(), 8)
	assert.Equal(t, uint16(5683), tbl.Port(SlotM4))
	assert.Equal(t, uint16(5684), tbl.Port(SlotM4S))
	assert.Equal(t, uint16(5683), tbl.Port(SlotM6))
	assert.Equal(t, uint16(5684), tbl.Port(SlotM6S))
	assert.NotZero(t, tbl.Port(SlotU4), "ephemeral port should be read back")

	require.NoError(t, tbl.CloseAll())
	for _, c := range o.opened {
		assert.True(t, c.isClosed(), "slot %s left open", c.slot)
	}
}

func TestTableOpen_FamilySelection(t *testing.T) {
	o := &stubOpener{}
	tbl, err := openWith(context.Background(), TableConfig{IPv4: true}, o.open)
	require.NoError(t, err)

	assert.Equal(t, []Slot{SlotU4, SlotU4S, SlotM4, SlotM4S}, tbl.Bound())
	_, ok := tbl.Conn(SlotU6)
	assert.False(t, ok, "IPv6 slots must stay unbound when IPv6 is disabled")
}

func TestTableOpen_PairInvariant(t *testing.T) {
	o := &stubOpener{failSlots: map[Slot]bool{SlotM4S: true}}
	tbl, err := openWith(context.Background(), TableConfig{IPv4: true}, o.open)
	require.NoError(t, err, "a missing multicast pair degrades but does not fail")

	_, okPlain := tbl.Conn(SlotM4)
	_, okSecure := tbl.Conn(SlotM4S)
	assert.False(t, okPlain, "m4 must close when m4s fails")
	assert.False(t, okSecure)

	for _, c := range o.opened {
		if c.slot == SlotM4 {
			assert.True(t, c.isClosed(), "m4 socket leaked")
		}
	}
}

func TestTableOpen_FixedPortFallsBackToEphemeral(t *testing.T) {
	o := &stubOpener{failPorts: map[uint16]bool{6000: true}}
	cfg := TableConfig{IPv4: true, UnicastPorts: map[Slot]uint16{SlotU4: 6000}}

	tbl, err := openWith(context.Background(), cfg, o.open)
	require.NoError(t, err)

	assert.Equal(t, uint16(6000), o.calls[0])
	assert.Equal(t, uint16(0), o.calls[1], "retry must use port 0")
	assert.NotEqual(t, uint16(6000), tbl.Port(SlotU4))
	assert.NotZero(t, tbl.Port(SlotU4))
}

func TestTableOpen_FamilyWithoutSocketsFails(t *testing.T) {
	o := &stubOpener{failSlots: map[Slot]bool{SlotU6: true, SlotM6S: true}}
	_, err := openWith(context.Background(), TableConfig{IPv4: true, IPv6: true}, o.open)
	require.Error(t, err)

	var netErr *errors.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Contains(t, netErr.Details, "ipv6")

	for _, c := range o.opened {
		assert.True(t, c.isClosed(), "slot %s leaked after failed open", c.slot)
	}
}

func TestOpenSocket_EphemeralLoopback(t *testing.T) {
	log := logrus.New()
	ctx := context.Background()

	a, err := OpenSocket(ctx, SlotU4, 0, log)
	if err != nil {
		t.Fatalf("OpenSocket() failed: %v", err)
	}
	defer func() { _ = a.Close() }()

	b, err := OpenSocket(ctx, SlotU4, 0, log)
	if err != nil {
		t.Fatalf("OpenSocket() failed: %v", err)
	}
	defer func() { _ = b.Close() }()

	if a.LocalPort() == 0 {
		t.Fatalf("LocalPort() = 0, want OS-assigned port")
	}

	payload := []byte("coap over loopback")
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(a.LocalPort())}
	if err := b.WritePacket(payload, dst); err != nil {
		t.Fatalf("WritePacket() failed: %v", err)
	}

	bufPtr := GetBuffer()
	defer PutBuffer(bufPtr)
	n, src, info, err := a.ReadPacket(*bufPtr)
	if err != nil {
		t.Fatalf("ReadPacket() failed: %v", err)
	}
	if string((*bufPtr)[:n]) != string(payload) {
		t.Errorf("payload = %q, want %q", (*bufPtr)[:n], payload)
	}
	if udp := src.(*net.UDPAddr); udp.Port != int(b.LocalPort()) {
		t.Errorf("source port = %d, want %d", udp.Port, b.LocalPort())
	}
	t.Logf("✓ received %d bytes, packet info known=%v ifindex=%d", n, info.Known(), info.IfIndex)
}

func TestSocketClose_UnblocksRead(t *testing.T) {
	s, err := OpenSocket(context.Background(), SlotU4, 0, logrus.New())
	if err != nil {
		t.Fatalf("OpenSocket() failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		_, _, _, err := s.ReadPacket(buf)
		done <- err
	}()

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}

	err = <-done
	if !errors.Is(err, net.ErrClosed) {
		t.Errorf("ReadPacket() after Close = %v, want net.ErrClosed", err)
	}
}
