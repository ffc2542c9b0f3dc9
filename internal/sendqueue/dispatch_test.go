package sendqueue

import (
	stderrors "errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
	"github.com/joshuafuller/ipadapter/internal/errors"
	"github.com/joshuafuller/ipadapter/internal/netmon"
	"github.com/joshuafuller/ipadapter/internal/security"
	"github.com/joshuafuller/ipadapter/internal/transport"
)

type write struct {
	data  []byte
	dst   string
	iface int
	ttl   int
}

// recordingConn records writes together with the multicast options in
// effect at the time of the write.
type recordingConn struct {
	mu     sync.Mutex
	writes []write
	iface  int
	ttl    int
	fail   error

	// ifaceFail makes SetMulticastInterface fail for that interface index.
	ifaceFail map[int]error
}

func (c *recordingConn) WritePacket(b []byte, dst *net.UDPAddr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.writes = append(c.writes, write{data: append([]byte(nil), b...), dst: dst.String(), iface: c.iface, ttl: c.ttl})
	return nil
}
func (c *recordingConn) SetMulticastInterface(ifi *net.Interface) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ifaceFail[ifi.Index]; err != nil {
		return err
	}
	c.iface = ifi.Index
	return nil
}
func (c *recordingConn) SetMulticastTTL(ttl int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
	return nil
}
func (c *recordingConn) ReadPacket([]byte) (int, net.Addr, endpoint.PacketInfo, error) {
	return 0, nil, endpoint.PacketInfo{}, net.ErrClosed
}
func (c *recordingConn) JoinGroup(*net.Interface, net.IP) error { return nil }
func (c *recordingConn) LeaveGroup(*net.Interface, net.IP) error { return nil }
func (c *recordingConn) LocalPort() uint16 { return 40000 }
func (c *recordingConn) Close() error { return nil }

type fixture struct {
	conns  map[transport.Slot]*recordingConn
	errs   []error
	mon    *netmon.StaticMonitor
	config DispatcherConfig
}

func newFixture() *fixture {
	f := &fixture{conns: make(map[transport.Slot]*recordingConn)}
	generic := make(map[transport.Slot]transport.Conn)
	for _, s := range transport.Slots() {
		c := &recordingConn{}
		f.conns[s] = c
		generic[s] = c
	}
	up := net.FlagUp | net.FlagRunning | net.FlagMulticast
	f.mon = netmon.NewStaticMonitor(
		netmon.Interface{Name: "eth0", Index: 2, Family: endpoint.FamilyIPv4, Addr: "192.168.1.2", Flags: up},
		netmon.Interface{Name: "eth0", Index: 2, Family: endpoint.FamilyIPv6, Addr: "fe80::2", Flags: up},
		netmon.Interface{Name: "wlan0", Index: 3, Family: endpoint.FamilyIPv4, Addr: "10.0.0.3", Flags: up},
		netmon.Interface{Name: "eth1", Index: 4, Family: endpoint.FamilyIPv4, Addr: "172.16.0.4", Flags: net.FlagUp},
		netmon.Interface{Name: "rmnet0", Index: 5, Family: endpoint.FamilyIPv4, Addr: "100.64.0.5", Flags: up},
	)
	f.config = DispatcherConfig{
		Sockets:    transport.NewTable(generic),
		Interfaces: f.mon,
		IPv4:       true,
		IPv6:       true,
		OnError:    func(_ endpoint.Endpoint, _ []byte, err error) { f.errs = append(f.errs, err) },
	}
	return f
}

func (f *fixture) dispatcher() *Dispatcher { return NewDispatcher(f.config) }

func TestDispatch_UnicastSlotSelection(t *testing.T) {
	tests := []struct {
		name     string
		ep       endpoint.Endpoint
		wantSlot transport.Slot
		wantDst  string
	}{
		{"ipv4 plain", endpoint.New(endpoint.IPv4, "192.168.1.9", 6000), transport.SlotU4, "192.168.1.9:6000"},
		{"ipv4 default port", endpoint.New(endpoint.IPv4, "192.168.1.9", 0), transport.SlotU4, "192.168.1.9:5683"},
		{"ipv6 plain", endpoint.New(endpoint.IPv6, "2001:db8::9", 6000), transport.SlotU6, "[2001:db8::9]:6000"},
		{"ipv6 zone", endpoint.New(endpoint.IPv6, "fe80::9%eth0", 6000), transport.SlotU6, "[fe80::9%eth0]:6000"},
		{"ipv4 secure default port", endpoint.New(endpoint.IPv4|endpoint.Secure, "192.168.1.9", 0), transport.SlotU4S, "192.168.1.9:5684"},
		{"ipv6 secure", endpoint.New(endpoint.IPv6|endpoint.Secure, "2001:db8::9", 0), transport.SlotU6S, "[2001:db8::9]:5684"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.config.Security = security.HookFuncs{}
			f.dispatcher().Dispatch(Message{Endpoint: tt.ep, Data: []byte("payload")})

			require.Empty(t, f.errs)
			for slot, c := range f.conns {
				if slot == tt.wantSlot {
					require.Len(t, c.writes, 1, "slot %s", slot)
					assert.Equal(t, tt.wantDst, c.writes[0].dst)
				} else {
					assert.Empty(t, c.writes, "unexpected write on %s", slot)
				}
			}
		})
	}
}

func TestDispatch_SecureUnicastEncrypts(t *testing.T) {
	f := newFixture()
	f.config.Security = security.HookFuncs{
		EncryptFunc: func(_ endpoint.Endpoint, p []byte) ([]byte, error) {
			return append([]byte("sealed:"), p...), nil
		},
	}
	ep := endpoint.New(endpoint.IPv4|endpoint.Secure, "10.0.0.8", 5684)
	f.dispatcher().Dispatch(Message{Endpoint: ep, Data: []byte("get /light")})

	require.Empty(t, f.errs)
	require.Len(t, f.conns[transport.SlotU4S].writes, 1)
	assert.Equal(t, "sealed:get /light", string(f.conns[transport.SlotU4S].writes[0].data))
}

func TestDispatch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture)
		msg     Message
		wantErr error
	}{
		{
			name:    "secure without hook",
			msg:     Message{Endpoint: endpoint.New(endpoint.IPv4|endpoint.Secure, "10.0.0.8", 0), Data: []byte("x")},
			wantErr: errors.ErrNoSecurity,
		},
		{
			name:    "disabled family",
			mutate:  func(f *fixture) { f.config.IPv6 = false },
			msg:     Message{Endpoint: endpoint.New(endpoint.IPv6, "2001:db8::1", 0), Data: []byte("x")},
			wantErr: errors.ErrFamilyDisabled,
		},
		{
			name: "unbound slot",
			mutate: func(f *fixture) {
				f.config.Sockets = transport.NewTable(nil)
			},
			msg:     Message{Endpoint: endpoint.New(endpoint.IPv4, "10.0.0.8", 0), Data: []byte("x")},
			wantErr: errors.ErrSocketUnavailable,
		},
		{
			name:    "invalid ipv6 scope",
			msg:     Message{Endpoint: endpoint.New(endpoint.IPv6|endpoint.Multicast|0x6, "", 0), Data: []byte("x"), Multicast: true},
			wantErr: errors.ErrInvalidScope,
		},
		{
			name:    "write failure",
			mutate:  func(f *fixture) { f.conns[transport.SlotU4].fail = stderrors.New("no route to host") },
			msg:     Message{Endpoint: endpoint.New(endpoint.IPv4, "10.0.0.8", 0), Data: []byte("x")},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.mutate != nil {
				tt.mutate(f)
			}
			f.dispatcher().Dispatch(tt.msg)

			require.Len(t, f.errs, 1, "exactly one error callback expected")
			if tt.wantErr != nil {
				assert.ErrorIs(t, f.errs[0], tt.wantErr)
			}
		})
	}
}

func TestDispatch_MulticastPerInterface(t *testing.T) {
	f := newFixture()
	f.config.TTL = func() int { return 4 }
	f.config.SkipMobileInterfaces = true

	ep := endpoint.New(endpoint.IPv4|endpoint.Multicast, "", 0)
	f.dispatcher().Dispatch(Message{Endpoint: ep, Data: []byte("discover"), Multicast: true})

	require.Empty(t, f.errs)
	writes := f.conns[transport.SlotM4].writes
	require.Len(t, writes, 2, "eth0 and wlan0 only: eth1 is not running, rmnet0 is mobile")

	assert.Equal(t, 2, writes[0].iface)
	assert.Equal(t, 3, writes[1].iface)
	for _, w := range writes {
		assert.Equal(t, "224.0.1.187:5683", w.dst)
		assert.Equal(t, 4, w.ttl)
	}
	assert.Empty(t, f.conns[transport.SlotU4].writes, "multicast leaves from the multicast slot")
}

func TestDispatch_MulticastBothFamilies(t *testing.T) {
	f := newFixture()
	ep := endpoint.New(endpoint.IPv4|endpoint.IPv6|endpoint.Multicast|endpoint.ScopeSite, "", 0)
	f.dispatcher().Dispatch(Message{Endpoint: ep, Data: []byte("discover"), Multicast: true})

	require.Empty(t, f.errs)
	require.Len(t, f.conns[transport.SlotM6].writes, 1)
	assert.Equal(t, "[ff05::158]:5683", f.conns[transport.SlotM6].writes[0].dst)
	assert.Len(t, f.conns[transport.SlotM4].writes, 3, "mobile interfaces are kept unless skipping is enabled")
}

func TestDispatch_MulticastSlotSelection(t *testing.T) {
	tests := []struct {
		name      string
		flags     endpoint.Flags
		wantSlot  transport.Slot
		wantDst   string
		wantCount int
	}{
		{"ipv4 plain", endpoint.IPv4, transport.SlotM4, "224.0.1.187:5683", 3},
		{"ipv4 secure", endpoint.IPv4 | endpoint.Secure, transport.SlotM4S, "224.0.1.187:5684", 3},
		{"ipv6 plain", endpoint.IPv6 | endpoint.ScopeLink, transport.SlotM6, "[ff02::158]:5683", 1},
		{"ipv6 secure", endpoint.IPv6 | endpoint.Secure | endpoint.ScopeLink, transport.SlotM6S, "[ff02::158]:5684", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.config.Security = security.HookFuncs{}
			ep := endpoint.New(tt.flags|endpoint.Multicast, "", 0)
			f.dispatcher().Dispatch(Message{Endpoint: ep, Data: []byte("discover"), Multicast: true})

			require.Empty(t, f.errs)
			for slot, c := range f.conns {
				if slot != tt.wantSlot {
					assert.Empty(t, c.writes, "unexpected write on %s", slot)
					continue
				}
				require.Len(t, c.writes, tt.wantCount, "slot %s", slot)
				for _, w := range c.writes {
					assert.Equal(t, tt.wantDst, w.dst)
				}
			}
		})
	}
}

func TestDispatch_MulticastInterfaceFailureReported(t *testing.T) {
	f := newFixture()
	f.conns[transport.SlotM4].ifaceFail = map[int]error{3: stderrors.New("no such device")}

	ep := endpoint.New(endpoint.IPv4|endpoint.Multicast, "", 0)
	f.dispatcher().Dispatch(Message{Endpoint: ep, Data: []byte("discover"), Multicast: true})

	require.Len(t, f.errs, 1, "the skipped interface is reported once")
	var netErr *errors.NetworkError
	require.ErrorAs(t, f.errs[0], &netErr)
	assert.Equal(t, "set multicast interface", netErr.Operation)
	assert.Contains(t, netErr.Details, "wlan0")

	writes := f.conns[transport.SlotM4].writes
	require.Len(t, writes, 2, "eth0 and rmnet0 still get the datagram")
	for _, w := range writes {
		assert.NotEqual(t, 3, w.iface)
	}
}
