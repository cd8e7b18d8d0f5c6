// internal/transport/modbus/modbus_test.go
package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/status"
	"github.com/tamzrod/chargerlink/internal/transport"
)

// ---- fakes ----

type fakePort struct {
	mu       sync.Mutex
	slave    byte
	opens    int
	closes   int
	failOpen error

	// timeout is set like a serial handler's; opened is what the port
	// was last opened with.
	timeout time.Duration
	opened  time.Duration
}

func (p *fakePort) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOpen != nil {
		return p.failOpen
	}
	p.opens++
	p.opened = p.timeout
	return nil
}

func (p *fakePort) SetTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = d
}

func (p *fakePort) openedWith() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePort) SetSlave(id byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slave = id
}

func (p *fakePort) current() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slave
}

// fakeClient answers per slave, as seen through the port.
type fakeClient struct {
	port     *fakePort
	inflight atomic.Int32
	overlap  atomic.Bool
	fail     map[byte]error
	silent   map[byte]bool
	regs     map[uint16]uint16
	writes   []string
	mu       sync.Mutex
}

func (c *fakeClient) enter() func() {
	if c.inflight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
	return func() { c.inflight.Add(-1) }
}

func (c *fakeClient) read(addr, qty uint16) ([]byte, error) {
	defer c.enter()()
	if c.silent[c.port.current()] {
		// a slave that never answers costs the open port's timeout
		time.Sleep(c.port.openedWith())
		return nil, serial.ErrTimeout
	}
	if err := c.fail[c.port.current()]; err != nil {
		return nil, err
	}
	out := make([]uint16, qty)
	for i := range out {
		out[i] = c.regs[addr+uint16(i)]
	}
	return packRegisters(out), nil
}

func (c *fakeClient) ReadHoldingRegisters(addr, qty uint16) ([]byte, error) { return c.read(addr, qty) }
func (c *fakeClient) ReadInputRegisters(addr, qty uint16) ([]byte, error)   { return c.read(addr, qty) }

func (c *fakeClient) WriteSingleRegister(addr, v uint16) ([]byte, error) {
	defer c.enter()()
	c.mu.Lock()
	c.writes = append(c.writes, fmt.Sprintf("single %d=%d", addr, v))
	c.mu.Unlock()
	return nil, c.fail[c.port.current()]
}

func (c *fakeClient) WriteMultipleRegisters(addr, qty uint16, b []byte) ([]byte, error) {
	defer c.enter()()
	c.mu.Lock()
	c.writes = append(c.writes, fmt.Sprintf("multi %d x%d", addr, qty))
	c.mu.Unlock()
	return nil, c.fail[c.port.current()]
}

func newFakeBus(t *testing.T) (*Bus, *fakePort, *fakeClient) {
	p := &fakePort{}
	c := &fakeClient{port: p, fail: map[byte]error{}, silent: map[byte]bool{}, regs: map[uint16]uint16{100: 1, 101: 16}}
	return newBus("bus0", p, c, zaptest.NewLogger(t)), p, c
}

// ---- tests ----

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&modbus.ModbusError{FunctionCode: 0x86, ExceptionCode: 2}, fault.ErrHardwareRejected},
		{serial.ErrTimeout, fault.ErrTimeout},
		{context.DeadlineExceeded, fault.ErrTimeout},
		{io.EOF, fault.ErrLinkLost},
		{context.Canceled, fault.ErrCancelled},
		{errors.New("modbus: response crc 'x' does not match expected 'y'"), fault.ErrTimeout},
	}
	for _, c := range cases {
		assert.ErrorIs(t, classify(c.err), c.want, "err=%v", c.err)
	}
	assert.Nil(t, classify(nil))

	// exception code survives for status snapshots
	err := classify(&modbus.ModbusError{FunctionCode: 0x86, ExceptionCode: 3})
	assert.Equal(t, uint16(3), status.ErrorCode(err))
}

func TestBusSerializesSlaves(t *testing.T) {
	bus, _, cli := newFakeBus(t)
	ctx := context.Background()

	a, b := bus.Slave(5), bus.Slave(6)
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, b.Connect(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = a.ReadHoldingRegisters(ctx, 100, 2) }()
		go func() { defer wg.Done(); _, _ = b.ReadHoldingRegisters(ctx, 100, 2) }()
	}
	wg.Wait()

	assert.False(t, cli.overlap.Load(), "two requests were in flight on one bus")
}

func TestBusTimeoutReopens(t *testing.T) {
	bus, port, cli := newFakeBus(t)
	ctx := context.Background()
	cli.fail[5] = serial.ErrTimeout

	a, b := bus.Slave(5), bus.Slave(6)
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, b.Connect(ctx))
	require.Equal(t, 1, port.opens)

	_, err := a.ReadHoldingRegisters(ctx, 100, 1)
	assert.ErrorIs(t, err, fault.ErrTimeout)
	assert.Equal(t, 1, port.closes)

	regs, err := b.ReadHoldingRegisters(ctx, 100, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 16}, regs)
	assert.Equal(t, 2, port.opens, "port reopened for the next request")
}

func TestBusRefcount(t *testing.T) {
	bus, port, _ := newFakeBus(t)
	ctx := context.Background()

	a, b := bus.Slave(5), bus.Slave(6)
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, b.Connect(ctx))

	require.NoError(t, a.Close())
	assert.Equal(t, 0, port.closes)
	require.NoError(t, a.Close(), "second close is a no-op")
	require.NoError(t, b.Close())
	assert.Equal(t, 1, port.closes)
}

func TestBusMissingMaster(t *testing.T) {
	bus, port, _ := newFakeBus(t)
	port.failOpen = errors.New("open /dev/ttyUSB0: no such file or directory")

	err := bus.Check(context.Background())
	assert.ErrorIs(t, err, fault.ErrTransportUnavailable)
}

func TestWriteRegisters(t *testing.T) {
	bus, _, cli := newFakeBus(t)
	ctx := context.Background()
	c := bus.Slave(5)

	require.NoError(t, c.WriteRegisters(ctx, 100, []uint16{1}))
	require.NoError(t, c.WriteRegisters(ctx, 100, []uint16{1, 16}))
	require.NoError(t, c.WriteRegisters(ctx, 100, nil))

	assert.Equal(t, []string{"single 100=1", "multi 100 x2"}, cli.writes)
}

func TestCancelledBeforeSend(t *testing.T) {
	bus, _, _ := newFakeBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.Slave(5).ReadHoldingRegisters(ctx, 100, 1)
	assert.ErrorIs(t, err, fault.ErrCancelled)
}

func TestSweepReadUsesPerAddressTimeout(t *testing.T) {
	const busTimeout = 200 * time.Millisecond
	bus, port, cli := newFakeBus(t)
	bus.l.timeout, bus.l.cur = busTimeout, busTimeout
	port.timeout = busTimeout
	ctx := context.Background()

	for s := byte(1); s <= 10; s++ {
		cli.silent[s] = true
	}

	sweep := func(timeout time.Duration) time.Duration {
		start := time.Now()
		for s := uint8(1); s <= 10; s++ {
			_, err := bus.SweepHoldingRegisters(ctx, s, 100, 1, timeout)
			require.ErrorIs(t, err, fault.ErrTimeout)
		}
		return time.Since(start)
	}

	short := sweep(10 * time.Millisecond)
	assert.Less(t, short, 10*busTimeout/2, "absent slaves must cost the per-address timeout, not the bus timeout")
	assert.Equal(t, 10*time.Millisecond, port.openedWith())

	long := sweep(40 * time.Millisecond)
	assert.Greater(t, long, short, "sweep time follows the per-address timeout")

	// regular traffic gets the bus timeout back
	c := bus.Slave(20)
	require.NoError(t, c.Connect(ctx))
	_, err := c.ReadHoldingRegisters(ctx, 100, 1)
	require.NoError(t, err)
	assert.Equal(t, busTimeout, port.openedWith())
}

func TestCancelledConnectNeverOpens(t *testing.T) {
	p := &fakePort{}
	c := &TCPClient{l: newLink("tcp test", p, &fakeClient{port: p}, zaptest.NewLogger(t))}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the link is free, so a plain select would pick it half the time
	for i := 0; i < 100; i++ {
		assert.ErrorIs(t, c.Connect(ctx), fault.ErrCancelled)
	}
	assert.Equal(t, 0, p.opens)
}

func TestPoolDial(t *testing.T) {
	p := NewPool(time.Second, zaptest.NewLogger(t))
	bus, _, _ := newFakeBus(t)
	require.NoError(t, p.add(bus))
	assert.Error(t, p.add(bus))

	conn, err := p.Dial(transport.Descriptor{Kind: transport.KindRTU, Bus: "bus0", Slave: 5})
	require.NoError(t, err)
	assert.IsType(t, &RTUClient{}, conn)

	_, err = p.Dial(transport.Descriptor{Kind: transport.KindRTU, Bus: "nope", Slave: 5})
	assert.ErrorIs(t, err, fault.ErrTransportUnavailable)

	conn, err = p.Dial(transport.Descriptor{Kind: transport.KindTCP, Host: "127.0.0.1", Port: 502, UnitID: 255})
	require.NoError(t, err)
	assert.IsType(t, &TCPClient{}, conn)

	_, err = p.Dial(transport.Descriptor{Kind: transport.KindUDP})
	assert.ErrorIs(t, err, fault.ErrTransportUnavailable)
}

func TestUnpackRegisters(t *testing.T) {
	out, err := unpackRegisters([]byte{0x12, 0x34, 0xAB, 0xCD}, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1234, 0xABCD}, out)

	_, err = unpackRegisters([]byte{0x12}, 1)
	assert.Error(t, err)
}
