package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/modspec/schema"
)

type pageInvocation struct {
	function string
	start    uint16
	quantity uint16
}

// testPageClient answers every page from a flat register image and records
// the requests it sees.
type testPageClient struct {
	mu       sync.Mutex
	image    []byte
	calls    []pageInvocation
	written  map[uint16][]byte
	failAt   int
	closed   bool
	callsErr error
}

func newTestPageClient(registers int) *testPageClient {
	image := make([]byte, registers*2)
	for i := range image {
		image[i] = byte(i)
	}
	return &testPageClient{image: image, written: make(map[uint16][]byte), failAt: -1}
}

func (c *testPageClient) record(function string, start, quantity uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, pageInvocation{function: function, start: start, quantity: quantity})
	if c.failAt == len(c.calls)-1 {
		return c.callsErr
	}
	return nil
}

func (c *testPageClient) words(function string, start, quantity uint16) ([]byte, error) {
	if quantity > DefaultPageWidth {
		return nil, fmt.Errorf("quantity %d exceeds limit", quantity)
	}
	if err := c.record(function, start, quantity); err != nil {
		return nil, err
	}
	out := make([]byte, int(quantity)*2)
	copy(out, c.image[int(start)*2:])
	return out, nil
}

func (c *testPageClient) bits(function string, start, quantity uint16) ([]byte, error) {
	if quantity > 2000 {
		return nil, fmt.Errorf("quantity %d exceeds limit", quantity)
	}
	if err := c.record(function, start, quantity); err != nil {
		return nil, err
	}
	out := make([]byte, (int(quantity)+7)/8)
	for i := range out {
		out[i] = 0xA5
	}
	return out, nil
}

func (c *testPageClient) ReadCoils(address, quantity uint16) ([]byte, error) {
	return c.bits("coils", address, quantity)
}

func (c *testPageClient) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return c.bits("discrete", address, quantity)
}

func (c *testPageClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return c.words("holding", address, quantity)
}

func (c *testPageClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return c.words("input", address, quantity)
}

func (c *testPageClient) WriteSingleCoil(address, value uint16) ([]byte, error) {
	if err := c.record("coil", address, value); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *testPageClient) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	if err := c.record("write", address, quantity); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written[address] = append([]byte(nil), value...)
	return nil, nil
}

func (c *testPageClient) Close() error {
	c.closed = true
	return nil
}

func TestPagerSplitsWideReads(t *testing.T) {
	client := newTestPageClient(2000)
	pager := NewPager(client)

	dst := make([]byte, 600)
	require.NoError(t, pager.ReadHoldingRegisters(1000, dst))

	require.Equal(t, []pageInvocation{
		{function: "holding", start: 1000, quantity: 125},
		{function: "holding", start: 1125, quantity: 125},
		{function: "holding", start: 1250, quantity: 50},
	}, client.calls)
	require.Equal(t, client.image[2000:2600], dst)
}

func TestPagerContextReadHonoursPageWidth(t *testing.T) {
	client := newTestPageClient(100)
	pager := NewPager(client, WithPageWidth(10))

	dst := make([]byte, 45)
	require.NoError(t, pager.ReadInputRegistersContext(context.Background(), 0, dst))

	require.Len(t, client.calls, 3)
	require.Equal(t, uint16(3), client.calls[2].quantity)
	require.Equal(t, client.image[:45], dst)
}

func TestPagerStopsOnCancelledContext(t *testing.T) {
	client := newTestPageClient(10)
	pager := NewPager(client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pager.ReadHoldingRegistersContext(ctx, 0, make([]byte, 4))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, client.calls)
}

func TestPagerPropagatesTransportErrors(t *testing.T) {
	client := newTestPageClient(400)
	client.failAt = 1
	client.callsErr = errors.New("timeout")
	pager := NewPager(client)

	err := pager.ReadHoldingRegisters(0, make([]byte, 600))
	require.ErrorIs(t, err, client.callsErr)
	require.Len(t, client.calls, 2)
}

func TestPagerPagesCoilsInBits(t *testing.T) {
	client := newTestPageClient(0)
	pager := NewPager(client)

	dst := make([]byte, 300)
	require.NoError(t, pager.ReadCoils(8, dst))
	require.Equal(t, []pageInvocation{
		{function: "coils", start: 8, quantity: 2000},
		{function: "coils", start: 2008, quantity: 400},
	}, client.calls)
	require.Equal(t, byte(0xA5), dst[299])
}

func TestPagerWritesPadOddLength(t *testing.T) {
	client := newTestPageClient(0)
	pager := NewPager(client, WithPageWidth(2))

	require.NoError(t, pager.WriteHoldingRegisters(context.Background(), 40, []byte{1, 2, 3, 4, 5}))
	require.Equal(t, []pageInvocation{
		{function: "write", start: 40, quantity: 2},
		{function: "write", start: 42, quantity: 1},
	}, client.calls)
	require.Equal(t, []byte{1, 2, 3, 4}, client.written[40])
	require.Equal(t, []byte{5, 0}, client.written[42])

	require.NoError(t, pager.WriteSingleCoil(context.Background(), 7, true))
	require.Equal(t, pageInvocation{function: "coil", start: 7, quantity: 0xFF00}, client.calls[2])

	require.NoError(t, pager.Close())
	require.True(t, client.closed)
}

func TestPagerRejectsAddressOverflow(t *testing.T) {
	pager := NewPager(newTestPageClient(0))
	require.Error(t, pager.ReadHoldingRegisters(65535, make([]byte, 4)))
}

func TestMemoryPacksBitsLSBFirst(t *testing.T) {
	mem := NewMemory()
	mem.SetBit(schema.DiscreteInputs, 15, true)
	mem.SetBit(schema.DiscreteInputs, 17, true)

	dst := make([]byte, 3)
	require.NoError(t, mem.ReadDiscreteInputs(8, dst))
	require.Equal(t, []byte{0x80, 0x02, 0x00}, dst)

	require.NoError(t, mem.WriteSingleCoil(context.Background(), 3, true))
	require.True(t, mem.Bit(schema.Coils, 3))
	require.NoError(t, mem.WriteSingleCoil(context.Background(), 3, false))
	require.False(t, mem.Bit(schema.Coils, 3))
}

func TestMemoryRegisters(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.SetRegisters(schema.InputRegisters, 1000, []byte{0x0C, 0x35}))

	dst := make([]byte, 2)
	require.NoError(t, ReadTable(mem, schema.InputRegisters, 1000, dst))
	require.Equal(t, []byte{0x0C, 0x35}, dst)

	require.NoError(t, mem.WriteHoldingRegisters(context.Background(), 5, []byte{0, 9}))
	require.Equal(t, []byte{0, 9}, mem.Registers(schema.HoldingRegisters, 5, 1))
	require.Equal(t, 1, mem.Writes())

	require.Error(t, mem.SetRegisters(schema.Coils, 0, []byte{1}))
}

func TestMemoryFailure(t *testing.T) {
	mem := NewMemory()
	boom := errors.New("link down")
	mem.Fail(boom)
	require.ErrorIs(t, ReadTableContext(context.Background(), mem, schema.HoldingRegisters, 0, make([]byte, 2)), boom)
	mem.Fail(nil)
	require.NoError(t, mem.ReadHoldingRegisters(0, make([]byte, 2)))
	require.Len(t, mem.Calls(), 2)
}

func TestQuantity(t *testing.T) {
	require.Equal(t, 16, Quantity(schema.Coils, 2))
	require.Equal(t, 3, Quantity(schema.HoldingRegisters, 5))
}
