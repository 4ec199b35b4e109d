package binding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/modspec/codec"
	"github.com/timzifer/modspec/schema"
	"github.com/timzifer/modspec/transport"
)

func ptr[T any](v T) *T { return &v }

type recordingCollector struct {
	mu       sync.Mutex
	writes   []string
	rejected []string
}

func (c *recordingCollector) IncHotReload(string)                    {}
func (c *recordingCollector) ObservePage(string, int, time.Duration) {}
func (c *recordingCollector) IncTransportError(string)               {}

func (c *recordingCollector) IncWrite(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, table)
}

func (c *recordingCollector) IncRejectedWrite(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected = append(c.rejected, reason)
}

func singleGroup(table schema.Table, base uint16, points ...*schema.Point) *schema.Schema {
	return &schema.Schema{
		Name:   "test",
		Groups: []*schema.Group{{Name: "main", BaseRegister: base, Table: table, Points: points}},
	}
}

func mustBind(t *testing.T, client transport.Client, order codec.ByteOrder, s *schema.Schema, opts ...Option) *Binding {
	t.Helper()
	b, err := Bind(client, order, s, opts...)
	require.NoError(t, err)
	return b
}

func TestInputRegisterDecodesRawAndScaled(t *testing.T) {
	mem := transport.NewMemory()
	require.NoError(t, mem.SetRegisters(schema.InputRegisters, 1000, []byte{0x0C, 0x35}))

	plain := mustBind(t, mem, codec.BigEndian, singleGroup(schema.InputRegisters, 1000,
		&schema.Point{Name: "soc", Type: schema.TypeUInt16}))
	require.NoError(t, plain.ReadAll(context.Background()))

	v, ok := plain.Lookup(RegisterID(schema.InputRegisters, 1000))
	require.True(t, ok)
	require.Equal(t, 401000, v.RegisterID())
	require.False(t, v.Writable())
	got, err := v.Get()
	require.NoError(t, err)
	require.Equal(t, uint16(3125), got.Interface())

	scaled := mustBind(t, mem, codec.BigEndian, singleGroup(schema.InputRegisters, 1000,
		&schema.Point{Name: "soc", Type: schema.TypeUInt16, ScaleFactor: ptr(0.001)}))
	group, ok := scaled.Group("main")
	require.True(t, ok)
	require.NoError(t, group.Read())

	v, ok = group.Value("soc")
	require.True(t, ok)
	got, err = v.Get()
	require.NoError(t, err)
	require.Equal(t, codec.KindFloat, got.Kind())
	f, _ := got.Float64()
	require.InDelta(t, 3.125, f, 1e-12)
	d, _ := got.Decimal()
	require.Equal(t, "3.125", d.String())
}

func TestEnumDecodesSymbolName(t *testing.T) {
	mem := transport.NewMemory()
	require.NoError(t, mem.SetRegisters(schema.HoldingRegisters, 10, []byte{0x00, 0x01}))
	b := mustBind(t, mem, codec.BigEndian, singleGroup(schema.HoldingRegisters, 10,
		&schema.Point{Name: "language", Type: schema.TypeEnum16, Symbols: []schema.Symbol{
			{Name: "English", Value: 0},
			{Name: "French", Value: 1, Level: ptr(schema.LevelWarning)},
		}}))
	require.NoError(t, b.ReadAll(context.Background()))

	v, ok := b.Lookup(RegisterID(schema.HoldingRegisters, 10))
	require.True(t, ok)
	got, err := v.Get()
	require.NoError(t, err)
	require.Equal(t, "French", got.Interface())
	require.Equal(t, schema.LevelWarning, v.Level())
}

func TestDiscreteInputBitfieldIsLittleEndian(t *testing.T) {
	mem := transport.NewMemory()
	mem.SetBit(schema.DiscreteInputs, 8+7, true)

	b := mustBind(t, mem, codec.BigEndian, singleGroup(schema.DiscreteInputs, 8,
		&schema.Point{Name: "alarms", Type: schema.TypeBitfield16, Symbols: []schema.Symbol{
			{Name: "Low", Value: 0},
			{Name: "High", Value: 7, Level: ptr(schema.LevelError)},
		}}))
	group, _ := b.Group("main")
	require.Equal(t, codec.LittleEndian, group.Order())
	require.NoError(t, group.ReadContext(context.Background()))
	require.Equal(t, []byte{0x80, 0x00}, group.Bytes())

	v, ok := b.Lookup(RegisterID(schema.DiscreteInputs, 8))
	require.True(t, ok)
	got, err := v.Get()
	require.NoError(t, err)
	require.Equal(t, []string{"High"}, got.Interface())
	require.Equal(t, schema.LevelError, v.Level())
}

func TestRegisterOffsets(t *testing.T) {
	s := &schema.Schema{
		Name: "offsets",
		Groups: []*schema.Group{
			{Name: "coils", BaseRegister: 0, Table: schema.Coils, Points: []*schema.Point{
				{Name: "a", Type: schema.TypeUInt16},
				{Name: "b", Type: schema.TypeUInt16},
			}},
			{Name: "holding", BaseRegister: 100, Table: schema.HoldingRegisters, Points: []*schema.Point{
				{Name: "energy", Type: schema.TypeUInt32},
				{Name: "gap", Type: schema.TypePadding, Length: ptr(uint16(2))},
				{Name: "name", Type: schema.TypeString, Length: ptr(uint16(4))},
				{Name: "temp", Type: schema.TypeInt16},
			}},
		},
	}
	b := mustBind(t, transport.NewMemory(), codec.BigEndian, s)

	ids := make(map[string]int)
	for _, v := range b.Values() {
		ids[v.Name()] = v.RegisterID()
	}
	require.Equal(t, map[string]int{
		"a":      100000,
		"b":      100008,
		"energy": 300100,
		"name":   300104,
		"temp":   300106,
	}, ids)
	require.Equal(t, 5, b.Len())

	holding, _ := b.Group("holding")
	require.Len(t, holding.Values(), 3)
	_, ok := holding.Value("gap")
	require.False(t, ok)

	_, ok = b.Lookup(300101)
	require.False(t, ok)
}

func TestLittleEndianWordTable(t *testing.T) {
	mem := transport.NewMemory()
	require.NoError(t, mem.SetRegisters(schema.HoldingRegisters, 0, []byte{0x01, 0x00, 0x00, 0x00}))
	b := mustBind(t, mem, codec.LittleEndian, singleGroup(schema.HoldingRegisters, 0,
		&schema.Point{Name: "counter", Type: schema.TypeInt32}))
	require.NoError(t, b.ReadAll(context.Background()))

	v, _ := b.Lookup(300000)
	got, err := v.Get()
	require.NoError(t, err)
	require.Equal(t, int32(1), got.Interface())
}

func TestWriteRejectsOutOfRangeBeforeTransport(t *testing.T) {
	mem := transport.NewMemory()
	collector := &recordingCollector{}
	b := mustBind(t, mem, codec.BigEndian, singleGroup(schema.HoldingRegisters, 40,
		&schema.Point{Name: "mode", Type: schema.TypeUInt16},
		&schema.Point{Name: "limit", Type: schema.TypeUInt16, MaxValue: ptr(20.0)},
	), WithCollector(collector))

	v, ok := b.Lookup(RegisterID(schema.HoldingRegisters, 41))
	require.True(t, ok)
	require.True(t, v.Writable())

	err := v.Set(context.Background(), 25)
	require.ErrorIs(t, err, codec.ErrOutOfRange)
	require.Zero(t, mem.Writes())

	require.NoError(t, v.Set(context.Background(), nil))
	require.Zero(t, mem.Writes())

	require.NoError(t, v.Set(context.Background(), 10))
	require.Equal(t, 1, mem.Writes())
	require.Equal(t, []byte{0x00, 0x0A}, mem.Registers(schema.HoldingRegisters, 41, 1))
	require.Equal(t, []byte{0x00, 0x00}, mem.Registers(schema.HoldingRegisters, 40, 1))

	got, err := v.Get()
	require.NoError(t, err)
	require.Equal(t, uint16(10), got.Interface())

	require.Equal(t, []string{"out_of_range"}, collector.rejected)
	require.Equal(t, []string{"HoldingRegisters"}, collector.writes)
}

func TestWriteScaledValue(t *testing.T) {
	mem := transport.NewMemory()
	b := mustBind(t, mem, codec.BigEndian, singleGroup(schema.HoldingRegisters, 0,
		&schema.Point{Name: "setpoint", Type: schema.TypeUInt16, ScaleFactor: ptr(0.1), MinValue: ptr(0.0), MaxValue: ptr(50.0)}))

	v, _ := b.Lookup(300000)
	require.NoError(t, v.Set(context.Background(), 12.3))
	require.Equal(t, []byte{0x00, 0x7B}, mem.Registers(schema.HoldingRegisters, 0, 1))

	got, err := v.Get()
	require.NoError(t, err)
	f, _ := got.Float64()
	require.InDelta(t, 12.3, f, 1e-9)

	require.ErrorIs(t, v.Set(context.Background(), "warm"), codec.ErrInvalidArgument)
	require.Equal(t, 1, mem.Writes())
}

func TestWriteFailureLeavesBufferUntouched(t *testing.T) {
	mem := transport.NewMemory()
	b := mustBind(t, mem, codec.BigEndian, singleGroup(schema.HoldingRegisters, 0,
		&schema.Point{Name: "target", Type: schema.TypeInt16}))
	v, _ := b.Lookup(300000)

	boom := errors.New("link down")
	mem.Fail(boom)
	require.ErrorIs(t, v.Set(context.Background(), -5), boom)

	got, err := v.Get()
	require.NoError(t, err)
	require.Equal(t, int16(0), got.Interface())
}

func TestWriteStringRejectsOverlongValues(t *testing.T) {
	mem := transport.NewMemory()
	b := mustBind(t, mem, codec.BigEndian, singleGroup(schema.HoldingRegisters, 200,
		&schema.Point{Name: "label", Type: schema.TypeString, Length: ptr(uint16(4))}))
	v, _ := b.Lookup(300200)

	require.ErrorIs(t, v.Set(context.Background(), "toolong"), codec.ErrInvalidArgument)
	require.Zero(t, mem.Writes())

	require.NoError(t, v.Set(context.Background(), "ab"))
	require.Equal(t, []byte{'a', 'b', 0, 0}, mem.Registers(schema.HoldingRegisters, 200, 2))
}

func TestInvalidWriteOperations(t *testing.T) {
	mem := transport.NewMemory()
	s := &schema.Schema{
		Name:   "ops",
		Counts: []*schema.Count{{Name: "cells", MaxValue: 3}},
		Groups: []*schema.Group{
			{Name: "coils", Table: schema.Coils, Points: []*schema.Point{{Name: "relay", Type: schema.TypeUInt16}}},
			{Name: "inputs", Table: schema.InputRegisters, Points: []*schema.Point{{Name: "temp", Type: schema.TypeInt16}}},
			{Name: "holding", Table: schema.HoldingRegisters, Points: []*schema.Point{
				{Name: "cells", Type: schema.TypeUInt16, Count: &schema.Count{Name: "cells", MaxValue: 3}},
			}},
		},
	}
	b := mustBind(t, mem, codec.BigEndian, s)
	ctx := context.Background()

	relay, _ := b.Lookup(RegisterID(schema.Coils, 0))
	require.True(t, relay.Writable())
	require.ErrorIs(t, relay.Set(ctx, 1), ErrCoilWrite)

	temp, _ := b.Lookup(RegisterID(schema.InputRegisters, 0))
	require.ErrorIs(t, temp.Set(ctx, 1), ErrReadOnly)

	cells, _ := b.Lookup(RegisterID(schema.HoldingRegisters, 0))
	require.False(t, cells.Writable())
	require.ErrorIs(t, cells.Set(ctx, []int{1, 2, 3}), ErrArrayWrite)

	require.Zero(t, mem.Writes())
}

func TestArrayDecodesEveryElement(t *testing.T) {
	mem := transport.NewMemory()
	require.NoError(t, mem.SetRegisters(schema.InputRegisters, 0, []byte{0, 1, 0, 2, 0, 3}))
	b := mustBind(t, mem, codec.BigEndian, singleGroup(schema.InputRegisters, 0,
		&schema.Point{Name: "cells", Type: schema.TypeUInt16, Count: &schema.Count{Name: "cells", MaxValue: 3}}))
	require.NoError(t, b.ReadAll(context.Background()))

	v, _ := b.Lookup(400000)
	got, err := v.Get()
	require.NoError(t, err)
	require.Equal(t, []interface{}{uint16(1), uint16(2), uint16(3)}, got.Interface())
}

func TestDuplicateRegisterFailsBinding(t *testing.T) {
	s := &schema.Schema{
		Name: "dup",
		Groups: []*schema.Group{
			{Name: "a", BaseRegister: 10, Table: schema.HoldingRegisters, Points: []*schema.Point{{Name: "x", Type: schema.TypeUInt32}}},
			{Name: "b", BaseRegister: 10, Table: schema.HoldingRegisters, Points: []*schema.Point{{Name: "y", Type: schema.TypeUInt16}}},
		},
	}
	_, err := Bind(transport.NewMemory(), codec.BigEndian, s)
	require.ErrorIs(t, err, ErrDuplicateRegister)

	s.Groups[1].Table = schema.InputRegisters
	_, err = Bind(transport.NewMemory(), codec.BigEndian, s)
	require.NoError(t, err)
}

func TestRepeatingGroupEntriesAreIndependent(t *testing.T) {
	mem := transport.NewMemory()
	for i, raw := range []byte{1, 2, 3} {
		require.NoError(t, mem.SetRegisters(schema.HoldingRegisters, uint16(100+10*i), []byte{0, raw}))
	}
	s := &schema.Schema{
		Name: "racks",
		RepeatingGroups: []*schema.RepeatingGroup{{
			Name:  "rack",
			Every: 10,
			Count: &schema.Count{Name: "racks", MaxValue: 3},
			Groups: []*schema.Group{{Name: "rack", BaseRegister: 100, Table: schema.HoldingRegisters, Points: []*schema.Point{
				{Name: "value", Type: schema.TypeUInt16},
			}}},
		}},
	}
	b := mustBind(t, mem, codec.BigEndian, s)
	rack, ok := b.RepeatingGroup("rack")
	require.True(t, ok)
	require.Len(t, rack.Entries(), 3)
	require.NoError(t, rack.ReadAll(context.Background()))

	for i, entry := range rack.Entries() {
		require.Equal(t, i*10, entry.Offset())
		group, ok := entry.Group("rack")
		require.True(t, ok)
		require.Equal(t, uint16(100+10*i), group.Start())
		require.Same(t, entry, group.Entry())

		v, ok := b.Lookup(RegisterID(schema.HoldingRegisters, 100+10*i))
		require.True(t, ok)
		require.Same(t, group, v.Group())
		got, err := v.Get()
		require.NoError(t, err)
		require.Equal(t, uint16(i+1), got.Interface())
	}

	first, _ := b.Lookup(300100)
	require.NoError(t, first.Set(context.Background(), 42))
	require.Equal(t, []byte{0, 42}, mem.Registers(schema.HoldingRegisters, 100, 1))

	second, _ := b.Lookup(300110)
	got, err := second.Get()
	require.NoError(t, err)
	require.Equal(t, uint16(2), got.Interface())

	entry, ok := rack.Entry(1)
	require.True(t, ok)
	require.Equal(t, 1, entry.Index())
	_, ok = rack.Entry(3)
	require.False(t, ok)
}

func TestReadPropagatesTransportErrors(t *testing.T) {
	mem := transport.NewMemory()
	b := mustBind(t, mem, codec.BigEndian, singleGroup(schema.InputRegisters, 0,
		&schema.Point{Name: "temp", Type: schema.TypeInt16}))
	boom := errors.New("timeout")
	mem.Fail(boom)
	require.ErrorIs(t, b.ReadAll(context.Background()), boom)
}

func TestBindLogsGroupReads(t *testing.T) {
	mem := transport.NewMemory()
	var out bytes.Buffer
	logger := zerolog.New(&out).Level(zerolog.TraceLevel)

	b := mustBind(t, mem, codec.BigEndian, singleGroup(schema.InputRegisters, 0,
		&schema.Point{Name: "temp", Type: schema.TypeInt16}), WithLogger(logger))
	require.NoError(t, b.ReadAll(context.Background()))
	require.Contains(t, out.String(), `"message":"group read"`)
	require.Contains(t, out.String(), `"group":"main"`)
	require.Contains(t, out.String(), `"message":"schema bound"`)
	require.NoError(t, b.Close())
}

func TestBindRequiresArguments(t *testing.T) {
	_, err := Bind(nil, codec.BigEndian, &schema.Schema{})
	require.Error(t, err)
	_, err = Bind(transport.NewMemory(), codec.BigEndian, nil)
	require.Error(t, err)
}

func TestGroupMustFitAddressSpace(t *testing.T) {
	points := func(n int) []*schema.Point {
		out := make([]*schema.Point, n)
		for i := range out {
			out[i] = &schema.Point{Name: fmt.Sprintf("p%d", i), Type: schema.TypeUInt16}
		}
		return out
	}
	mem := transport.NewMemory()

	_, err := Bind(mem, codec.BigEndian, singleGroup(schema.HoldingRegisters, 65530, points(10)...))
	require.ErrorIs(t, err, ErrAddressSpace)

	_, err = Bind(mem, codec.BigEndian, singleGroup(schema.Coils, 65530, points(1)...))
	require.ErrorIs(t, err, ErrAddressSpace)

	_, err = Bind(mem, codec.BigEndian, &schema.Schema{
		Name: "racks",
		RepeatingGroups: []*schema.RepeatingGroup{{
			Name:  "rack",
			Every: 30000,
			Count: &schema.Count{Name: "racks", MaxValue: 3},
			Groups: []*schema.Group{{Name: "rack", BaseRegister: 10000, Table: schema.HoldingRegisters, Points: points(1)}},
		}},
	})
	require.ErrorIs(t, err, ErrAddressSpace)
	require.Zero(t, mem.Writes())

	b := mustBind(t, mem, codec.BigEndian, singleGroup(schema.HoldingRegisters, 65530, points(6)...))
	last, ok := b.Lookup(RegisterID(schema.HoldingRegisters, 65535))
	require.True(t, ok)
	require.NoError(t, last.Set(context.Background(), 7))
	require.Equal(t, []transport.Call{{Op: "write", Table: schema.HoldingRegisters, Start: 65535, Bytes: 2}}, mem.Calls())
	require.Equal(t, []byte{0, 7}, mem.Registers(schema.HoldingRegisters, 65535, 1))
	require.Equal(t, []byte{0, 0}, mem.Registers(schema.HoldingRegisters, 3, 1))
}

func TestWriteRejectsFractionOnUnscaledInteger(t *testing.T) {
	mem := transport.NewMemory()
	b := mustBind(t, mem, codec.BigEndian, singleGroup(schema.HoldingRegisters, 0,
		&schema.Point{Name: "target", Type: schema.TypeInt16}))
	v, _ := b.Lookup(300000)

	require.ErrorIs(t, v.Set(context.Background(), 10.5), codec.ErrInvalidArgument)
	require.Zero(t, mem.Writes())

	require.NoError(t, v.Set(context.Background(), 11.0))
	got, err := v.Get()
	require.NoError(t, err)
	require.Equal(t, int16(11), got.Interface())
}
