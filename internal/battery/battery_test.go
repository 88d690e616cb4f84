package battery

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeBoard struct {
	regs   map[byte]byte
	fail   byte
	closed int
}

func (f *fakeBoard) Tx(w, r []byte) error {
	if w[0] == f.fail {
		return errors.New("nack")
	}
	r[0] = f.regs[w[0]]
	return nil
}

func newFake(board *fakeBoard) *I2C {
	r := NewI2C("", 0x57)
	r.open = func() (tx, func() error, error) {
		return board, func() error { board.closed++; return nil }, nil
	}
	return r
}

func TestI2C_Read(t *testing.T) {
	t.Parallel()

	board := &fakeBoard{regs: map[byte]byte{regVoltageHigh: 0x0F, regVoltageLow: 0xA0, regPercent: 87}}
	st, err := newFake(board).Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if st.Percent != 87 || st.VoltageMv != 4000 {
		t.Errorf("Read() = %+v, want 87%% at 4000mV", st)
	}
	if board.closed != 1 {
		t.Errorf("bus closed %d times, want 1", board.closed)
	}
}

func TestI2C_ReadClampsAndFails(t *testing.T) {
	t.Parallel()

	st, err := newFake(&fakeBoard{regs: map[byte]byte{regPercent: 140}}).Read(context.Background())
	if err != nil || st.Percent != 100 {
		t.Errorf("Read() = %+v, %v; want clamped to 100", st, err)
	}

	board := &fakeBoard{fail: regPercent}
	if _, err := newFake(board).Read(context.Background()); err == nil {
		t.Error("Read() with failing register = nil error")
	}
	if board.closed != 1 {
		t.Error("bus not closed after a failed read")
	}
}

type countingReader struct{ n int }

func (c *countingReader) Read(context.Context) (Status, error) {
	c.n++
	return Status{Percent: c.n}, nil
}

func TestCached(t *testing.T) {
	t.Parallel()

	inner := &countingReader{}
	c := NewCached(inner, 30*time.Second)
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	first, _ := c.Read(context.Background())
	now = now.Add(10 * time.Second)
	second, _ := c.Read(context.Background())
	now = now.Add(30 * time.Second)
	third, _ := c.Read(context.Background())

	if first.Percent != 1 || second.Percent != 1 || third.Percent != 2 {
		t.Errorf("reads = %d, %d, %d; want 1, 1, 2", first.Percent, second.Percent, third.Percent)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, ok := New(Config{Driver: "none"}).(None); !ok {
		t.Error(`New("none") is not None`)
	}
	if _, ok := New(Config{Driver: "i2c", Addr: 0x57}).(*I2C); !ok {
		t.Error(`New("i2c") is not *I2C`)
	}
	if _, err := (None{}).Read(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("None.Read() = %v, want ErrUnavailable", err)
	}
}
