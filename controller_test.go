package ccan

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brutella/can"
)

var testTiming = BitTiming{SJW: 2, PropSeg: 2, PhaseSeg1: 6, PhaseSeg2: 4, BRP: 10}

// newTestController starts a controller on a simulated device and
// subscribes a catch-all socket.
func newTestController(t *testing.T, opts ...Option) (*Controller, *SimDevice, *Socket) {
	t.Helper()

	sim := NewSimDevice(BoschCCan)
	dispatch := NewDispatcher()
	opts = append(opts, WithDispatcher(dispatch))
	c := NewController(sim, BoschCCan, Aligned16, sim, opts...)

	if err := c.ConfigureBitTiming(testTiming); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Stop)

	return c, sim, dispatch.SubscribeAll(32)
}

func recvFrame(t *testing.T, sock *Socket) can.Frame {
	t.Helper()
	select {
	case frame := <-sock.Frames():
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return can.Frame{}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	c, _, _ := newTestController(t)

	if c.State() != StateErrorActive {
		t.Fatal("expected error active, got", c.State())
	}
	if err := c.AcquireTx(0); err != nil {
		t.Fatal(err)
	}
	if err := c.Submit(can.Frame{ID: 0x42, Length: 1}); err != nil {
		t.Fatal(err)
	}

	c.Stop()
	if c.State() != StateStopped {
		t.Fatal("expected stopped, got", c.State())
	}
	if err := c.Submit(can.Frame{ID: 0x42}); err != ErrNotOperating {
		t.Fatal("expected not operating, got", err)
	}
	if err := c.AcquireTx(0); err != ErrTxAbandoned {
		t.Fatal("expected abandoned, got", err)
	}

	// a stopped controller restarts cleanly
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateErrorActive {
		t.Fatal("expected error active, got", c.State())
	}
	if err := c.AcquireTx(0); err != nil {
		t.Fatal(err)
	}
}

func TestStartWhileOperatingIsNoop(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateErrorActive {
		t.Fatal("state changed on redundant start")
	}
}

type busyIRQ struct{}

func (busyIRQ) Request(func() bool) error { return errors.New("irq line busy") }
func (busyIRQ) Free()                     {}

func TestStartIRQRequestFailure(t *testing.T) {
	sim := NewSimDevice(BoschCCan)
	c := NewController(sim, BoschCCan, Aligned16, busyIRQ{})

	if err := c.Start(); err == nil {
		t.Fatal("expected error")
	}
	if c.State() != StateStopped {
		t.Fatal("failed start must leave the controller stopped")
	}
	if err := c.AcquireTx(0); err != ErrInvalidState {
		t.Fatal("expected invalid state, got", err)
	}
}

func TestSetMode(t *testing.T) {
	c, _, _ := newTestController(t)

	if err := c.SetMode(ModeSleep); err != ErrNotSupported {
		t.Fatal("expected not supported, got", err)
	}
	if err := c.SetMode(ModeStop); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateStopped {
		t.Fatal("expected stopped")
	}
	if err := c.SetMode(ModeStart); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateErrorActive {
		t.Fatal("expected error active")
	}
}

func TestPowerDownWrongVariant(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.PowerDown(); err != ErrWrongVariant {
		t.Fatal("expected wrong variant, got", err)
	}
	if err := c.PowerUp(); err != ErrWrongVariant {
		t.Fatal("expected wrong variant, got", err)
	}
}

func TestPowerDownUpCycle(t *testing.T) {
	sim := NewSimDevice(BoschDCan)
	var ramOn []bool
	c := NewController(sim, BoschDCan, Aligned16, sim,
		WithRAMInit(func(enable bool) { ramOn = append(ramOn, enable) }))

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if err := c.PowerDown(); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateStopped {
		t.Fatal("expected stopped after power down")
	}

	if err := c.PowerUp(); err != nil {
		t.Fatal(err)
	}
	// RAM toggled on at start, off at power down, on again at power up
	want := []bool{true, false, true}
	if len(ramOn) != len(want) {
		t.Fatal("raminit calls", ramOn)
	}
	for i := range want {
		if ramOn[i] != want[i] {
			t.Fatal("raminit sequence", ramOn)
		}
	}
}

func TestInterruptNotOurs(t *testing.T) {
	c, sim, _ := newTestController(t)

	// nothing pending: the pass must disclaim the interrupt
	if sim.Fire() {
		t.Fatal("idle interrupt claimed as ours")
	}
	if c.State() != StateErrorActive {
		t.Fatal("state changed on spurious interrupt")
	}
}

func TestLoopbackEcho(t *testing.T) {
	c, sim, sock := newTestController(t)
	c.Dispatcher().SetLoopback(true)

	if err := c.AcquireTx(0); err != nil {
		t.Fatal(err)
	}
	sent := can.Frame{ID: 0x555, Length: 2, Data: [8]byte{0xCA, 0xFE}}
	if err := c.Submit(sent); err != nil {
		t.Fatal(err)
	}

	// the echo waits for transmit completion
	select {
	case <-sock.Frames():
		t.Fatal("echo before completion")
	case <-time.After(20 * time.Millisecond):
	}

	sim.CompleteTx(msgObjTxFirst)
	sim.Fire()
	if frame := recvFrame(t, sock); frame != sent {
		t.Fatal("echo mismatch", frame)
	}
}

func TestConcurrentInterruptPasses(t *testing.T) {
	_, sim, sock := newTestController(t)

	for i := 0; i < 6; i++ {
		sim.DeliverFrame(can.Frame{ID: 0x600 + uint32(i), Length: 1})
	}

	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sim.Fire() {
			}
		}()
	}
	wg.Wait()

	// every frame arrives exactly once, in order
	for i := 0; i < 6; i++ {
		if frame := recvFrame(t, sock); frame.ID != 0x600+uint32(i) {
			t.Fatal("out of order at", i, frame.ID)
		}
	}
	select {
	case frame := <-sock.Frames():
		t.Fatalf("duplicate delivery id %x", frame.ID)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAligned32EndToEnd(t *testing.T) {
	sim := NewSimDeviceAligned(BoschDCan, Aligned32)
	dispatch := NewDispatcher()
	c := NewController(sim, BoschDCan, Aligned32, sim, WithDispatcher(dispatch))

	if err := c.ConfigureBitTiming(testTiming); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	sock := dispatch.SubscribeAll(4)
	sim.DeliverFrame(can.Frame{ID: 0x42, Length: 1, Data: [8]byte{7}})
	if !sim.Fire() {
		t.Fatal("interrupt not handled")
	}
	if frame := recvFrame(t, sock); frame.ID != 0x42 || frame.Data[0] != 7 {
		t.Fatal("frame corrupted", frame)
	}

	sim.mu.Lock()
	defer sim.mu.Unlock()
	if sim.btr != 0x3749 {
		t.Fatalf("timing not programmed, btr %04x", sim.btr)
	}
}
