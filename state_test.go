package ccan

import (
	"testing"
	"time"
)

func TestErrorWarningEvent(t *testing.T) {
	c, sim, sock := newTestController(t)

	sim.SetErrorCounters(97, 40, false)
	sim.RaiseStatus(statusEWarn)
	if !sim.Fire() {
		t.Fatal("interrupt not handled")
	}

	if c.State() != StateErrorWarning {
		t.Fatal("expected error warning, got", c.State())
	}
	frame := recvFrame(t, sock)
	if frame.ID != CAN_ERR_FLAG|CAN_ERR_CRTL {
		t.Fatalf("unexpected event id %x", frame.ID)
	}
	if frame.Data[1] != CAN_ERR_CRTL_TX_WARNING {
		t.Fatal("transmit counter dominates, got", frame.Data[1])
	}
	if frame.Data[6] != 97 || frame.Data[7] != 40 {
		t.Fatal("error counters not carried:", frame.Data)
	}
}

func TestErrorPassiveEvent(t *testing.T) {
	c, sim, sock := newTestController(t)

	sim.SetErrorCounters(140, 130, true)
	sim.RaiseStatus(statusEPass)
	sim.Fire()

	if c.State() != StateErrorPassive {
		t.Fatal("expected error passive, got", c.State())
	}
	frame := recvFrame(t, sock)
	if frame.Data[1] != CAN_ERR_CRTL_RX_PASSIVE|CAN_ERR_CRTL_TX_PASSIVE {
		t.Fatal("unexpected passive detail", frame.Data[1])
	}
}

func TestBusOffTeardownAndRestart(t *testing.T) {
	c, sim, sock := newTestController(t)

	for i := 0; i < msgObjTxNum; i++ {
		if err := c.AcquireTx(0); err != nil {
			t.Fatal(err)
		}
	}
	errs := make(chan error, 1)
	go func() {
		errs <- c.AcquireTx(-1)
	}()
	time.Sleep(10 * time.Millisecond)

	sim.SetErrorCounters(255, 0, false)
	sim.RaiseStatus(statusBoff | statusEPass | statusEWarn)
	sim.Fire()

	if c.State() != StateBusOff {
		t.Fatal("expected bus off, got", c.State())
	}
	select {
	case err := <-errs:
		if err != ErrTxAbandoned {
			t.Fatal("expected abandoned waiter, got", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not abandoned on bus off")
	}

	// warning and passive edges fire before bus off wins
	for i := 0; i < 2; i++ {
		if recvFrame(t, sock).ID != CAN_ERR_FLAG|CAN_ERR_CRTL {
			t.Fatal("expected controller event", i)
		}
	}
	frame := recvFrame(t, sock)
	if frame.ID != CAN_ERR_FLAG|CAN_ERR_BUSOFF {
		t.Fatalf("expected bus off event, got id %x", frame.ID)
	}

	// recovery: the chip rejoins the bus and the admission window reopens
	sim.ClearStatus(statusBoff | statusEPass | statusEWarn)
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateErrorActive {
		t.Fatal("expected error active after restart, got", c.State())
	}
	if err := c.AcquireTx(0); err != nil {
		t.Fatal("window closed after restart:", err)
	}
}

func TestBusErrorEvents(t *testing.T) {
	_, sim, sock := newTestController(t)

	sim.SetLastError(lecAckError)
	sim.Fire()
	frame := recvFrame(t, sock)
	if frame.ID != CAN_ERR_FLAG|CAN_ERR_PROT|CAN_ERR_BUSERROR {
		t.Fatalf("unexpected event id %x", frame.ID)
	}
	if frame.Data[3] != CAN_ERR_PROT_LOC_ACK|CAN_ERR_PROT_LOC_ACK_DEL {
		t.Fatal("expected ack location, got", frame.Data[3])
	}

	// the sentinel must be written back as acknowledgement
	sim.mu.Lock()
	if sim.status&lecUnused != lecUnused {
		t.Fatal("lec sentinel not restored")
	}
	sim.mu.Unlock()

	sim.SetLastError(lecStuffError)
	sim.Fire()
	frame = recvFrame(t, sock)
	if frame.Data[2]&CAN_ERR_PROT_STUFF == 0 {
		t.Fatal("expected stuff violation, got", frame.Data[2])
	}
}

func TestStaleLECIsSilent(t *testing.T) {
	_, sim, sock := newTestController(t)

	// a status interrupt with the sentinel in place reports nothing
	sim.RaiseStatus(0)
	sim.Fire()

	select {
	case frame := <-sock.Frames():
		t.Fatalf("unexpected event id %x", frame.ID)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRecoveryEdges(t *testing.T) {
	c, sim, sock := newTestController(t)

	sim.RaiseStatus(statusEWarn)
	sim.Fire()
	if c.State() != StateErrorWarning {
		t.Fatal("expected warning")
	}

	// clearing the warning flag alone does not transition back
	sim.ClearStatus(statusEWarn)
	sim.Fire()
	if c.State() != StateErrorWarning {
		t.Fatal("warning clear must be silent, got", c.State())
	}

	sim.RaiseStatus(statusEPass)
	sim.Fire()
	if c.State() != StateErrorPassive {
		t.Fatal("expected passive")
	}
	sim.ClearStatus(statusEPass)
	sim.Fire()
	if c.State() != StateErrorActive {
		t.Fatal("expected recovery to error active, got", c.State())
	}

	// two transitions, two events, recoveries are silent
	recvFrame(t, sock)
	recvFrame(t, sock)
	select {
	case frame := <-sock.Frames():
		t.Fatalf("unexpected event id %x", frame.ID)
	case <-time.After(20 * time.Millisecond):
	}
}
