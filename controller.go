package ccan

import (
	"sync"
	"time"

	"github.com/brutella/can"
	log "github.com/sirupsen/logrus"
)

// OperatingState of a controller instance. Transitions happen only through
// the bus state machine and the mode controller.
type OperatingState uint8

const (
	StateStopped OperatingState = iota
	StateErrorActive
	StateErrorWarning
	StateErrorPassive
	StateBusOff
	StateSleeping
)

var stateNames = map[OperatingState]string{
	StateStopped:      "STOPPED",
	StateErrorActive:  "ERROR ACTIVE",
	StateErrorWarning: "ERROR WARNING",
	StateErrorPassive: "ERROR PASSIVE",
	StateBusOff:       "BUS OFF",
	StateSleeping:     "SLEEPING",
}

func (s OperatingState) String() string {
	name, ok := stateNames[s]
	if ok {
		return name
	}
	return "UNKNOWN"
}

// operating reports whether the controller participates in bus traffic.
func (s OperatingState) operating() bool {
	return s == StateErrorActive || s == StateErrorWarning || s == StateErrorPassive
}

// IRQLine is the host's interrupt registration mechanism, an external
// collaborator. The handler returns whether the interrupt was ours.
type IRQLine interface {
	Request(handler func() bool) error
	Free()
}

// Controller is the per-instance driver state. One Controller owns its
// register window exclusively; multiple instances can coexist, each with its
// own window and interrupt line.
type Controller struct {
	mu   sync.Mutex
	regs RegisterAccessor

	variant Variant
	irq     IRQLine

	state      OperatingState
	lastStatus uint16

	// dispatcher locks held for the remainder of the current pass
	passLocksHeld bool

	// tx ring sequence counters, see drainTx for the invariants
	txNext uint32
	txEcho uint32
	txSem  *txSemaphore

	bitTiming  BitTiming
	haveTiming bool

	loopback bool
	silent   bool
	raminit  func(enable bool)

	disp *Dispatcher
}

// Option configures a Controller at construction.
type Option func(*Controller)

// WithLoopback enables the controller loopback test mode.
func WithLoopback() Option {
	return func(c *Controller) { c.loopback = true }
}

// WithSilent enables the bus-monitoring (silent) test mode.
func WithSilent() Option {
	return func(c *Controller) { c.silent = true }
}

// WithRAMInit installs the platform hook toggling message RAM
// initialization. Not all platforms expose one.
func WithRAMInit(fn func(enable bool)) Option {
	return func(c *Controller) { c.raminit = fn }
}

// WithDispatcher attaches a shared frame dispatcher. Without one a private
// dispatcher is created.
func WithDispatcher(d *Dispatcher) Option {
	return func(c *Controller) { c.disp = d }
}

// NewController builds a controller handle over a register window. The
// controller starts in the Stopped state; Start arms it.
func NewController(win Window, variant Variant, alignment Alignment, irq IRQLine, opts ...Option) *Controller {
	c := &Controller{
		regs:    NewRegisterAccessor(win, variant, alignment),
		variant: variant,
		irq:     irq,
		state:   StateStopped,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.disp == nil {
		c.disp = NewDispatcher()
	}
	return c
}

// State returns the current operating state.
func (c *Controller) State() OperatingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dispatcher returns the frame dispatcher delivering received frames and
// error events.
func (c *Controller) Dispatcher() *Dispatcher {
	return c.disp
}

// AcquireTx blocks until one transmit admission unit is available, at most
// for the given timeout (negative blocks indefinitely). Must be called
// before Submit; the unit is consumed by the eventual completion drain.
func (c *Controller) AcquireTx(timeout time.Duration) error {
	c.mu.Lock()
	sem := c.txSem
	c.mu.Unlock()
	if sem == nil {
		return ErrInvalidState
	}
	return sem.Acquire(timeout)
}

// Submit places a frame into the next transmit ring slot. The caller must
// already hold a transmit admission unit; Submit itself never blocks.
func (c *Controller) Submit(frame can.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.operating() {
		return ErrNotOperating
	}

	objno := c.txNextMsgObj()
	c.writeMsgObject(ifacePort1, frame, objno)
	c.txNext++

	if c.disp.LoopbackEnabled() {
		c.disp.queueLoopback(frame)
	}
	log.Debugf("[CCAN] queued frame id %x in obj %v", frame.ID, objno)
	return nil
}
