package ccan

import (
	"sync"
	"sync/atomic"

	"github.com/brutella/can"
	log "github.com/sirupsen/logrus"
)

// Dispatcher is the delivery collaborator between one or more controllers
// and the sockets consuming frames. Delivery happens from interrupt passes
// under two dispatcher-wide locks, taken at most once per pass: the receive
// list lock guarding the socket set and the socket lock guarding the socket
// queues. The lock order (controller lock outside, dispatcher locks inside)
// must hold everywhere to stay deadlock free against Stop.
type Dispatcher struct {
	recvListLock sync.Mutex
	socketLock   sync.Mutex

	sockets []*Socket

	lbMu      sync.Mutex
	lbEnabled bool
	lbPending []can.Frame
}

// Socket is one subscribed consumer with an identifier filter and a bounded
// delivery queue. Frames not matching (id ^ ident) & mask == 0 are skipped;
// error events carry CAN_ERR_FLAG in the identifier.
type Socket struct {
	ident  uint32
	mask   uint32
	queue  chan can.Frame
	missed uint32
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a socket matching (id ^ ident) & mask == 0 with the
// given queue depth.
func (d *Dispatcher) Subscribe(ident uint32, mask uint32, depth int) *Socket {
	s := &Socket{ident: ident, mask: mask, queue: make(chan can.Frame, depth)}
	d.recvListLock.Lock()
	d.sockets = append(d.sockets, s)
	d.recvListLock.Unlock()
	return s
}

// SubscribeAll registers a socket receiving every frame and error event.
func (d *Dispatcher) SubscribeAll(depth int) *Socket {
	return d.Subscribe(0, 0, depth)
}

// Unsubscribe removes a socket and closes its queue.
func (d *Dispatcher) Unsubscribe(s *Socket) {
	d.recvListLock.Lock()
	defer d.recvListLock.Unlock()
	for i, cur := range d.sockets {
		if cur == s {
			d.sockets = append(d.sockets[:i], d.sockets[i+1:]...)
			close(s.queue)
			return
		}
	}
}

// Frames is the socket's delivery queue.
func (s *Socket) Frames() <-chan can.Frame {
	return s.queue
}

// Missed returns the number of frames dropped because the queue was full.
// Safe to call while deliveries are in flight.
func (s *Socket) Missed() uint32 {
	return atomic.LoadUint32(&s.missed)
}

// lockDelivery takes both dispatcher locks in their fixed order.
func (d *Dispatcher) lockDelivery() {
	d.recvListLock.Lock()
	d.socketLock.Lock()
}

func (d *Dispatcher) unlockDelivery() {
	d.socketLock.Unlock()
	d.recvListLock.Unlock()
}

// deliverLocked hands a frame to every matching socket. Both dispatcher
// locks must be held. A full socket queue drops the frame.
func (d *Dispatcher) deliverLocked(frame can.Frame) {
	for _, s := range d.sockets {
		if (frame.ID^s.ident)&s.mask != 0 {
			continue
		}
		select {
		case s.queue <- frame:
		default:
			atomic.AddUint32(&s.missed, 1)
			log.Debugf("[DISPATCH] socket queue full, dropped frame id %x", frame.ID)
		}
	}
}

// SetLoopback enables echoing submitted frames back through the dispatcher
// once their transmission completes.
func (d *Dispatcher) SetLoopback(enable bool) {
	d.lbMu.Lock()
	d.lbEnabled = enable
	if !enable {
		d.lbPending = nil
	}
	d.lbMu.Unlock()
}

func (d *Dispatcher) LoopbackEnabled() bool {
	d.lbMu.Lock()
	defer d.lbMu.Unlock()
	return d.lbEnabled
}

func (d *Dispatcher) queueLoopback(frame can.Frame) {
	d.lbMu.Lock()
	d.lbPending = append(d.lbPending, frame)
	d.lbMu.Unlock()
}

// loopbackPending reports whether submitted frames are awaiting echo.
func (d *Dispatcher) loopbackPending() bool {
	d.lbMu.Lock()
	defer d.lbMu.Unlock()
	return len(d.lbPending) > 0
}

// loopbackDeliver echoes all pending frames. Dispatcher locks must be held.
func (d *Dispatcher) loopbackDeliver() {
	d.lbMu.Lock()
	pending := d.lbPending
	d.lbPending = nil
	d.lbMu.Unlock()
	for _, frame := range pending {
		d.deliverLocked(frame)
	}
}
