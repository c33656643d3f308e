package main

import (
	"flag"
	"time"

	"github.com/brutella/can"
	"github.com/canhw/ccan"
	log "github.com/sirupsen/logrus"
)

// Runs a controller against the simulated device model: frames submitted on
// the transmit path are echoed back by the model and drained through the
// interrupt pipeline into a subscribed socket.
func main() {
	profilePath := flag.String("p", "", "controller profile (ini)")
	count := flag.Int("n", 4, "number of frames to send")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	profile := &ccan.Profile{
		Variant:   ccan.BoschCCan,
		Alignment: ccan.Aligned16,
		Timing:    ccan.BitTiming{SJW: 2, PropSeg: 2, PhaseSeg1: 6, PhaseSeg2: 4, BRP: 10},
		HasTiming: true,
	}
	if *profilePath != "" {
		var err error
		profile, err = ccan.LoadProfile(*profilePath)
		if err != nil {
			panic(err)
		}
	}

	sim := ccan.NewSimDeviceAligned(profile.Variant, profile.Alignment)
	dispatch := ccan.NewDispatcher()
	opts := append(profile.Options(), ccan.WithDispatcher(dispatch))
	ctrl := ccan.NewController(sim, profile.Variant, profile.Alignment, sim, opts...)

	// the model acknowledges transmissions and echoes them onto the bus
	sim.OnTransmit = func(objno int, frame can.Frame) {
		go func() {
			sim.CompleteTx(objno)
			sim.DeliverFrame(frame)
			for sim.Fire() {
			}
		}()
	}

	if profile.HasTiming {
		if err := ctrl.ConfigureBitTiming(profile.Timing); err != nil {
			panic(err)
		}
	}
	if err := ctrl.Start(); err != nil {
		panic(err)
	}
	defer ctrl.Stop()

	socket := dispatch.SubscribeAll(16)
	defer dispatch.Unsubscribe(socket)

	for i := 0; i < *count; i++ {
		if err := ctrl.AcquireTx(time.Second); err != nil {
			panic(err)
		}
		frame := can.Frame{ID: 0x123, Length: 2, Data: [8]byte{byte(i), 0xAB}}
		if err := ctrl.Submit(frame); err != nil {
			panic(err)
		}
	}

	for i := 0; i < *count; i++ {
		select {
		case frame := <-socket.Frames():
			log.Infof("received id=%03x dlc=%d data=% x", frame.ID, frame.Length, frame.Data[:frame.Length])
		case <-time.After(time.Second):
			log.Errorf("timed out waiting for frame %d", i)
			return
		}
	}
}
