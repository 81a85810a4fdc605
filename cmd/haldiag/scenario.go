package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mcuhal-go/dma"
	"mcuhal-go/platform"
	"mcuhal-go/serialio"
	"mcuhal-go/uart"
)

// Scenario is one named diagnostic run against the simulated board.
type Scenario struct {
	Name    string `yaml:"name"`
	Mode    string `yaml:"mode"` // blocking | interrupt | dma | abort-storm
	Baud    uint32 `yaml:"baud"`
	Payload string `yaml:"payload"`
	// Repeat reruns the scenario body; abort-storm uses it for the
	// start/abort cycle count.
	Repeat int `yaml:"repeat"`
	// AbortAfterMs delays the abort in abort-storm runs.
	AbortAfterMs int `yaml:"abort_after_ms"`
}

type scenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

func loadScenarios(path string) ([]Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f scenarioFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f.Scenarios, nil
}

func builtinScenarios() []Scenario {
	return []Scenario{
		{Name: "blocking-loopback", Mode: "blocking", Baud: 115200, Payload: "blocking loopback"},
		{Name: "interrupt-loopback", Mode: "interrupt", Baud: 115200, Payload: "interrupt loopback"},
		{Name: "dma-loopback", Mode: "dma", Baud: 115200, Payload: "dma loopback"},
		{Name: "abort-storm", Mode: "abort-storm", Baud: 115200, Repeat: 10, AbortAfterMs: 2},
	}
}

func findBuiltin(name string) (Scenario, bool) {
	for _, s := range builtinScenarios() {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

// rig is a fresh wired pair on a fresh board.
type rig struct {
	board  *platform.Board
	pa, pb *platform.SimPort
	tx, rx *uart.Handle
}

func newRig(baud uint32) (*rig, error) {
	if baud == 0 {
		baud = 115200
	}
	r := &rig{board: platform.NewBoard()}
	r.pa, r.pb = platform.NewPair(r.board.Clocks)
	cfg := uart.Config{BaudRate: baud, Mode: uart.ModeTxRx}
	r.tx = &uart.Handle{Port: r.pa, Config: cfg}
	r.rx = &uart.Handle{Port: r.pb, Config: cfg}
	if err := r.tx.Init(); err != nil {
		return nil, fmt.Errorf("init tx: %w", err)
	}
	if err := r.rx.Init(); err != nil {
		return nil, fmt.Errorf("init rx: %w", err)
	}
	r.board.AttachUART(r.tx, r.pa)
	r.board.AttachUART(r.rx, r.pb)
	return r, nil
}

func runScenario(s Scenario, verbose bool) error {
	repeat := s.Repeat
	if repeat <= 0 {
		repeat = 1
	}
	for i := 0; i < repeat; i++ {
		var err error
		switch s.Mode {
		case "blocking":
			err = runLoopback(s, false)
		case "interrupt":
			err = runLoopback(s, true)
		case "dma":
			err = runDMA(s)
		case "abort-storm":
			err = runAbortCycle(s)
		default:
			return fmt.Errorf("scenario %q: unknown mode %q", s.Name, s.Mode)
		}
		if err != nil {
			return fmt.Errorf("scenario %q (iteration %d): %w", s.Name, i+1, err)
		}
		if verbose {
			fmt.Printf("  iteration %d ok\n", i+1)
		}
	}
	return nil
}

// runLoopback pushes the payload across the pair one frame at a time
// and checks the echo, using the blocking or interrupt-driven path.
func runLoopback(s Scenario, interrupt bool) error {
	r, err := newRig(s.Baud)
	if err != nil {
		return err
	}
	stream, err := serialio.New(r.rx, 256)
	if err != nil {
		return err
	}

	for _, c := range []byte(s.Payload) {
		if interrupt {
			done := false
			r.tx.RegisterCallback(uart.CallbackTxComplete, func(*uart.Handle) { done = true })
			if err := r.tx.TransmitAsync([]byte{c}); err != nil {
				return err
			}
			for !done {
				if r.board.Pump(10) == 0 {
					return fmt.Errorf("interrupt transmit stalled")
				}
			}
			r.tx.UnregisterCallback(uart.CallbackTxComplete)
		} else {
			if err := r.tx.Transmit([]byte{c}, time.Second); err != nil {
				return err
			}
			r.board.Pump(10)
		}
	}

	got := make([]byte, len(s.Payload))
	if n := stream.TryRead(got); n != len(s.Payload) {
		return fmt.Errorf("echoed %d bytes, want %d", n, len(s.Payload))
	}
	if string(got) != s.Payload {
		return fmt.Errorf("echoed %q, want %q", got, s.Payload)
	}
	return nil
}

// runDMA sends the payload through a simulated DMA channel and pumps
// the dispatch until the completion callback lands.
func runDMA(s Scenario) error {
	r, err := newRig(s.Baud)
	if err != nil {
		return err
	}
	stream, err := serialio.New(r.rx, 256)
	if err != nil {
		return err
	}
	r.tx.DMATx = &dma.Channel{
		Mover:     &platform.SimMover{Port: r.pa},
		Direction: dma.MemToPeriph,
	}

	done := make(chan struct{})
	r.tx.RegisterCallback(uart.CallbackTxComplete, func(*uart.Handle) { close(done) })
	if err := r.tx.TransmitDMA([]byte(s.Payload)); err != nil {
		return err
	}

	deadline := time.After(5 * time.Second)
	for {
		r.board.Pump(10)
		select {
		case <-done:
			got := make([]byte, len(s.Payload))
			if n := stream.TryRead(got); n != len(s.Payload) || string(got) != s.Payload {
				return fmt.Errorf("echoed %q (%d bytes), want %q", got[:n], n, s.Payload)
			}
			return nil
		case <-deadline:
			return fmt.Errorf("dma transfer never completed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

// runAbortCycle starts a long DMA transmit and aborts it mid-flight,
// verifying the handle converges back to Ready every time.
func runAbortCycle(s Scenario) error {
	r, err := newRig(s.Baud)
	if err != nil {
		return err
	}
	r.tx.DMATx = &dma.Channel{
		Mover:     &platform.SimMover{Port: r.pa, Pace: time.Millisecond},
		Direction: dma.MemToPeriph,
	}

	done := make(chan struct{})
	r.tx.RegisterCallback(uart.CallbackAbortComplete, func(*uart.Handle) { close(done) })
	if err := r.tx.TransmitDMA(make([]byte, 4096)); err != nil {
		return err
	}
	time.Sleep(time.Duration(s.AbortAfterMs) * time.Millisecond)
	if err := r.tx.AbortAsync(); err != nil {
		return err
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("abort never completed")
	}
	if txState, rxState := r.tx.State(); txState != uart.StateReady || rxState != uart.StateReady {
		return fmt.Errorf("states %s/%s after abort, want ready/ready", txState, rxState)
	}
	if e := r.tx.Err(); e != uart.ErrNone {
		return fmt.Errorf("error mask %s after abort, want none", e)
	}
	return nil
}
