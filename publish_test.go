package daq

import (
	"fmt"
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"
)

func TestPubSinkMessages(t *testing.T) {
	const port = 42510
	sink, err := NewPubSink(port, "RUN01")
	if err != nil {
		t.Fatalf("could not bind PUB socket: %v", err)
	}
	defer sink.Close()

	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	if err := sub.Connect(fmt.Sprintf("tcp://localhost:%d", port)); err != nil {
		t.Fatal(err)
	}
	sub.SetSubscribe("")
	sub.SetRcvtimeo(2 * time.Second)

	// Give the subscription time to propagate, or the PUB side drops the
	// first messages on the floor.
	time.Sleep(200 * time.Millisecond)

	base := time.Unix(1000, 0)
	if err := sink.Start(base); err != nil {
		t.Fatal(err)
	}
	if err := sink.Emit(Row{Elapsed: 0.001, Values: []float64{1.5, -2}}); err != nil {
		t.Fatal(err)
	}

	msg, err := sub.RecvMessage(0)
	if err != nil {
		t.Fatalf("no start message: %v", err)
	}
	if len(msg) != 2 || msg[0] != "start" {
		t.Fatalf("start message = %v", msg)
	}
	want := fmt.Sprintf("RUN01 %d", base.UnixNano())
	if msg[1] != want {
		t.Errorf("start payload = %q, want %q", msg[1], want)
	}

	msg, err = sub.RecvMessage(0)
	if err != nil {
		t.Fatalf("no row message: %v", err)
	}
	if len(msg) != 2 || msg[0] != "row" {
		t.Fatalf("row message = %v", msg)
	}
	if msg[1] != "0.0010000 1.500000 -2.000000" {
		t.Errorf("row payload = %q", msg[1])
	}
}
