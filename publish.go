package daq

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// PubSink publishes each aggregated row on a ZMQ PUB socket so live clients
// (plotters, loggers) can watch a run without touching the output stream.
// Messages are two frames: the topic "row", then the timestamp and values as
// plain space-separated decimals (same precision as the text output, without
// its column padding). A "start" message with the run id and timestamp base
// goes out first so subscribers can reconstruct absolute times.
type PubSink struct {
	socket *zmq.Socket
	runID  string
}

// NewPubSink binds a PUB socket on the given TCP port.
func NewPubSink(port int, runID string) (*PubSink, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("creating PUB socket: %w", err)
	}
	if err := socket.Bind(fmt.Sprintf("tcp://*:%d", port)); err != nil {
		socket.Close()
		return nil, fmt.Errorf("binding PUB socket on port %d: %w", port, err)
	}
	return &PubSink{socket: socket, runID: runID}, nil
}

func (s *PubSink) Start(base time.Time) error {
	msg := fmt.Sprintf("%s %d", s.runID, base.UnixNano())
	if _, err := s.socket.SendMessage("start", msg); err != nil {
		return fmt.Errorf("publishing start message: %w", err)
	}
	return nil
}

func (s *PubSink) Emit(row Row) error {
	var b strings.Builder
	b.WriteString(strconv.FormatFloat(row.Elapsed, 'f', 7, 64))
	for _, v := range row.Values {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
	}
	if _, err := s.socket.SendMessage("row", b.String()); err != nil {
		return fmt.Errorf("publishing row: %w", err)
	}
	return nil
}

func (s *PubSink) Close() error {
	s.socket.SendMessage("end", s.runID)
	return s.socket.Close()
}
