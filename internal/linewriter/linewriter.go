// Package linewriter decouples the acquisition loop from the latency of the
// output stream: lines are queued on a channel and written by a background
// goroutine, so a slow terminal or pipe does not delay the next buffer poll.
package linewriter

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"
)

// Writer queues writes and flushes the underlying stream periodically. The
// first write error is latched and reported by every later Write, Flush, and
// Close, because once the output stream has failed the run must end.
type Writer struct {
	out      *bufio.Writer
	lines    chan []byte
	flushReq chan chan error
	done     chan struct{}

	mu      sync.Mutex
	lastErr error
}

// New wraps w. depth is how many pending lines the queue holds before Write
// reports back-pressure; interval is how often the stream is flushed.
func New(w io.Writer, depth int, interval time.Duration) *Writer {
	lw := &Writer{
		out:      bufio.NewWriter(w),
		lines:    make(chan []byte, depth),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
	}
	go lw.run(interval)
	return lw
}

func (lw *Writer) setErr(err error) {
	lw.mu.Lock()
	if lw.lastErr == nil {
		lw.lastErr = err
	}
	lw.mu.Unlock()
}

// Err reports the first error the background writer hit, if any.
func (lw *Writer) Err() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.lastErr
}

// Write queues p. The slice is copied; callers may reuse it. A full queue is
// an error: it means the consumer of our output has stalled.
func (lw *Writer) Write(p []byte) (int, error) {
	if err := lw.Err(); err != nil {
		return 0, err
	}
	line := make([]byte, len(p))
	copy(line, p)
	select {
	case lw.lines <- line:
		return len(p), nil
	default:
		err := fmt.Errorf("output queue full (%d lines pending)", cap(lw.lines))
		lw.setErr(err)
		return 0, err
	}
}

// Flush drains the queue and flushes the stream, returning any write error.
func (lw *Writer) Flush() error {
	reply := make(chan error, 1)
	select {
	case lw.flushReq <- reply:
		return <-reply
	case <-lw.done:
		return lw.Err()
	}
}

// Close flushes and stops the background goroutine. Write and Flush must not
// be called afterwards.
func (lw *Writer) Close() error {
	err := lw.Flush()
	close(lw.lines)
	<-lw.done
	if err != nil {
		return err
	}
	return lw.Err()
}

func (lw *Writer) run(interval time.Duration) {
	defer close(lw.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-lw.lines:
			if !ok {
				if err := lw.out.Flush(); err != nil {
					lw.setErr(err)
				}
				return
			}
			if _, err := lw.out.Write(line); err != nil {
				lw.setErr(err)
			}

		case reply := <-lw.flushReq:
			lw.drain()
			if err := lw.out.Flush(); err != nil {
				lw.setErr(err)
			}
			reply <- lw.Err()

		case <-ticker.C:
			if err := lw.out.Flush(); err != nil {
				lw.setErr(err)
			}
		}
	}
}

// drain empties the queue into the bufio writer without blocking.
func (lw *Writer) drain() {
	for {
		select {
		case line, ok := <-lw.lines:
			if !ok {
				return
			}
			if _, err := lw.out.Write(line); err != nil {
				lw.setErr(err)
			}
		default:
			return
		}
	}
}
