package linewriter

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// syncBuffer lets the test read what the background goroutine wrote.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	err error
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWriterDeliversInOrder(t *testing.T) {
	var out syncBuffer
	w := New(&out, 16, time.Hour)

	for i := 0; i < 5; i++ {
		if _, err := fmt.Fprintf(w, "line %d\n", i); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	want := "line 0\nline 1\nline 2\nline 3\nline 4\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestWriterFlushMakesDataVisible(t *testing.T) {
	var out syncBuffer
	w := New(&out, 16, time.Hour)
	defer w.Close()

	w.Write([]byte("hello\n"))
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if out.String() != "hello\n" {
		t.Errorf("after Flush, output = %q", out.String())
	}
}

func TestWriterCopiesTheSlice(t *testing.T) {
	var out syncBuffer
	w := New(&out, 16, time.Hour)

	line := []byte("before\n")
	w.Write(line)
	copy(line, []byte("mangle!"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if out.String() != "before\n" {
		t.Errorf("output = %q: the queued slice was not copied", out.String())
	}
}

// blockedWriter stalls every Write until release is closed.
type blockedWriter struct {
	release chan struct{}
}

func (b *blockedWriter) Write(p []byte) (int, error) {
	<-b.release
	return len(p), nil
}

func TestWriterFullQueueFails(t *testing.T) {
	out := &blockedWriter{release: make(chan struct{})}
	w := New(out, 1, time.Hour)

	// Lines bigger than the bufio buffer write through to the stalled output,
	// so at most one line is in flight and one queued. The third write has
	// nowhere to go.
	big := bytes.Repeat([]byte("x"), 8192)
	var failed bool
	for i := 0; i < 3; i++ {
		if _, err := w.Write(big); err != nil {
			failed = true
			break
		}
	}
	if !failed {
		t.Error("three writes into a stalled depth-1 queue never reported back-pressure")
	}
	if w.Err() == nil {
		t.Error("the back-pressure error was not latched")
	}

	close(out.release)
	w.Close()
}

func TestWriterLatchesWriteError(t *testing.T) {
	boom := errors.New("downstream gone")
	out := &syncBuffer{err: boom}
	w := New(out, 16, time.Hour)

	w.Write([]byte("doomed\n"))
	if err := w.Flush(); !errors.Is(err, boom) {
		t.Fatalf("Flush returned %v, want the sink error", err)
	}
	if _, err := w.Write([]byte("more\n")); !errors.Is(err, boom) {
		t.Errorf("Write after failure returned %v, want the latched error", err)
	}
	if err := w.Close(); !errors.Is(err, boom) {
		t.Errorf("Close returned %v, want the latched error", err)
	}
}
