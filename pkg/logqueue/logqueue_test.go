package logqueue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func collect() (Sink, func() []string) {
	var mu sync.Mutex
	var lines []string
	sink := func(line string) error {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
		return nil
	}
	return sink, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

func TestLineWriter_OnlyCompleteLines(t *testing.T) {
	sink, lines := collect()
	w := NewLineWriter(sink)

	fmt.Fprint(w, "A\nB")
	if got := lines(); len(got) != 1 || got[0] != "A" {
		t.Fatalf("expected [A] after first write, got %v", got)
	}

	fmt.Fprint(w, "\nC\nD")
	want := []string{"A", "B", "C"}
	if got := lines(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	want = append(want, "D")
	if got := lines(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v after flush, got %v", want, got)
	}
}

func TestLineWriter_Timestamp(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 30, 45, 0, time.Local) }

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain line", input: "server starting\n", want: "2026-03-01 12:30:45 - server starting"},
		{name: "already dated", input: "2025-01-01 00:00:00 - old\n", want: "2025-01-01 00:00:00 - old"},
		{name: "nineteen hundreds", input: "1999 party\n", want: "1999 party"},
		{name: "crlf", input: "windows\r\n", want: "2026-03-01 12:30:45 - windows"},
		{name: "slog text", input: "time=2026-03-01T12:30:44Z level=INFO msg=ready\n", want: "time=2026-03-01T12:30:44Z level=INFO msg=ready"},
		{name: "slog json", input: `{"time":"2026-03-01T12:30:44Z","msg":"ready"}` + "\n", want: `{"time":"2026-03-01T12:30:44Z","msg":"ready"}`},
		{name: "time word in message", input: "timeout waiting\n", want: "2026-03-01 12:30:45 - timeout waiting"},
		{name: "empty line", input: "\n", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, lines := collect()
			w := NewLineWriter(sink, WithTimestamp(), WithClock(clock))
			io.WriteString(w, tt.input)

			got := lines()
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("expected [%q], got %q", tt.want, got)
			}
		})
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(10)
	ctx := context.Background()

	for _, line := range []string{"A", "B", "C"} {
		if err := q.Put(ctx, line); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	q.Close()

	for _, want := range []string{"A", "B", "C"} {
		got, err := q.Get(ctx, time.Second)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}

	if _, err := q.Get(ctx, time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after drain, got %v", err)
	}
	if err := q.Put(ctx, "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on Put after Close, got %v", err)
	}
	q.Close()
}

func TestQueue_Bounded(t *testing.T) {
	q := NewQueue(1)
	if err := q.Put(context.Background(), "first"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.Put(ctx, "second"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded on full queue, got %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("expected length 1, got %d", q.Len())
	}
}

func TestQueue_GetTimeout(t *testing.T) {
	q := NewQueue(0)
	if _, err := q.Get(context.Background(), 10*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestPumpAndListen(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()

	var out bytes.Buffer
	listenDone := make(chan error, 1)
	go func() {
		listenDone <- Listen(ctx, q, &out, 10*time.Millisecond)
	}()

	stdout := NewLineWriter(q.Sink(ctx))
	if err := Pump(strings.NewReader("one\ntwo\nthree"), stdout); err != nil {
		t.Fatalf("Pump: %v", err)
	}
	q.Close()

	select {
	case err := <-listenDone:
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not exit after close")
	}

	if want := "one\ntwo\nthree\n"; out.String() != want {
		t.Errorf("expected %q, got %q", want, out.String())
	}
}

func TestListen_ContextCancelled(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Listen(ctx, q, io.Discard, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLineWriter_ConcurrentWritersKeepLinesWhole(t *testing.T) {
	sink, lines := collect()
	w := NewLineWriter(sink)

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				fmt.Fprintf(w, "writer=%d seq=%d\n", id, j)
			}
		}(i)
	}
	wg.Wait()

	got := lines()
	if len(got) != writers*perWriter {
		t.Fatalf("expected %d lines, got %d", writers*perWriter, len(got))
	}

	next := make(map[int]int)
	for _, line := range got {
		var id, seq int
		if _, err := fmt.Sscanf(line, "writer=%d seq=%d", &id, &seq); err != nil {
			t.Fatalf("torn line %q", line)
		}
		if seq != next[id] {
			t.Fatalf("writer %d: expected seq %d, got %d", id, next[id], seq)
		}
		next[id]++
	}
}
