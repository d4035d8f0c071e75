package vm

import (
	"sync"
	"testing"

	"github.com/chazu/ember/pkg/term"
)

func TestSignalQueueFIFO(t *testing.T) {
	q := NewSignalQueue()
	for i := 0; i < 5; i++ {
		q.SendExternal(MessageSignal{From: 1, Value: term.Int(i)})
	}
	for i := 0; i < 5; i++ {
		sig, ok := q.Receive()
		if !ok {
			t.Fatalf("Receive %d failed", i)
		}
		if v := sig.(MessageSignal).Value; !term.Equal(v, term.Int(i)) {
			t.Errorf("message %d = %v", i, v)
		}
	}
	if _, ok := q.Receive(); ok {
		t.Error("queue should be empty")
	}
}

func TestSignalQueueHasMessages(t *testing.T) {
	q := NewSignalQueue()
	if q.HasMessages() {
		t.Error("new queue has messages")
	}
	q.SendExternal(LinkSignal{From: 2})
	q.SendExternal(LinkSignal{From: 3})
	if !q.HasMessages() {
		t.Error("external signal not visible")
	}
	q.Receive()
	if !q.HasMessages() {
		t.Error("internal signal not visible")
	}
	q.Receive()
	if q.HasMessages() {
		t.Error("drained queue has messages")
	}
}

func TestSignalQueueConcurrentSendersKeepOrder(t *testing.T) {
	q := NewSignalQueue()
	const n = 100
	senders := []PID{10, 20}

	var wg sync.WaitGroup
	for _, from := range senders {
		wg.Add(1)
		go func(from PID) {
			defer wg.Done()
			for i := 1; i <= n; i++ {
				q.SendExternal(MessageSignal{From: from, Value: term.Int(i)})
			}
		}(from)
	}

	got := make(map[PID][]int)
	received := 0
	for received < 2*n {
		sig, ok := q.Receive()
		if !ok {
			continue
		}
		m := sig.(MessageSignal)
		got[m.From] = append(got[m.From], int(m.Value.(term.Int)))
		received++
	}
	wg.Wait()

	for _, from := range senders {
		seq := got[from]
		if len(seq) != n {
			t.Fatalf("sender %d: got %d messages, want %d", from, len(seq), n)
		}
		for i, v := range seq {
			if v != i+1 {
				t.Fatalf("sender %d: position %d = %d, want %d", from, i, v, i+1)
			}
		}
	}
}

func TestSignalQueueClose(t *testing.T) {
	q := NewSignalQueue()
	q.SendExternal(MessageSignal{From: 1, Value: term.Int(1)})
	q.SendExternal(MessageSignal{From: 1, Value: term.Int(2)})
	q.Receive()
	q.SendExternal(MessageSignal{From: 1, Value: term.Int(3)})
	q.SendExternal(MessageSignal{From: 1, Value: term.Int(4)})
	q.Receive()

	left := q.Close()
	if len(left) != 2 {
		t.Fatalf("Close returned %d signals, want 2", len(left))
	}
	if v := left[0].(MessageSignal).Value; !term.Equal(v, term.Int(3)) {
		t.Errorf("first leftover = %v, want 3", v)
	}
	if q.SendExternal(LinkSignal{From: 1}) {
		t.Error("SendExternal should fail after Close")
	}
}
