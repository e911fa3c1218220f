package mqtt

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBufferRecordAndMessages(t *testing.T) {
	b := NewBuffer(3)

	for i := 0; i < 5; i++ {
		b.Record(Message{
			Topic:      "sensors/temp",
			Payload:    fmt.Sprintf("%d", i),
			ReceivedAt: time.Now(),
		})
	}

	msgs := b.Messages("sensors/temp")
	if len(msgs) != 3 {
		t.Fatalf("retained %d messages, want 3", len(msgs))
	}
	want := []string{"2", "3", "4"}
	for i, w := range want {
		if msgs[i].Payload != w {
			t.Errorf("msgs[%d].Payload = %q, want %q", i, msgs[i].Payload, w)
		}
	}
}

func TestBufferSeparatesTopics(t *testing.T) {
	b := NewBuffer(4)
	b.Record(Message{Topic: "a", Payload: "1"})
	b.Record(Message{Topic: "b", Payload: "2"})

	if got := len(b.Messages("a")); got != 1 {
		t.Errorf("topic a retained %d, want 1", got)
	}
	if got := len(b.Messages("b")); got != 1 {
		t.Errorf("topic b retained %d, want 1", got)
	}
	if got := len(b.Messages("c")); got != 0 {
		t.Errorf("unknown topic retained %d, want 0", got)
	}

	topics := b.Topics()
	if len(topics) != 2 || topics[0] != "a" || topics[1] != "b" {
		t.Errorf("Topics() = %v, want [a b]", topics)
	}
}

func TestBufferMessagesReturnsCopy(t *testing.T) {
	b := NewBuffer(4)
	b.Record(Message{Topic: "a", Payload: "original"})

	msgs := b.Messages("a")
	msgs[0].Payload = "mutated"

	if got := b.Messages("a")[0].Payload; got != "original" {
		t.Errorf("payload = %q, mutation leaked into buffer", got)
	}
}

func TestBufferDefaultCapacity(t *testing.T) {
	b := NewBuffer(0)
	for i := 0; i < DefaultBufferSize+5; i++ {
		b.Record(Message{Topic: "t", Payload: fmt.Sprintf("%d", i)})
	}
	if got := len(b.Messages("t")); got != DefaultBufferSize {
		t.Errorf("retained %d, want %d", got, DefaultBufferSize)
	}
}

func TestBufferConcurrentRecord(t *testing.T) {
	b := NewBuffer(8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Record(Message{Topic: "t", Payload: fmt.Sprintf("%d", i)})
			b.Messages("t")
			b.Topics()
		}(i)
	}
	wg.Wait()

	if got := len(b.Messages("t")); got != 8 {
		t.Errorf("retained %d, want capacity 8", got)
	}
}

func TestConnectValidation(t *testing.T) {
	if _, err := Connect(Options{}); err == nil {
		t.Error("Connect() without broker URL should fail")
	}
}
