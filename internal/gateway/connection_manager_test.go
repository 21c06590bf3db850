package gateway

import (
	"fmt"
	"sync"
	"testing"
)

func TestTrySendAfterCloseDoesNotPanic(t *testing.T) {
	conn := &Connection{ID: "c1", Send: make(chan []byte, 1)}

	if !conn.trySend([]byte("a")) {
		t.Fatal("send into empty buffer failed")
	}
	if conn.trySend([]byte("b")) {
		t.Error("send into full buffer reported success")
	}

	conn.closeSend()
	conn.closeSend() // idempotent

	if conn.trySend([]byte("c")) {
		t.Error("send after close reported success")
	}
	if got, ok := <-conn.Send; !ok || string(got) != "a" {
		t.Errorf("drained %q, %v; want \"a\", true", got, ok)
	}
	if _, ok := <-conn.Send; ok {
		t.Error("channel still open after closeSend")
	}
}

// A broadcast landing between a connection's removal from its pool and
// the close of its send channel must not panic the broadcast goroutine.
func TestConcurrentSendAndCloseIsSafe(t *testing.T) {
	for i := 0; i < 200; i++ {
		conn := &Connection{ID: "c1", Send: make(chan []byte, 4)}
		drained := make(chan struct{})
		go func() {
			for range conn.Send {
			}
			close(drained)
		}()

		var wg sync.WaitGroup
		for s := 0; s < 4; s++ {
			wg.Add(1)
			go func(s int) {
				defer wg.Done()
				conn.trySend([]byte(fmt.Sprintf("frame-%d", s)))
			}(s)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.closeSend()
		}()
		wg.Wait()
		<-drained
	}
}
