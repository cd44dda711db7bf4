package shell

import (
	"bytes"
	"sync"
	"testing"
)

func TestForwardDeliversOutputThenExit(t *testing.T) {
	sh := &fakeShell{exitCode: 7}
	sh.feed([]byte("hello world"))

	var mu sync.Mutex
	var received bytes.Buffer
	exitCode := -1
	done := make(chan struct{})

	go func() {
		Forward(sh, func(chunk []byte) {
			mu.Lock()
			received.Write(chunk)
			mu.Unlock()
		}, func(code int) {
			exitCode = code
			close(done)
		})
	}()

	// Close the shell right away: fakeShell keeps returning the fed output
	// and only reports EOF (ending the read loop) once it has been drained.
	sh.Close()
	<-done

	mu.Lock()
	got := received.String()
	mu.Unlock()
	if got != "hello world" {
		t.Errorf("received = %q, want %q", got, "hello world")
	}
	if exitCode != 7 {
		t.Errorf("exitCode = %d, want 7", exitCode)
	}
}
