package main

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestServeEndsStreamingRequestsOnShutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event:heartbeat\ndata:{}\n\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, listener, handler, 5*time.Second)
	}()

	response, err := http.Get("http://" + listener.Addr().String() + "/admin/events")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer response.Body.Close()
	if _, err := bufio.NewReader(response.Body).ReadString('\n'); err != nil {
		t.Fatalf("failed to read first event: %v", err)
	}

	started := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
		if elapsed := time.Since(started); elapsed > 2*time.Second {
			t.Fatalf("shutdown waited %s for the open stream", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down while a stream was open")
	}
}
