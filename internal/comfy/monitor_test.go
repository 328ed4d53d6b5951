package comfy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"easel/internal/comfy"
)

var upgrader = websocket.Upgrader{}

// wsServer stands up an httptest server whose /ws endpoint plays back the
// given frames, leaving other paths to handler.
func wsServer(t *testing.T, frames []string, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the connection open so the client decides when to stop.
		time.Sleep(time.Second)
	})
	if handler != nil {
		mux.HandleFunc("/", handler)
	}
	return httptest.NewServer(mux)
}

func TestWaitForPromptCompletes(t *testing.T) {
	frames := []string{
		`{"type":"status","data":{"status":{"exec_info":{"queue_remaining":1}}}}`,
		`{"type":"executing","data":{"node":"3","prompt_id":"p1"}}`,
		`{"type":"progress","data":{"value":10,"max":20,"prompt_id":"p1"}}`,
		`{"type":"executing","data":{"node":null,"prompt_id":"other"}}`,
		`{"type":"executing","data":{"node":null,"prompt_id":"p1"}}`,
	}
	server := wsServer(t, frames, nil)
	defer server.Close()

	var progress []comfy.Progress
	client := comfy.New(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.WaitForPrompt(ctx, "p1", func(p comfy.Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("WaitForPrompt: %v", err)
	}
	if len(progress) != 1 || progress[0].Value != 10 || progress[0].Max != 20 {
		t.Fatalf("progress = %+v", progress)
	}
}

func TestWaitForPromptExecutionError(t *testing.T) {
	frames := []string{
		`{"type":"execution_error","data":{"prompt_id":"p1","node_id":"7","node_type":"KSampler","exception_message":"CUDA out of memory","exception_type":"OutOfMemoryError"}}`,
	}
	server := wsServer(t, frames, nil)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := comfy.New(server.URL).WaitForPrompt(ctx, "p1", nil)
	execErr, ok := err.(*comfy.ExecutionError)
	if !ok {
		t.Fatalf("error = %v (%T), want *ExecutionError", err, err)
	}
	if execErr.NodeType != "KSampler" || execErr.Message != "CUDA out of memory" {
		t.Fatalf("execution error = %+v", execErr)
	}
}

func TestWaitForPromptIgnoresOtherPrompts(t *testing.T) {
	frames := []string{
		`{"type":"execution_error","data":{"prompt_id":"other","node_id":"7","node_type":"X","exception_message":"boom"}}`,
		`{"type":"executing","data":{"node":null,"prompt_id":"p1"}}`,
	}
	server := wsServer(t, frames, nil)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := comfy.New(server.URL).WaitForPrompt(ctx, "p1", nil); err != nil {
		t.Fatalf("WaitForPrompt: %v", err)
	}
}

func TestWaitForPromptReleasesReaderAfterCompletion(t *testing.T) {
	// The server keeps streaming frames past the terminal one; the
	// client's reader goroutine must exit with the watch rather than
	// sit blocked on an undelivered frame until the context dies.
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"executing","data":{"node":null,"prompt_id":"p1"}}`)); err != nil {
			return
		}
		for {
			frame := []byte(`{"type":"status","data":{"status":{"exec_info":{"queue_remaining":0}}}}`)
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	before := runtime.NumGoroutine()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := comfy.New(server.URL).WaitForPrompt(ctx, "p1", nil); err != nil {
		t.Fatalf("WaitForPrompt: %v", err)
	}

	// The context is still live here, so only the watch teardown can
	// release the reader.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("reader goroutine still running after prompt completed (%d > %d)", runtime.NumGoroutine(), before)
}

func TestWaitForPromptFallsBackToPolling(t *testing.T) {
	// No /ws endpoint at all; the client should exhaust reconnects and
	// find the finished prompt in history.
	mux := http.NewServeMux()
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"p1": {
				"outputs": {"9": {"images": [{"filename": "a.png", "subfolder": "", "type": "output"}]}},
				"status": {"status_str": "success", "completed": true}
			}
		}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := comfy.New(server.URL, comfy.WithReconnect(2, 5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.WaitForPrompt(ctx, "p1", nil); err != nil {
		t.Fatalf("WaitForPrompt: %v", err)
	}
}
