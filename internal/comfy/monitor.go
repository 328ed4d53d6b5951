package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"easel/internal/logging"
)

// Progress reports generation progress for the watched prompt.
type Progress struct {
	Value int
	Max   int
}

// ProgressFunc receives progress updates during WaitForPrompt.
type ProgressFunc func(Progress)

// WaitForPrompt blocks until the given prompt finishes executing. It
// watches the websocket for the "executing" message with a null node and
// matching prompt id, which the server sends exactly once per prompt. An
// execution_error message returns an *ExecutionError. Dropped connections
// are retried a bounded number of times; when reconnecting fails, the
// watch degrades to polling /history until ctx expires.
func (c *Client) WaitForPrompt(ctx context.Context, promptID string, onProgress ProgressFunc) error {
	attempts := 0
	for {
		conn, err := c.dialWebsocket(ctx)
		if err != nil {
			attempts++
			c.logger.Warn("websocket connect failed",
				logging.Error(err),
				logging.Int("attempt", attempts),
				logging.Int("max_attempts", c.reconnectAttempts))
			if attempts >= c.reconnectAttempts {
				c.logger.Warn("websocket unavailable, falling back to history polling",
					logging.String(logging.FieldPromptID, promptID))
				return c.pollUntilDone(ctx, promptID)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.reconnectDelay):
			}
			continue
		}

		done, err := c.watchConnection(ctx, conn, promptID, onProgress)
		conn.Close()
		if done || err != nil {
			return err
		}

		// Connection dropped mid-watch. The prompt may have finished
		// while we were disconnected, so check history before redialing.
		finished, herr := c.promptFinished(ctx, promptID)
		if herr == nil && finished {
			return nil
		}
		attempts++
		if attempts >= c.reconnectAttempts {
			return c.pollUntilDone(ctx, promptID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) dialWebsocket(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL+"/ws?clientId="+c.clientID, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return conn, nil
}

// watchConnection reads frames until the prompt completes, fails, or the
// connection drops. The second return is non-nil only for terminal
// outcomes; done=false with nil error means the connection dropped and
// the caller should reconnect.
func (c *Client) watchConnection(ctx context.Context, conn *websocket.Conn, promptID string, onProgress ProgressFunc) (bool, error) {
	readErr := make(chan error, 1)
	frames := make(chan []byte)
	// Closed on return so a reader mid-send exits with the watch instead
	// of hanging until ctx is cancelled.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			select {
			case frames <- data:
			case <-watchDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-readErr:
			c.logger.Debug("websocket read ended", logging.Error(err))
			return false, nil
		case data := <-frames:
			done, err := c.handleFrame(data, promptID, onProgress)
			if done || err != nil {
				return true, err
			}
		}
	}
}

func (c *Client) handleFrame(data []byte, promptID string, onProgress ProgressFunc) (bool, error) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("skipping unparseable websocket frame", logging.Error(err))
		return false, nil
	}

	switch msg.Type {
	case "executing":
		var exec wsExecutingData
		if err := json.Unmarshal(msg.Data, &exec); err != nil {
			return false, nil
		}
		if exec.Node == nil && exec.PromptID == promptID {
			return true, nil
		}
	case "progress":
		var prog wsProgressData
		if err := json.Unmarshal(msg.Data, &prog); err != nil {
			return false, nil
		}
		if onProgress != nil && (prog.PromptID == "" || prog.PromptID == promptID) {
			onProgress(Progress{Value: prog.Value, Max: prog.Max})
		}
	case "execution_error":
		var fail wsExecutionErrorData
		if err := json.Unmarshal(msg.Data, &fail); err != nil {
			return false, nil
		}
		if fail.PromptID != promptID {
			return false, nil
		}
		return true, &ExecutionError{
			PromptID: fail.PromptID,
			NodeID:   fmt.Sprint(fail.NodeID),
			NodeType: fail.NodeType,
			Message:  fail.ExceptionMessage,
		}
	}
	return false, nil
}

// pollUntilDone checks /history until the prompt shows up completed.
func (c *Client) pollUntilDone(ctx context.Context, promptID string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			finished, err := c.promptFinished(ctx, promptID)
			if err != nil {
				c.logger.Debug("history poll failed", logging.Error(err))
				continue
			}
			if finished {
				return nil
			}
		}
	}
}

func (c *Client) promptFinished(ctx context.Context, promptID string) (bool, error) {
	entry, err := c.History(ctx, promptID)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	if entry.Status.StatusStr == "error" {
		return false, &ExecutionError{PromptID: promptID, Message: "prompt failed during execution"}
	}
	return len(entry.Outputs) > 0 || entry.Status.Completed, nil
}
