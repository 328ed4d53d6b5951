package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"easel/internal/config"
	"easel/internal/logging"
)

// Client talks to a single ComfyUI server. Each client carries its own
// client_id; the server routes websocket events by that id.
type Client struct {
	baseURL    string
	wsURL      string
	clientID   string
	httpClient *http.Client
	logger     *slog.Logger

	reconnectAttempts int
	reconnectDelay    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger attaches a logger for connection-level events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logging.WithComponent(logger, "comfy")
		}
	}
}

// WithReconnect adjusts websocket reconnect behavior.
func WithReconnect(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.reconnectAttempts = attempts
		}
		if delay > 0 {
			c.reconnectDelay = delay
		}
	}
}

// New constructs a client for the server at baseURL (http://host:port).
func New(baseURL string, opts ...Option) *Client {
	trimmed := strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL:           trimmed,
		wsURL:             "ws" + strings.TrimPrefix(trimmed, "http"),
		clientID:          uuid.NewString(),
		httpClient:        &http.Client{Timeout: 30 * time.Second},
		logger:            logging.NewNop(),
		reconnectAttempts: 5,
		reconnectDelay:    3 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig builds a client using the configured server address and timeouts.
func FromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	return New(
		cfg.ComfyBaseURL(),
		WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Comfy.RequestTimeout) * time.Second}),
		WithLogger(logger),
		WithReconnect(cfg.Comfy.ReconnectAttempts, time.Duration(cfg.Comfy.ReconnectDelay)*time.Second),
	)
}

// ClientID returns the correlation id sent with every queued prompt.
func (c *Client) ClientID() string {
	return c.clientID
}

// BaseURL returns the server address the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ready reports whether the server answers its root endpoint.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("comfyui returned status %d", resp.StatusCode)
	}
	return nil
}

// WaitUntilReady polls the server until it responds or the deadline passes.
func (c *Client) WaitUntilReady(ctx context.Context, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	attempt := 0
	for {
		attempt++
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.Ready(checkCtx)
		cancel()
		if err == nil {
			c.logger.Debug("comfyui reachable", logging.Int("attempts", attempt))
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("comfyui not reachable after %s: %w", timeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// QueuePrompt submits a workflow (API format) and returns the prompt id.
// A 400 response is unpacked into a *ValidationError.
func (c *Client) QueuePrompt(ctx context.Context, workflow json.RawMessage) (string, error) {
	payload, err := json.Marshal(struct {
		Prompt   json.RawMessage `json:"prompt"`
		ClientID string          `json:"client_id"`
	}{Prompt: workflow, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read prompt response: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest {
		return "", parseValidationError(body)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("queue prompt: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var queued QueuePromptResponse
	if err := json.Unmarshal(body, &queued); err != nil {
		return "", fmt.Errorf("decode prompt response: %w", err)
	}
	if queued.PromptID == "" {
		return "", errors.New("server returned no prompt id")
	}
	return queued.PromptID, nil
}

// History fetches the record for a single prompt. A nil entry means the
// prompt has not reached history yet.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: status %d", resp.StatusCode)
	}

	entries := make(map[string]HistoryEntry)
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	entry, ok := entries[promptID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// View downloads the bytes of a generated image.
func (c *Client) View(ctx context.Context, image OutputImage) ([]byte, error) {
	params := url.Values{}
	params.Set("filename", image.Filename)
	params.Set("subfolder", image.Subfolder)
	params.Set("type", image.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", image.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image %s: status %d", image.Filename, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// UploadImage places an input image into ComfyUI's input folder.
func (c *Client) UploadImage(ctx context.Context, name string, data []byte, overwrite bool) (*UploadResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if overwrite {
		if err := writer.WriteField("overwrite", "true"); err != nil {
			return nil, fmt.Errorf("write overwrite field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload image %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload image %s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var uploaded UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &uploaded, nil
}

// SystemStats fetches device and version information from the server.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch system stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch system stats: status %d", resp.StatusCode)
	}
	stats := &SystemStats{}
	if err := json.NewDecoder(resp.Body).Decode(stats); err != nil {
		return nil, fmt.Errorf("decode system stats: %w", err)
	}
	return stats, nil
}

// ObjectInfo fetches the server's node catalog keyed by class name. Each
// entry's input schema enumerates the model files the install can load,
// so this doubles as the server-side model inventory. An empty nodeClass
// fetches every class.
func (c *Client) ObjectInfo(ctx context.Context, nodeClass string) (map[string]json.RawMessage, error) {
	endpoint := c.baseURL + "/object_info"
	if nodeClass != "" {
		endpoint += "/" + url.PathEscape(nodeClass)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch object info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch object info: status %d", resp.StatusCode)
	}
	catalog := make(map[string]json.RawMessage)
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decode object info: %w", err)
	}
	return catalog, nil
}

// QueueInfo returns how many prompts remain in the server queue.
func (c *Client) QueueInfo(ctx context.Context) (*QueueExecInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/prompt", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch queue info: %w", err)
	}
	defer resp.Body.Close()

	info := &QueueExecInfo{}
	if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
		return nil, fmt.Errorf("decode queue info: %w", err)
	}
	return info, nil
}

// Interrupt asks the server to abort the currently executing prompt.
func (c *Client) Interrupt(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interrupt", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("interrupt: status %d", resp.StatusCode)
	}
	return nil
}
