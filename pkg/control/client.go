package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/connectivity"
	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/lifecycle"
)

// DefaultClientTimeout covers the longest lifecycle operation plus a kill grace
const DefaultClientTimeout = 60 * time.Second

// Client talks to a running zapretd control API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Status(ctx context.Context) (*lifecycle.Status, error) {
	var status lifecycle.Status
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Start(ctx context.Context, mode string) (*OperationResponse, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/start", StartRequest{Mode: mode})
}

func (c *Client) Stop(ctx context.Context) (*OperationResponse, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/stop", nil)
}

func (c *Client) Update(ctx context.Context) (*OperationResponse, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/update", nil)
}

func (c *Client) ApplyConfig(ctx context.Context, ipset string, gameFilter bool) (*OperationResponse, error) {
	return c.operation(ctx, http.MethodPut, "/api/v1/config", ConfigRequest{Ipset: ipset, GameFilter: gameFilter})
}

func (c *Client) Probe(ctx context.Context, target string) (*connectivity.ProbeResult, error) {
	var result connectivity.ProbeResult
	code, err := c.do(ctx, http.MethodGet, "/api/v1/probe/"+url.PathEscape(target), nil, &result)
	if err != nil && code != http.StatusNotFound {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ProbeAll(ctx context.Context) ([]*connectivity.ProbeResult, error) {
	var resp ProbeResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/probe", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Events consumes the server-sent event stream until ctx is done or the server closes it.
// handler receives the event name and its raw JSON payload.
func (c *Client) Events(ctx context.Context, handler func(name string, data []byte)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/events", nil)
	if err != nil {
		return errors.NewValidationError("invalid events request", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived, so the per-request timeout does not apply
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.NewNetworkError("failed to open event stream", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.NewNetworkError(fmt.Sprintf("event stream returned status %d", resp.StatusCode), nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var name string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name != "" || data.Len() > 0 {
				handler(name, append([]byte(nil), data.Bytes()...))
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return errors.NewNetworkError("event stream interrupted", err)
	}
	return nil
}

func (c *Client) operation(ctx context.Context, method, path string, body interface{}) (*OperationResponse, error) {
	var resp OperationResponse
	code, err := c.do(ctx, method, path, body, &resp)
	if err != nil && code != http.StatusConflict {
		return nil, err
	}
	return &resp, nil
}

// do sends a JSON request and decodes the JSON response into out.
// The status code is returned even when it is an error status.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, errors.NewInternalError("failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, errors.NewValidationError("invalid request", err).WithContext("path", path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.NewNetworkError("control API request failed", err).WithContext("url", req.URL.String())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, errors.NewNetworkError("failed to read response", err)
	}

	if resp.StatusCode >= 400 {
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		message := fmt.Sprintf("control API returned status %d", resp.StatusCode)
		var apiErr ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		if resp.StatusCode == http.StatusBadRequest {
			return resp.StatusCode, errors.NewValidationError(message, nil)
		}
		return resp.StatusCode, errors.NewNetworkError(message, nil).WithContext("status", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, errors.NewInternalError("failed to decode response", err)
		}
	}
	return resp.StatusCode, nil
}
