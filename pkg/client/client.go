package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docport/docport/pkg/types"
)

// Client is an HTTP client for the docport API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new docport API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute, // image builds can be slow
		},
	}
}

// doRequest performs an HTTP request with API key authentication.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	reqURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
}

// ValidateRecipe checks a recipe against the build contract server-side.
func (c *Client) ValidateRecipe(ctx context.Context, r types.Recipe) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/recipes/validate", r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// RenderRecipe returns the rendered build file and digests for a recipe.
func (c *Client) RenderRecipe(ctx context.Context, r types.Recipe) (map[string]interface{}, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/recipes/render", r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

// CreateBuild submits a build and waits for it to finish.
func (c *Client) CreateBuild(ctx context.Context, req types.BuildRequest) (*types.Build, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/builds", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var bld types.Build
	if err := json.NewDecoder(resp.Body).Decode(&bld); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &bld, nil
}

// ListBuilds lists all recorded builds, newest first.
func (c *Client) ListBuilds(ctx context.Context) ([]types.Build, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/builds", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var builds []types.Build
	if err := json.NewDecoder(resp.Body).Decode(&builds); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return builds, nil
}

// GetBuild gets a build by ID.
func (c *Client) GetBuild(ctx context.Context, buildID string) (*types.Build, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/builds/%s", buildID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var bld types.Build
	if err := json.NewDecoder(resp.Body).Decode(&bld); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &bld, nil
}

// DeleteBuild removes a build, its local image, and its archived log.
func (c *Client) DeleteBuild(ctx context.Context, buildID string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/builds/%s", buildID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

// BuildLog fetches the archived log of a build.
func (c *Client) BuildLog(ctx context.Context, buildID string) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/builds/%s/log", buildID), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	// Server returns plain text content, not JSON
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(body), nil
}

// Launch starts an instance from a built image.
func (c *Client) Launch(ctx context.Context, req types.LaunchRequest) (*types.Instance, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/instances", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var inst types.Instance
	if err := json.NewDecoder(resp.Body).Decode(&inst); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &inst, nil
}

// ListInstances lists all instances.
func (c *Client) ListInstances(ctx context.Context) ([]types.Instance, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/instances", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var instances []types.Instance
	if err := json.NewDecoder(resp.Body).Decode(&instances); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return instances, nil
}

// GetInstance gets an instance by ID.
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*types.Instance, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/instances/%s", instanceID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var inst types.Instance
	if err := json.NewDecoder(resp.Body).Decode(&inst); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &inst, nil
}

// StopInstance gracefully stops an instance.
func (c *Client) StopInstance(ctx context.Context, instanceID string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/instances/%s/stop", instanceID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

// KillInstance forcefully removes an instance.
func (c *Client) KillInstance(ctx context.Context, instanceID string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/instances/%s", instanceID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

// Workers reports the supervisor and worker processes of a running instance.
func (c *Client) Workers(ctx context.Context, instanceID string) (*types.WorkerReport, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/instances/%s/workers", instanceID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var report types.WorkerReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &report, nil
}

// LogToken requests a short-lived token for the log stream WebSocket.
func (c *Client) LogToken(ctx context.Context, instanceID string) (*types.LogTokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/instances/%s/logs/token", instanceID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var token types.LogTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &token, nil
}

// StreamLogs follows an instance's live logs, writing them to w until the
// stream ends or the context is cancelled.
func (c *Client) StreamLogs(ctx context.Context, instanceID string, w io.Writer) error {
	token, err := c.LogToken(ctx, instanceID)
	if err != nil {
		return err
	}

	wsURL, err := c.logStreamURL(instanceID, token.Token)
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("log stream connect failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("log stream connect failed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("log stream read: %w", err)
		}
		if _, err := w.Write(msg); err != nil {
			return err
		}
	}
}

func (c *Client) logStreamURL(instanceID, token string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/instances/%s/logs", instanceID)
	u.RawQuery = "token=" + url.QueryEscape(token)
	return u.String(), nil
}
