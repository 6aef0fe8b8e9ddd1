// Package analytics is the HTTP client for the analytics backend: natural
// language queries, document uploads, and the status endpoints the shell
// shows around the conversation.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/minesight/analyst/chart"
	"github.com/minesight/analyst/session"
)

const DefaultTimeout = 60 * time.Second

// TransportError means the backend could not be reached or answered with
// something that is not a backend response. A decodable response with
// success=false is a reported failure and is not a TransportError.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("analytics %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Response is the structured answer to a query.
type Response struct {
	Answer          string                  `json:"answer"`
	Type            string                  `json:"type,omitempty"`
	Visualizations  *session.Visualizations `json:"visualizations,omitempty"`
	Recommendations []string                `json:"recommendations,omitempty"`
	Sources         []map[string]any        `json:"sources,omitempty"`
	Language        string                  `json:"language,omitempty"`
	Audio           *session.Audio          `json:"audio,omitempty"`
}

type QueryResult struct {
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	Response *Response `json:"response,omitempty"`
}

type UploadResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Health struct {
	Status         string `json:"status"`
	RAGEngineReady bool   `json:"rag_engine_ready"`
}

type SystemStatus struct {
	Database      bool `json:"database"`
	ChromaDB      bool `json:"chromadb"`
	MistralAI     bool `json:"mistral_ai"`
	ServicesReady bool `json:"services_ready"`
}

type QuickAction struct {
	Icon       string `json:"icon"`
	Text       string `json:"text"`
	Suggestion string `json:"suggestion"`
}

type queryRequest struct {
	Question string `json:"question"`
	Language string `json:"language"`
	Audio    bool   `json:"audio"`
}

// Client talks to the analytics backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// SendQuery asks the backend a question. A response with success=false is
// returned as a result, not an error, whatever the HTTP status.
func (c *Client) SendQuery(ctx context.Context, question, language string, wantAudio bool) (*QueryResult, error) {
	body, err := json.Marshal(queryRequest{Question: question, Language: language, Audio: wantAudio})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result QueryResult
	if err := c.do(req, "query", &result); err != nil {
		return nil, err
	}
	if result.Success && result.Response == nil {
		return nil, &TransportError{Op: "query", Err: errors.New("response missing")}
	}
	return &result, nil
}

// UploadFile sends a document for ingestion as multipart form data.
func (c *Client) UploadFile(ctx context.Context, filename string, content io.Reader, docType string) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.WriteField("docType", docType); err != nil {
		return nil, fmt.Errorf("write docType: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result UploadResult
	if err := c.do(req, "upload", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) HealthCheck(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/api/health", "health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var resp struct {
		Success bool         `json:"success"`
		Error   string       `json:"error"`
		Status  SystemStatus `json:"status"`
	}
	if err := c.get(ctx, "/api/system-status", "system status", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, reported("system status", resp.Error)
	}
	return &resp.Status, nil
}

func (c *Client) Languages(ctx context.Context) (map[string]string, error) {
	var resp struct {
		Success   bool              `json:"success"`
		Error     string            `json:"error"`
		Languages map[string]string `json:"languages"`
	}
	if err := c.get(ctx, "/api/languages", "languages", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, reported("languages", resp.Error)
	}
	return resp.Languages, nil
}

func (c *Client) QuickActions(ctx context.Context) ([]QuickAction, error) {
	var resp struct {
		Success      bool          `json:"success"`
		Error        string        `json:"error"`
		QuickActions []QuickAction `json:"quick_actions"`
	}
	if err := c.get(ctx, "/api/quick-actions", "quick actions", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, reported("quick actions", resp.Error)
	}
	return resp.QuickActions, nil
}

// Incidents returns the most recent safety incidents, newest first.
func (c *Client) Incidents(ctx context.Context, limit int) ([]*chart.Record, error) {
	path := "/api/incidents"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Success   bool            `json:"success"`
		Error     string          `json:"error"`
		Incidents []*chart.Record `json:"incidents"`
	}
	if err := c.get(ctx, path, "incidents", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, reported("incidents", resp.Error)
	}
	return resp.Incidents, nil
}

// MaintenanceAlerts returns equipment that is not operational or running
// below target efficiency.
func (c *Client) MaintenanceAlerts(ctx context.Context) ([]*chart.Record, error) {
	var resp struct {
		Success bool            `json:"success"`
		Error   string          `json:"error"`
		Alerts  []*chart.Record `json:"alerts"`
	}
	if err := c.get(ctx, "/api/maintenance-alerts", "maintenance alerts", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, reported("maintenance alerts", resp.Error)
	}
	return resp.Alerts, nil
}

func (c *Client) KPIs(ctx context.Context) (map[string]float64, error) {
	var resp struct {
		Success bool               `json:"success"`
		Error   string             `json:"error"`
		KPIs    map[string]float64 `json:"kpis"`
	}
	if err := c.get(ctx, "/api/kpis", "kpis", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, reported("kpis", resp.Error)
	}
	return resp.KPIs, nil
}

func reported(op, msg string) error {
	if msg == "" {
		msg = "unsuccessful response"
	}
	return fmt.Errorf("analytics %s: %s", op, msg)
}

func (c *Client) get(ctx context.Context, path, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, op, out)
}

// do sends req and decodes a JSON body into out. The backend answers
// failures with JSON bodies and 4xx/5xx statuses, so any decodable body is
// accepted; only unreachable hosts and undecodable bodies are transport errors.
func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("status %d: decode response: %w", resp.StatusCode, err)}
	}
	return nil
}
