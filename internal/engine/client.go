// Package engine is the HTTP client for the upstream Deep Analysis engine.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

// Sentinel errors for engine client failures.
var (
	ErrEngineUnreachable = errors.New("analysis engine unreachable")
	ErrEngineStatus      = errors.New("analysis engine returned error status")
	ErrEngineTimeout     = errors.New("analysis engine timeout")
	ErrReportNotFound    = errors.New("report not found on engine")
)

// Export formats accepted by Render.
const (
	FormatHTML = "html"
	FormatPDF  = "pdf"
)

// Client is the interface for talking to the analysis engine.
type Client interface {
	// StartAnalysis opens a streaming run. The returned body is the chunked
	// NDJSON event stream; the caller owns closing it. A non-success status
	// or missing body fails before any streaming begins.
	StartAnalysis(ctx context.Context, req StartRequest) (io.ReadCloser, error)
	// FetchReport retrieves the full stored payload for a report.
	FetchReport(ctx context.Context, reportID uuid.UUID) (*ReportDetail, error)
	// Render produces a downloadable document for a completed report.
	Render(ctx context.Context, req RenderRequest) ([]byte, error)
	// DeleteReport removes a report from the engine's store.
	DeleteReport(ctx context.Context, reportID uuid.UUID, userID string) error
	Ready(ctx context.Context) error
}

// StartRequest defines parameters for a streaming analysis run.
type StartRequest struct {
	Goal      string
	UserID    string
	SessionID string
}

// RenderRequest asks the engine for a rendered document. ReportUUID is the
// server-stored path; AnalysisData is the legacy inline path used when the
// engine no longer holds the report.
type RenderRequest struct {
	ReportUUID   uuid.UUID
	Format       string
	AnalysisData *models.AnalysisResult
}

// ReportDetail is the engine's stored representation of a finished run.
type ReportDetail struct {
	ID      uuid.UUID             `json:"report_uuid"`
	Goal    string                `json:"goal"`
	Status  string                `json:"status"`
	Summary string                `json:"summary"`
	Result  models.AnalysisResult `json:"analysis"`
}

// HTTPClient implements Client against the engine's HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a new engine HTTP client. The client timeout applies
// to request setup and non-streaming calls; streaming reads are bounded by
// the request context instead.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) StartAnalysis(ctx context.Context, req StartRequest) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/deep_analysis_streaming", c.baseURL)
	if req.UserID != "" {
		u += "?user_id=" + url.QueryEscape(req.UserID)
	}

	body, err := json.Marshal(map[string]string{"goal": req.Goal})
	if err != nil {
		return nil, fmt.Errorf("encoding start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.SessionID != "" {
		httpReq.Header.Set("X-Session-Id", req.SessionID)
	}

	// No overall timeout on the streaming call; runs can take minutes and the
	// context carries cancellation.
	streamClient := &http.Client{Transport: c.client.Transport}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrEngineStatus, resp.StatusCode)
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("%w: response has no body", ErrEngineStatus)
	}
	return resp.Body, nil
}

func (c *HTTPClient) FetchReport(ctx context.Context, reportID uuid.UUID) (*ReportDetail, error) {
	u := fmt.Sprintf("%s/deep_analysis/reports/%s", c.baseURL, reportID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrReportNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrEngineStatus, resp.StatusCode)
	}

	var detail ReportDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("decoding report detail: %w", err)
	}
	return &detail, nil
}

func (c *HTTPClient) Render(ctx context.Context, req RenderRequest) ([]byte, error) {
	if req.Format != FormatHTML && req.Format != FormatPDF {
		return nil, fmt.Errorf("unsupported render format %q", req.Format)
	}

	var u string
	payload := map[string]any{}
	if req.AnalysisData != nil {
		u = fmt.Sprintf("%s/download_report/%s", c.baseURL, req.Format)
		payload["analysis_data"] = req.AnalysisData
	} else {
		u = fmt.Sprintf("%s/download_stored_report/%s", c.baseURL, req.Format)
		payload["report_uuid"] = req.ReportUUID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrEngineStatus, resp.StatusCode)
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading rendered document: %w", err)
	}
	return blob, nil
}

func (c *HTTPClient) DeleteReport(ctx context.Context, reportID uuid.UUID, userID string) error {
	u := fmt.Sprintf("%s/deep_analysis/reports/%s", c.baseURL, reportID)
	if userID != "" {
		u += "?user_id=" + url.QueryEscape(userID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrReportNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: status %d", ErrEngineStatus, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/health", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: engine not ready (status %d)", ErrEngineUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
