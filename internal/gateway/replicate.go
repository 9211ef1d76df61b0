package gateway

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
	"strings"
	"time"

	"github.com/kiranshivaraju/mediagen/pkg/models"
)

// ReplicateClient implements Gateway using Replicate's HTTP API.
type ReplicateClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewReplicateClient creates a new Replicate HTTP client. timeout bounds each
// HTTP call, not the prediction itself.
func NewReplicateClient(baseURL, token string, timeout time.Duration) *ReplicateClient {
	return &ReplicateClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// CreatePrediction starts a prediction. model may be "owner/name" (latest
// version of an official model), "owner/name:version" or a bare version id.
func (c *ReplicateClient) CreatePrediction(ctx context.Context, model string, input map[string]any) (*models.Prediction, error) {
	endpoint, body := predictionTarget(c.baseURL, model, input)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding prediction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	return c.doPrediction(httpReq, http.StatusCreated, http.StatusOK)
}

func (c *ReplicateClient) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	u := fmt.Sprintf("%s/predictions/%s", c.baseURL, url.PathEscape(id))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	return c.doPrediction(httpReq, http.StatusOK)
}

func (c *ReplicateClient) CancelPrediction(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/predictions/%s/cancel", c.baseURL, url.PathEscape(id))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, nil)
	}
	return nil
}

func (c *ReplicateClient) doPrediction(httpReq *http.Request, okStatuses ...int) (*models.Prediction, error) {
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classifyError(err)
	}

	if !statusIn(resp.StatusCode, okStatuses) {
		return nil, statusError(resp.StatusCode, body)
	}

	var pr predictionResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("%w: decoding prediction: %v", ErrBadResponse, err)
	}
	if pr.ID == "" {
		return nil, fmt.Errorf("%w: prediction without id", ErrBadResponse)
	}
	return pr.toModel(), nil
}

func (c *ReplicateClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
}

// predictionTarget picks the create endpoint and request body for model.
func predictionTarget(baseURL, model string, input map[string]any) (string, map[string]any) {
	if _, version, ok := strings.Cut(model, ":"); ok {
		return baseURL + "/predictions", map[string]any{"version": version, "input": input}
	}
	if owner, name, ok := strings.Cut(model, "/"); ok {
		u := fmt.Sprintf("%s/models/%s/%s/predictions", baseURL, url.PathEscape(owner), url.PathEscape(name))
		return u, map[string]any{"input": input}
	}
	return baseURL + "/predictions", map[string]any{"version": model, "input": input}
}

func statusIn(code int, codes []int) bool {
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

// statusError maps a non-success HTTP status to a sentinel error. 5xx and 429
// are reported as unreachable, other 4xx as rejected.
func statusError(code int, body []byte) error {
	detail := providerDetail(body)
	sentinel := ErrRejected
	if code >= 500 || code == http.StatusTooManyRequests {
		sentinel = ErrUnreachable
	}
	if detail != "" {
		return fmt.Errorf("%w: status %d: %s", sentinel, code, detail)
	}
	return fmt.Errorf("%w: status %d", sentinel, code)
}

func providerDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var e struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Detail != "" {
			return e.Detail
		}
		return e.Title
	}
	return ""
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// --- Replicate response types ---

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output any             `json:"output"`
	Error  json.RawMessage `json:"error"`
}

func (p predictionResponse) toModel() *models.Prediction {
	return &models.Prediction{
		ID:     p.ID,
		Status: models.PredictionStatus(p.Status),
		Output: p.Output,
		Error:  errorText(p.Error),
	}
}

// errorText flattens the provider's error field, which may be null, a string
// or an object.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Compile-time check that ReplicateClient implements Gateway.
var _ Gateway = (*ReplicateClient)(nil)
