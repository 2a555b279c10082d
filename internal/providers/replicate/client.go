package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"alttext/internal/domain"
	"alttext/internal/infra"
	"alttext/internal/infra/credentials"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = fmt.Errorf("replicate: api token is required: %w", domain.ErrMissingCredential)

const maxErrorBody = 64 << 10

// Options configures the Replicate predictions client.
type Options struct {
	APIToken       credentials.Credential
	BaseURL        string
	ModelVersion   string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs the submit and status calls of the Replicate predictions
// API. It never retries; retry policy belongs to the caller.
type Client struct {
	token        credentials.Credential
	baseURL      string
	modelVersion string
	httpClient   *http.Client
	logger       *infra.Logger
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	Image string `json:"image"`
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if opts.APIToken.Empty() {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = infra.DefaultReplicateBaseURL
	}
	version := strings.TrimSpace(opts.ModelVersion)
	if version == "" {
		version = infra.DefaultModelVersion
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Client{
		token:        opts.APIToken,
		baseURL:      baseURL,
		modelVersion: version,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// ModelVersion returns the pinned pipeline version.
func (c *Client) ModelVersion() string {
	return c.modelVersion
}

// Submit starts one prediction for the request input.
func (c *Client) Submit(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error) {
	body, err := json.Marshal(predictionRequest{
		Version: c.modelVersion,
		Input:   predictionInput{Image: req.Input},
	})
	if err != nil {
		return "", &domain.SubmitError{Err: fmt.Errorf("replicate: encode request: %w", err)}
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/predictions", body)
	if err != nil {
		return "", &domain.SubmitError{Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &domain.SubmitError{Err: fmt.Errorf("replicate: http request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.SubmitError{StatusCode: resp.StatusCode, Err: fmt.Errorf("replicate: read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Msg("replicate: prediction rejected")
		return "", &domain.SubmitError{
			StatusCode: resp.StatusCode,
			Cause:      truncate(strings.TrimSpace(string(raw))),
			Err:        fmt.Errorf("replicate: status %d", resp.StatusCode),
		}
	}

	var decoded predictionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &domain.SubmitError{StatusCode: resp.StatusCode, Err: fmt.Errorf("replicate: decode response: %w", err)}
	}
	id := strings.TrimSpace(decoded.ID)
	if id == "" {
		return "", &domain.SubmitError{StatusCode: resp.StatusCode, Err: errors.New("replicate: response missing prediction id")}
	}
	c.logger.Debug().
		Str("prediction_id", id).
		Str("status", decoded.Status).
		Msg("replicate: prediction created")
	return domain.JobHandle(id), nil
}

// FetchStatus reads the current status of a prediction. Any response that
// cannot be classified is a FetchError, never an implicit Pending.
func (c *Client) FetchStatus(ctx context.Context, handle domain.JobHandle) (domain.JobSnapshot, error) {
	endpoint, err := c.predictionURL(handle, "")
	if err != nil {
		return domain.JobSnapshot{}, &domain.FetchError{Err: err}
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.JobSnapshot{}, &domain.FetchError{Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.JobSnapshot{}, &domain.FetchError{Err: fmt.Errorf("replicate: http request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.JobSnapshot{}, &domain.FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("replicate: read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.JobSnapshot{}, &domain.FetchError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("replicate: status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(raw)))),
		}
	}

	var decoded predictionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.JobSnapshot{}, &domain.FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("replicate: decode response: %w", err)}
	}
	snapshot, err := toSnapshot(decoded)
	if err != nil {
		return domain.JobSnapshot{}, &domain.FetchError{StatusCode: resp.StatusCode, Err: err}
	}
	c.logger.Debug().
		Str("prediction_id", string(handle)).
		Str("status", decoded.Status).
		Msg("replicate: prediction status")
	return snapshot, nil
}

// Cancel asks the service to stop a prediction. It is best effort: a
// prediction that already finished is not an error.
func (c *Client) Cancel(ctx context.Context, handle domain.JobHandle) error {
	endpoint, err := c.predictionURL(handle, "/cancel")
	if err != nil {
		return err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("replicate: cancel request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("replicate: cancel status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token.Reveal())
	return req, nil
}

func (c *Client) predictionURL(handle domain.JobHandle, suffix string) (string, error) {
	id := strings.TrimSpace(string(handle))
	if id == "" {
		return "", errors.New("replicate: empty prediction id")
	}
	return c.baseURL + "/predictions/" + url.PathEscape(id) + suffix, nil
}

func toSnapshot(resp predictionResponse) (domain.JobSnapshot, error) {
	status := strings.ToLower(strings.TrimSpace(resp.Status))
	snapshot := domain.JobSnapshot{RemoteStatus: status}
	switch status {
	case "":
		return domain.JobSnapshot{}, errors.New("replicate: response missing status")
	case "succeeded":
		output, err := decodeOutput(resp.Output)
		if err != nil {
			return domain.JobSnapshot{}, err
		}
		snapshot.Status = domain.SnapshotSucceeded
		snapshot.Output = output
	case "failed":
		snapshot.Status = domain.SnapshotFailed
		snapshot.Reason = decodeReason(resp.Error)
		if snapshot.Reason == "" {
			snapshot.Reason = domain.MessagePredictionFailed
		}
	case "canceled":
		snapshot.Status = domain.SnapshotFailed
		snapshot.Reason = domain.MessagePredictionCancel
	default:
		snapshot.Status = domain.SnapshotPending
	}
	return snapshot, nil
}

// decodeOutput accepts a plain string or a list of string chunks, the two
// shapes language-model predictions use. A null or absent output decodes to
// the empty string.
func decodeOutput(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text, nil
	}
	var chunks []string
	if err := json.Unmarshal(trimmed, &chunks); err == nil {
		return strings.Join(chunks, ""), nil
	}
	return "", fmt.Errorf("replicate: unexpected output shape: %s", truncate(string(trimmed)))
}

func decodeReason(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(string(trimmed))
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody]
}

// NewFromConfig builds a client from the application configuration.
func NewFromConfig(cfg *infra.Config, logger *infra.Logger) (*Client, error) {
	return NewClient(Options{
		APIToken:       cfg.ReplicateToken,
		BaseURL:        cfg.ReplicateBaseURL,
		ModelVersion:   cfg.ModelVersion,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	})
}
