package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/notifyhub/formsync/internal/domain"
)

// maxErrorBody bounds how much of a non-2xx body ends up in an error message.
const maxErrorBody = 512

// DefaultMaxResultBytes caps a downloaded result archive.
const DefaultMaxResultBytes int64 = 256 << 20

// ErrResultsTooLarge is returned by DownloadResults when the archive exceeds
// the configured ceiling. Retrying cannot help.
var ErrResultsTooLarge = errors.New("batch results exceed size limit")

// batchOperation is the wire form of one operation: body is a JSON string.
type batchOperation struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Body        string `json:"body,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
}

type batchRequest struct {
	Operations []batchOperation `json:"operations"`
}

// MailchimpProvider talks to the Marketing API batch endpoints.
// The base URL is injected from config so tests can point to a local mock.
type MailchimpProvider struct {
	baseURL        string
	httpClient     Doer
	maxResultBytes int64
}

func NewMailchimpProvider(baseURL string, timeout time.Duration) *MailchimpProvider {
	return NewMailchimpProviderWithClient(baseURL, &http.Client{Timeout: timeout})
}

func NewMailchimpProviderWithClient(baseURL string, client Doer) *MailchimpProvider {
	return &MailchimpProvider{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     client,
		maxResultBytes: DefaultMaxResultBytes,
	}
}

// WithMaxResultBytes sets the result archive ceiling. Non-positive values
// keep the default.
func (p *MailchimpProvider) WithMaxResultBytes(n int64) *MailchimpProvider {
	if n > 0 {
		p.maxResultBytes = n
	}
	return p
}

// SubmitBatch posts the operations to /batches. A non-2xx response or a body
// without a batch id is a submission error.
func (p *MailchimpProvider) SubmitBatch(ctx context.Context, apiKey string, ops []domain.OperationDescriptor) (string, error) {
	if len(ops) == 0 {
		return "", fmt.Errorf("submit batch: no operations")
	}

	wire := batchRequest{Operations: make([]batchOperation, len(ops))}
	for i, op := range ops {
		wire.Operations[i] = batchOperation{
			Method:      op.Method,
			Path:        op.Path,
			Body:        string(op.Body),
			OperationID: op.OperationID,
		}
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}

	var status domain.BatchStatus
	if err := p.do(ctx, apiKey, http.MethodPost, p.baseURL+"/batches", body, &status); err != nil {
		return "", fmt.Errorf("submit batch: %w", err)
	}
	if status.ID == "" {
		return "", fmt.Errorf("submit batch: response carried no batch id")
	}
	return status.ID, nil
}

func (p *MailchimpProvider) GetBatch(ctx context.Context, apiKey, batchID string) (*domain.BatchStatus, error) {
	var status domain.BatchStatus
	if err := p.do(ctx, apiKey, http.MethodGet, p.baseURL+"/batches/"+batchID, nil, &status); err != nil {
		return nil, fmt.Errorf("get batch %s: %w", batchID, err)
	}
	if status.ID == "" {
		status.ID = batchID
	}
	return &status, nil
}

// DownloadResults fetches a pre-signed result archive. No credentials are sent.
func (p *MailchimpProvider) DownloadResults(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download results: unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, p.maxResultBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	if int64(len(raw)) > p.maxResultBytes {
		return nil, fmt.Errorf("download results: %w (%d bytes)", ErrResultsTooLarge, p.maxResultBytes)
	}
	return raw, nil
}

func (p *MailchimpProvider) do(ctx context.Context, apiKey, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth("formsync", apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Detail: ErrorDetail(string(detail))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx reply from the provider API.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unexpected provider status: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected provider status: %d: %s", e.StatusCode, e.Detail)
}

// compile-time check that MailchimpProvider implements BatchProvider
var _ BatchProvider = (*MailchimpProvider)(nil)
