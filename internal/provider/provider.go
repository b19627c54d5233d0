package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/notifyhub/formsync/internal/domain"
)

// BatchProvider abstracts the CRM's asynchronous batch API.
// Mocking this interface in tests gives full control over provider behaviour
// without making real HTTP calls.
type BatchProvider interface {
	// SubmitBatch sends ops as one batch and returns the provider's batch id.
	SubmitBatch(ctx context.Context, apiKey string, ops []domain.OperationDescriptor) (string, error)
	// GetBatch reports the current state of a submitted batch.
	GetBatch(ctx context.Context, apiKey, batchID string) (*domain.BatchStatus, error)
	// DownloadResults fetches the raw result archive of a finished batch.
	DownloadResults(ctx context.Context, url string) ([]byte, error)
}

// Doer is the outbound HTTP client; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CredentialProvider resolves the API key used for a destination.
type CredentialProvider interface {
	APIKey(ctx context.Context, destination string) (string, error)
}

// StaticCredentials serves one API key for every destination, which is all a
// single-account deployment needs.
type StaticCredentials struct {
	Key string
}

func (c StaticCredentials) APIKey(_ context.Context, destination string) (string, error) {
	if c.Key == "" {
		return "", fmt.Errorf("no API key configured for destination %q", destination)
	}
	return c.Key, nil
}

// compile-time check that StaticCredentials implements CredentialProvider
var _ CredentialProvider = StaticCredentials{}
