package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Request and response headers of the clinical API. Every call carries the
// raw access token plus a discriminator naming the issuing provider, so the
// backend can select the matching verification strategy.
const (
	headerAuthToken     = "x-photon-auth-token"
	headerAuthTokenType = "x-photon-auth-token-type"
	headerRequestID     = "x-photon-request-id"
)

// OperationError is a structured, field-level error reported by the backend
// alongside (possibly partial) data.
type OperationError struct {
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
	Code    string   `json:"code,omitempty"`
}

func (e OperationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// tokenSource supplies the current access token for outgoing calls. The
// session manager implements it; tests stub it.
type tokenSource interface {
	currentToken() (token string, ok bool)
}

// Transport issues queries and mutations against the clinical API. Requests
// are JSON bodies POSTed to a single endpoint; responses carry data and an
// optional errors list, and partial success (both present) is preserved
// rather than collapsed into failure.
type Transport struct {
	endpoint   string
	tokenType  string
	httpClient *http.Client
	tokens     tokenSource
	logger     *slog.Logger
}

func newTransport(endpoint, tokenType string, httpClient *http.Client, tokens tokenSource, logger *slog.Logger) *Transport {
	return &Transport{
		endpoint:   endpoint,
		tokenType:  tokenType,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
	}
}

type operationRequest struct {
	Operation string `json:"operation"`
	Variables any    `json:"variables,omitempty"`
}

type operationResponse struct {
	Data   json.RawMessage  `json:"data"`
	Errors []OperationError `json:"errors,omitempty"`
}

// Do executes one operation. The returned errors slice holds field-level
// backend errors; the error return is reserved for transport and protocol
// failures.
func (t *Transport) Do(ctx context.Context, operation string, variables any) (json.RawMessage, []OperationError, error) {
	body, err := json.Marshal(operationRequest{Operation: operation, Variables: variables})
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerRequestID, uuid.NewString())
	if token, ok := t.tokens.currentToken(); ok {
		req.Header.Set(headerAuthToken, token)
		req.Header.Set(headerAuthTokenType, t.tokenType)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, nil, newError(KindNetworkError, fmt.Sprintf("%s request failed", operation), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, newError(KindNetworkError, fmt.Sprintf("%s returned %s", operation, resp.Status), nil)
	}

	var payload operationResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("decode %s response: %w", operation, err)
	}

	if len(payload.Errors) > 0 {
		t.logger.Debug("operation returned errors",
			slog.String("operation", operation),
			slog.Int("errors", len(payload.Errors)),
			slog.Bool("partial_data", payload.Data != nil))
	}
	return payload.Data, payload.Errors, nil
}
