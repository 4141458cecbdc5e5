package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ServiceClient talks to the remote document-parse service over HTTP.
// All requests carry the API key as a bearer token. Server-side failures map
// to ErrUnavailable; rejections of the document itself map to ErrMalformed.
type ServiceClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewServiceClient builds a client for the parse service at baseURL.
// httpClient may be nil, in which case a client with a 60 s timeout is used.
func NewServiceClient(baseURL, apiKey string, httpClient *http.Client) *ServiceClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &ServiceClient{baseURL: baseURL, apiKey: apiKey, client: httpClient}
}

type extractRequest struct {
	Content  string `json:"content"` // base64
	MimeType string `json:"mime_type"`
}

type extractResponse struct {
	Text      string `json:"text"`
	PageCount int    `json:"page_count"`
}

type splitResponse struct {
	Parts []string `json:"parts"` // base64, original order
}

// Extract sends the document for parsing and returns its plain text and page
// count.
func (c *ServiceClient) Extract(ctx context.Context, data []byte, mimeType string) (string, int, error) {
	body, err := c.post(ctx, "/v1/extract", extractRequest{
		Content:  base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	})
	if err != nil {
		return "", 0, err
	}
	var resp extractResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, fmt.Errorf("%w: decoding extract response: %v", ErrUnavailable, err)
	}
	return resp.Text, resp.PageCount, nil
}

// Split divides an oversized document into independently parseable parts,
// preserving original order.
func (c *ServiceClient) Split(ctx context.Context, data []byte) ([][]byte, error) {
	body, err := c.post(ctx, "/v1/split", extractRequest{
		Content:  base64.StdEncoding.EncodeToString(data),
		MimeType: "application/pdf",
	})
	if err != nil {
		return nil, err
	}
	var resp splitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding split response: %v", ErrUnavailable, err)
	}
	parts := make([][]byte, 0, len(resp.Parts))
	for i, p := range resp.Parts {
		decoded, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding part %d: %v", ErrUnavailable, i, err)
		}
		parts = append(parts, decoded)
	}
	return parts, nil
}

func (c *ServiceClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnprocessableEntity, resp.StatusCode == http.StatusBadRequest:
		// The service understood the request and rejected the document.
		return nil, fmt.Errorf("%w: service rejected document: %s", ErrMalformed, truncate(body, 200))
	default:
		return nil, fmt.Errorf("%w: service returned %d: %s", ErrUnavailable, resp.StatusCode, truncate(body, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
