package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout = 8 * time.Second
)

// Client calls an external text-generation service that produces
// recommendation candidates from a structured preference prompt.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// HistoryItem is one watch-history line included in the prompt for context
type HistoryItem struct {
	Title  string `json:"title"`
	Status string `json:"status"`
	Rating int    `json:"rating,omitempty"`
}

// Prompt is the structured preference payload sent to the service
type Prompt struct {
	TopGenres      []string      `json:"top_genres"`
	TopTypes       []string      `json:"top_types"`
	AvgRating      float64       `json:"avg_rating"`
	CompletionRate float64       `json:"completion_rate"`
	History        []HistoryItem `json:"history"`
	Limit          int           `json:"limit"`
}

// Candidate is one suggested title returned by the service
type Candidate struct {
	Title      string  `json:"title"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// APIError represents an error returned by the generation service
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm API error (code %d): %s", e.StatusCode, e.Message)
}

// NewClient creates a new generation client. The timeout bounds every call so
// a slow service cannot stall the caller's fallback path.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithHTTP creates a client with a custom HTTP client
func NewClientWithHTTP(baseURL, apiKey, model string, httpClient *http.Client) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
	}
}

// SetBaseURL allows overriding the base URL (useful for testing)
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt Prompt `json:"prompt"`
}

type generateResponse struct {
	Recommendations []Candidate `json:"recommendations"`
}

// Recommend asks the service for candidate titles. Any transport, status or
// parse failure is returned as an error; the caller is expected to fall back
// to its own scoring rather than retry.
func (c *Client) Recommend(ctx context.Context, prompt Prompt) ([]Candidate, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("llm client not configured")
	}

	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/recommendations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call generation service: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generation response: %w", err)
	}

	candidates, err := parseCandidates(raw)
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// parseCandidates accepts either {"recommendations": [...]} or a bare JSON
// array. The service has shipped both shapes.
func parseCandidates(raw []byte) ([]Candidate, error) {
	var wrapped generateResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Recommendations != nil {
		return wrapped.Recommendations, nil
	}

	var bare []Candidate
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}

	return nil, fmt.Errorf("generation response is not a candidate list")
}

// checkResponse checks the HTTP response for errors
func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d: failed to read error response", resp.StatusCode),
		}
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}

	if apiErr.StatusCode == 0 {
		apiErr.StatusCode = resp.StatusCode
	}

	return &apiErr
}
