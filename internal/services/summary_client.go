package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultFinalSummaryPath        = "/meetingInfo/%s/getPdf"
	defaultIntermediateSummaryPath = "/meetingInfo/%s/getSummary/latest"
)

// Summary is the meeting summary returned by the summary service.
type Summary struct {
	Title       string          `json:"title"`
	CreatedAt   string          `json:"createdAt"`
	SummaryText string          `json:"summaryText"`
	PDFLinks    json.RawMessage `json:"pdfLinks,omitempty"`
}

// SummaryProvider fetches meeting summaries.
type SummaryProvider interface {
	FinalSummary(ctx context.Context, meetingID string) (Summary, error)
	IntermediateSummary(ctx context.Context, meetingID string) (Summary, error)
}

// SummaryClientConfig configures the HTTP summary client.
type SummaryClientConfig struct {
	BaseURL          string
	FinalPath        string
	IntermediatePath string
	Timeout          time.Duration

	// Client credentials; leave TokenURL empty for unauthenticated calls.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// SummaryClient calls the summary service over HTTP.
type SummaryClient struct {
	baseURL          string
	finalPath        string
	intermediatePath string
	client           *http.Client
}

func NewSummaryClient(cfg SummaryClientConfig) (*SummaryClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("summary client: base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("summary client: invalid base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if strings.TrimSpace(cfg.TokenURL) != "" {
		creds := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = creds.Client(context.Background())
		httpClient.Timeout = timeout
	}

	client := &SummaryClient{
		baseURL:          base,
		finalPath:        firstNonEmpty(cfg.FinalPath, defaultFinalSummaryPath),
		intermediatePath: firstNonEmpty(cfg.IntermediatePath, defaultIntermediateSummaryPath),
		client:           httpClient,
	}
	return client, nil
}

// FinalSummary fetches the end-of-meeting summary with its PDF links.
func (c *SummaryClient) FinalSummary(ctx context.Context, meetingID string) (Summary, error) {
	return c.fetch(ctx, c.finalPath, meetingID)
}

// IntermediateSummary fetches the latest rolling summary.
func (c *SummaryClient) IntermediateSummary(ctx context.Context, meetingID string) (Summary, error) {
	return c.fetch(ctx, c.intermediatePath, meetingID)
}

func (c *SummaryClient) fetch(ctx context.Context, pathTemplate, meetingID string) (Summary, error) {
	meetingID = strings.TrimSpace(meetingID)
	if meetingID == "" {
		return Summary{}, errors.New("summary client: meeting id is required")
	}

	endpoint := c.baseURL + fmt.Sprintf(pathTemplate, url.PathEscape(meetingID))
	req, err := http.NewRequestWithContext(ensureContext(ctx), http.MethodGet, endpoint, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("summary client: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("summary client: send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Summary{}, fmt.Errorf("summary client: status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var summary Summary
	if err := json.NewDecoder(res.Body).Decode(&summary); err != nil {
		return Summary{}, fmt.Errorf("summary client: decode response: %w", err)
	}
	return summary, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
