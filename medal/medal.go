// Package medal fetches the latest published clip for a creator from the Medal.tv API.
package medal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"medal-notifier/metrics"
	"medal-notifier/pkg/notifier"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultBaseURL is the production Medal.tv developer API endpoint.
	DefaultBaseURL = "https://developers.medal.tv"

	requestTimeout = 12 * time.Second
)

// Client fetches clip metadata from the Medal.tv API.
type Client struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// New creates a new Medal API client. baseURL is overridable for tests.
func New(client *http.Client, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// latestResponse mirrors the relevant slice of the /v1/latest response body.
type latestResponse struct {
	ContentObjects []contentObject `json:"contentObjects"`
}

type contentObject struct {
	Poster          *poster `json:"poster"`
	ContentID       string  `json:"contentId"`
	DirectClipURL   string  `json:"directClipUrl"`
	EmbedIframeCode string  `json:"embedIframeCode"`
	ContentTitle    string  `json:"contentTitle"`
	Credits         string  `json:"credits"`
}

type poster struct {
	DisplayName string `json:"displayName"`
	UserName    string `json:"userName"`
}

// LatestClip fetches the single most recent clip published by creatorID.
//
// Every failure mode (non-2xx status, transport fault, timeout, unparseable body,
// empty result list) maps to nil: a transient upstream fault for one creator must
// not abort the poll pass for the others, and the fetch is simply re-attempted on
// the next tick. There are deliberately no retries inside this call.
func (c *Client) LatestClip(ctx context.Context, apiKey, creatorID string) *notifier.Clip {
	clip, err := c.fetchLatest(ctx, apiKey, creatorID)
	if err != nil {
		c.logger.Warn("Clip fetch failed, treating as no new content",
			"creator_id", creatorID,
			"error", err)
		return nil
	}
	if clip == nil {
		c.logger.Debug("Creator has no published clips", "creator_id", creatorID)
		metrics.FetchTotal.WithLabelValues("empty").Inc()
		return nil
	}
	metrics.FetchTotal.WithLabelValues("ok").Inc()
	return clip
}

func (c *Client) fetchLatest(ctx context.Context, apiKey, creatorID string) (*notifier.Clip, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("userId", creatorID)
	q.Set("limit", "1")
	reqURL := fmt.Sprintf("%s/v1/latest?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		metrics.FetchTotal.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		metrics.FetchTotal.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("fetch latest clip: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Debug("Medal API request completed",
		"creator_id", creatorID,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode != http.StatusOK {
		metrics.FetchTotal.WithLabelValues("http_error").Inc()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var body latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.FetchTotal.WithLabelValues("bad_body").Inc()
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(body.ContentObjects) == 0 {
		return nil, nil
	}

	clip, err := toClip(&body.ContentObjects[0], creatorID)
	if err != nil {
		metrics.FetchTotal.WithLabelValues("bad_body").Inc()
		return nil, err
	}
	return clip, nil
}

// toClip normalizes one API content object into a Clip.
func toClip(obj *contentObject, creatorID string) (*notifier.Clip, error) {
	if obj.ContentID == "" {
		return nil, errors.New("content object has no contentId")
	}

	clipURL := obj.DirectClipURL
	if clipURL == "" {
		clipURL = iframeSrc(obj.EmbedIframeCode)
	}
	if clipURL == "" {
		return nil, errors.New("content object has no playable URL")
	}

	clip := &notifier.Clip{
		ContentID: obj.ContentID,
		URL:       clipURL,
		Title:     obj.ContentTitle,
		Credits:   obj.Credits,
		CreatorID: creatorID,
	}
	if obj.Poster != nil {
		clip.PosterName = obj.Poster.DisplayName
		clip.PosterUser = obj.Poster.UserName
	}
	return clip, nil
}

// iframeSrc extracts the src attribute from an embedIframeCode snippet.
// Returns "" if the snippet is empty or has no iframe src.
func iframeSrc(embed string) string {
	if embed == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(embed))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("iframe").First().Attr("src")
	return strings.TrimSpace(src)
}
