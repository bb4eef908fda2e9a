package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"autoliker/internal/domain"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	neynarClientTimeout = 15 * time.Second
	userCastsPath       = "/v2/farcaster/feed/user/casts"
	maxErrorBodyBytes   = 512
)

type castsResponse struct {
	Casts []struct {
		Hash      string `json:"hash"`
		Timestamp string `json:"timestamp"`
		Author    struct {
			FID uint64 `json:"fid"`
		} `json:"author"`
	} `json:"casts"`
}

// NeynarClient reads recent top-level casts of a user from the Neynar API.
type NeynarClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

func NewNeynarClient(baseURL, apiKey string, log *slog.Logger) *NeynarClient {
	return &NeynarClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   neynarClientTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}
}

func (c *NeynarClient) RecentContent(
	ctx context.Context,
	fid uint64,
	limit int,
) ([]domain.ContentItem, error) {
	q := url.Values{}
	q.Set("fid", strconv.FormatUint(fid, 10))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("include_replies", "false")

	endpoint := c.baseURL + userCastsPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			c.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"operation", "RecentContent",
				"fid", fid)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return nil, fmt.Errorf("do request: unexpected status: %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload castsResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]domain.ContentItem, 0, len(payload.Casts))
	for _, cast := range payload.Casts {
		hash := strings.TrimSpace(cast.Hash)
		if hash == "" {
			continue
		}

		publishedAt, parseErr := time.Parse(time.RFC3339, cast.Timestamp)
		if parseErr != nil {
			c.log.WarnContext(ctx, "Skipping cast with invalid timestamp",
				"error", parseErr,
				"fid", fid,
				"castHash", hash,
				"timestamp", cast.Timestamp)

			continue
		}

		authorFID := cast.Author.FID
		if authorFID == 0 {
			authorFID = fid
		}

		items = append(items, domain.ContentItem{
			ContentID:   hash,
			AuthorFID:   authorFID,
			PublishedAt: publishedAt,
		})
	}

	return items, nil
}
