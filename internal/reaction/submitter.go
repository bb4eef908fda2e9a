package reaction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"autoliker/internal/domain"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	hubClientTimeout  = 15 * time.Second
	submitMessagePath = "/v1/submitMessage"
	maxErrorBodyBytes = 1024
)

// Submitter signs like reactions and posts them to a hub HTTP API. It never
// retries; a failed submission is reported in the result.
type Submitter struct {
	hubURL     string
	apiKey     string
	network    uint64
	httpClient *http.Client
	now        func() time.Time
	log        *slog.Logger
}

func NewSubmitter(hubURL, apiKey string, network uint64, log *slog.Logger) *Submitter {
	return &Submitter{
		hubURL:  strings.TrimRight(strings.TrimSpace(hubURL), "/"),
		apiKey:  apiKey,
		network: network,
		httpClient: &http.Client{
			Timeout:   hubClientTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
		log: log,
	}
}

func (s *Submitter) Submit(
	ctx context.Context,
	signer domain.Signer,
	contentID string,
	authorFID uint64,
) domain.SubmitResult {
	hash, err := s.submit(ctx, signer, contentID, authorFID)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to submit like",
			"error", err,
			"fid", signer.FID,
			"castHash", contentID,
			"authorFid", authorFID)

		return domain.SubmitResult{Success: false, Error: err.Error()}
	}

	return domain.SubmitResult{Success: true, ActionHash: hash}
}

func (s *Submitter) submit(
	ctx context.Context,
	signer domain.Signer,
	contentID string,
	authorFID uint64,
) (string, error) {
	key, err := ParsePrivateKey(signer.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("parse signer key: %w", err)
	}

	msg, err := BuildLike(key, signer.FID, s.network, authorFID, contentID, s.now())
	if err != nil {
		return "", fmt.Errorf("build like message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.hubURL+submitMessagePath, bytes.NewReader(msg.Marshal()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("x-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			s.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"operation", "Submit",
				"castHash", contentID)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return "", fmt.Errorf("do request: unexpected status: %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return msg.HashHex(), nil
}
