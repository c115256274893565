package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/telepresence/internal/capture"
	"github.com/dgnsrekt/telepresence/internal/roster"
)

// Client interface for testability
type Client interface {
	PublishScreen(ctx context.Context, spaceID, participantID string, payload capture.Payload) error
	FetchSpaceStatus(ctx context.Context, spaceID string) (roster.Status, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

// Registration is returned when a participant creates or joins a space.
type Registration struct {
	SpaceID       string `json:"spaceId"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

type CreateSpaceRequest struct {
	Name            string `json:"name"`
	AccessCode      string `json:"accessCode"`
	ParticipantName string `json:"participantName"`
}

type JoinRequest struct {
	AccessCode string `json:"accessCode"`
	Name       string `json:"name"`
}

type NegotiateResponse struct {
	URL       string   `json:"url"`
	Protocols []string `json:"protocols"`
}

func NewClient(baseURL string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:    20,
		MaxConnsPerHost: 4,
		IdleConnTimeout: 90 * time.Second,
	}
	if ratePerSec <= 0 {
		ratePerSec = 1
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// PublishScreen posts one encoded frame. Publishing is never retried: the
// next tick carries a fresher frame anyway.
func (c *HTTPClient) PublishScreen(ctx context.Context, spaceID, participantID string, payload capture.Payload) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := fmt.Sprintf("%s/client/spaces/%s/participants/%s/screen", c.baseURL,
		url.PathEscape(spaceID), url.PathEscape(participantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload.Data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	contentType := payload.ContentType
	if contentType == "" {
		contentType = capture.ContentType
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error posting image data: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	if err := statusError(resp.StatusCode, body); err != nil {
		return fmt.Errorf("error posting image data: %w", err)
	}

	c.logger.Debug("published screen",
		zap.String("space_id", spaceID),
		zap.Int("bytes", len(payload.Data)))
	return nil
}

// Publisher binds PublishScreen to one participant.
func (c *HTTPClient) Publisher(spaceID, participantID string) capture.PublishFunc {
	return func(ctx context.Context, payload capture.Payload) error {
		return c.PublishScreen(ctx, spaceID, participantID, payload)
	}
}

// FetchSpaceStatus returns the authoritative roster of a space.
func (c *HTTPClient) FetchSpaceStatus(ctx context.Context, spaceID string) (roster.Status, error) {
	var status roster.Status
	u := fmt.Sprintf("%s/client/spaces/%s", c.baseURL, url.PathEscape(spaceID))
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &status); err != nil {
		return roster.Status{}, err
	}
	return status, nil
}

// CreateSpace creates a space and registers its first participant.
func (c *HTTPClient) CreateSpace(ctx context.Context, in CreateSpaceRequest) (Registration, error) {
	var reg Registration
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/client/spaces", in, &reg); err != nil {
		return Registration{}, err
	}
	return reg, nil
}

// RegisterParticipant joins the space owning the access code.
func (c *HTTPClient) RegisterParticipant(ctx context.Context, in JoinRequest) (Registration, error) {
	var reg Registration
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/client/participants", in, &reg); err != nil {
		return Registration{}, err
	}
	return reg, nil
}

// Negotiate asks the relay where to subscribe for push events of a space.
func (c *HTTPClient) Negotiate(ctx context.Context, spaceID string) (NegotiateResponse, error) {
	var out NegotiateResponse
	u := fmt.Sprintf("%s/client/spaces/%s/negotiate", c.baseURL, url.PathEscape(spaceID))
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return NegotiateResponse{}, err
	}
	return out, nil
}

// LeaveSpace removes a participant from its space.
func (c *HTTPClient) LeaveSpace(ctx context.Context, spaceID, participantID string) error {
	u := fmt.Sprintf("%s/client/spaces/%s/participants/%s", c.baseURL,
		url.PathEscape(spaceID), url.PathEscape(participantID))
	return c.doJSON(ctx, http.MethodDelete, u, nil, nil)
}

// doJSON sends a JSON request with retries on transport errors, 429 and 5xx.
func (c *HTTPClient) doJSON(ctx context.Context, method, u string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", u))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if err := statusError(resp.StatusCode, respBody); err != nil {
			return err
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func statusError(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusConflict:
		return ErrConflict
	case code == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, bytes.TrimSpace(body))
	default:
		return fmt.Errorf("unexpected status %d: %s", code, bytes.TrimSpace(body))
	}
}
