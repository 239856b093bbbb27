// Package rest is the read-only Discord REST client the gateway needs for
// discovery and cache misses.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/parsascontentcorner/discordlitegateway/internal/ratelimit"
)

const (
	// DefaultBaseURL is the Discord API root.
	DefaultBaseURL = "https://discord.com/api/v10"

	discordTokenURL = "https://discord.com/api/oauth2/token" //nolint:gosec // Not a hardcoded credential, just an API endpoint URL

	defaultMaxRetries = 3
	userAgent         = "DiscordBot (https://github.com/parsascontentcorner/discordlitegateway, 1.0)"
)

// Config configures a Client. With ClientID and ClientSecret set the client
// authenticates with an OAuth2 client-credentials bearer token instead of the
// bot token.
type Config struct {
	BaseURL      string
	BotToken     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration
	// MaxRetries bounds retries after a 429.
	MaxRetries int
}

// Client calls the Discord REST API.
type Client struct {
	baseURL    string
	botToken   string
	bearer     bool
	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	maxRetries int
	logger     *zap.Logger
}

// NewClient creates a REST client. limiter may be nil.
func NewClient(cfg Config, limiter *ratelimit.RateLimiter, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	c := &Client{
		baseURL:    cfg.BaseURL,
		botToken:   cfg.BotToken,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		maxRetries: cfg.MaxRetries,
		logger:     logger.Named("rest"),
	}

	switch {
	case cfg.ClientID != "" && cfg.ClientSecret != "":
		tokenURL := cfg.TokenURL
		if tokenURL == "" {
			tokenURL = discordTokenURL
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       cfg.Scopes,
		}
		c.httpClient = cc.Client(context.Background())
		c.httpClient.Timeout = cfg.Timeout
		c.bearer = true
	case cfg.BotToken == "":
		return nil, fmt.Errorf("bot token is not configured")
	}

	return c, nil
}

// get performs a rate-limited GET. route is the limiter bucket key, path the
// concrete request path.
func (c *Client) get(ctx context.Context, route, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, route); err != nil {
				return fmt.Errorf("rate limit wait failed: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		// Bot tokens use the "Bot" prefix; bearer mode is handled by the
		// oauth2 transport.
		if !c.bearer {
			req.Header.Set("Authorization", "Bot "+c.botToken)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}

		if c.limiter != nil {
			c.limiter.UpdateFromHeaders(route, resp.Header)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			wait := time.Second
			if c.limiter != nil {
				wait = c.limiter.HandleRateLimitResponse(route, resp.Header)
			}
			drain(resp)
			c.logger.Warn("rate limited, retrying",
				zap.String("route", route),
				zap.Duration("retry_after", wait),
				zap.Int("attempt", attempt+1),
			)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		err = c.decode(resp, route, out)
		drain(resp)
		return err
	}
}

func (c *Client) decode(resp *http.Response, route string, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode, Route: route}
		if len(body) > 0 && json.Unmarshal(body, apiErr) != nil {
			apiErr.Message = string(body)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", route, err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
