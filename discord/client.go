// Package discord is a small REST client for the Discord API calls tenant
// compute makes: channel replies, user lookup and command registration.
package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/transport"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://discord.com/api/v10"
	userAgent      = "DiscordBot (https://github.com/goliatone/go-botfactory, 1)"
)

// Discord allows 50 requests per second per bot token.
const (
	defaultRate  rate.Limit = 50
	defaultBurst            = 10
)

type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
}

// Tag renders username#discriminator, or the username alone when the account
// has no discriminator.
func (u User) Tag() string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

type Option func(*Client)

func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			c.baseURL = base
		}
	}
}

func WithAdapter(adapter transport.Adapter) Option {
	return func(c *Client) {
		if adapter != nil {
			c.adapter = adapter
		}
	}
}

func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

type Client struct {
	token   string
	baseURL string
	adapter transport.Adapter
	limiter *rate.Limiter
	timeout time.Duration
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:   strings.TrimSpace(token),
		baseURL: DefaultBaseURL,
		adapter: transport.NewHTTPAdapter(nil, transport.WithDefaultHeader("User-Agent", userAgent)),
		limiter: rate.NewLimiter(defaultRate, defaultBurst),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// SendMessage posts content to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID string, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "send message", http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages", body)
	return err
}

func (c *Client) GetUser(ctx context.Context, userID string) (User, error) {
	res, err := c.do(ctx, "get user", http.MethodGet, "/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return User{}, err
	}
	var user User
	if err := json.Unmarshal(res.Body, &user); err != nil {
		return User{}, core.WrapError(err, goerrors.CategoryExternal, "discord: decode user", core.ErrorInternal, map[string]any{"user_id": userID})
	}
	return user, nil
}

// RegisterCommand creates or overwrites one global application command.
func (c *Client) RegisterCommand(ctx context.Context, applicationID string, command core.CommandDefinition) error {
	body, err := json.Marshal(command)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "register command", http.MethodPost, "/applications/"+url.PathEscape(applicationID)+"/commands", body)
	return err
}

func (c *Client) do(ctx context.Context, operation string, method string, path string, body []byte) (transport.Response, error) {
	if c.token == "" {
		return transport.Response{}, core.NewError("discord: bot token is required", goerrors.CategoryAuth, core.ErrorUnauthorized, nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return transport.Response{}, core.WrapError(err, goerrors.CategoryRateLimit, "discord: rate limit wait", core.ErrorInternal, map[string]any{"operation": operation})
	}
	res, err := c.adapter.Do(ctx, transport.Request{
		Method:  method,
		URL:     c.baseURL + path,
		Headers: map[string]string{"Authorization": "Bot " + c.token},
		Body:    body,
		Timeout: c.timeout,
	})
	if err != nil {
		return transport.Response{}, err
	}
	if !res.IsSuccess() {
		return res, transport.StatusError("discord "+operation, res)
	}
	return res, nil
}
