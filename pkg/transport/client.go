package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/conversation"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/models"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/settings"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/stream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

var ErrEmptyConversation = errors.New("refusing to complete an empty message list")

const maxErrorBody = 64 * 1024

// Client opens chat completion streams against an OpenAI compatible endpoint.
type Client struct {
	settings   *settings.ClientSettings
	registry   *models.Registry
	httpClient *http.Client
}

var _ conversation.Opener = (*Client)(nil)

type Option func(*Client)

// WithRegistry restricts Open to the models known to r.
func WithRegistry(r *models.Registry) Option {
	return func(c *Client) {
		c.registry = r
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(s *settings.ClientSettings, options ...Option) *Client {
	ret := &Client{
		settings: s.Clone(),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.httpClient == nil {
		ret.httpClient = s.HTTPClient
	}
	if ret.httpClient == nil {
		ret.httpClient = newHTTPClient(s.Timeout)
	}
	return ret
}

// newHTTPClient bounds connecting and waiting for headers only. The body of a stream
// may take much longer than timeout to arrive.
func newHTTPClient(timeout *time.Duration) *http.Client {
	if timeout == nil {
		return &http.Client{}
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: *timeout}).DialContext
	t.ResponseHeaderTimeout = *timeout
	return &http.Client{Transport: t}
}

func (c *Client) endpoint() string {
	return strings.TrimRight(c.settings.BaseURL, "/") + "/chat/completions"
}

func toOpenAIMessages(msgs conversation.Conversation) []openai.ChatCompletionMessage {
	ret := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		ret = append(ret, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return ret
}

// Open sends the conversation and returns the response stream. A non-2xx status is not
// an error: the response comes back with OK unset and the error body attached.
func (c *Client) Open(ctx context.Context, model string, msgs conversation.Conversation) (*stream.Response, error) {
	if c.registry != nil {
		if err := c.registry.Validate(model); err != nil {
			return nil, err
		}
	}
	if len(msgs) == 0 {
		return nil, ErrEmptyConversation
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(msgs),
		Stream:   true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode completion request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "could not create completion request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if c.settings.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.settings.APIKey)
	}
	if c.settings.Organization != nil {
		httpReq.Header.Set("OpenAI-Organization", *c.settings.Organization)
	}
	if c.settings.UserAgent != nil {
		httpReq.Header.Set("User-Agent", *c.settings.UserAgent)
	}

	log.Debug().
		Str("url", httpReq.URL.String()).
		Str("model", model).
		Int("messages", len(msgs)).
		Msg("opening completion stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &stream.UnavailableError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() {
			_ = resp.Body.Close()
		}()
		payload := readErrorPayload(resp.Body)
		log.Warn().
			Int("status", resp.StatusCode).
			Str("payload", payload).
			Msg("completion request rejected")
		return &stream.Response{
			OK:           false,
			StatusCode:   resp.StatusCode,
			ErrorPayload: payload,
		}, nil
	}

	return &stream.Response{
		OK:         true,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}, nil
}

// readErrorPayload prefers the provider's error.message over the raw body.
func readErrorPayload(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil && len(b) == 0 {
		return err.Error()
	}
	if gjson.ValidBytes(b) {
		if msg := gjson.GetBytes(b, "error.message"); msg.Exists() && msg.String() != "" {
			return msg.String()
		}
	}
	return strings.TrimSpace(string(b))
}

func (c *Client) openAIClient() *openai.Client {
	config := openai.DefaultConfig(c.settings.APIKey)
	config.BaseURL = strings.TrimRight(c.settings.BaseURL, "/")
	config.HTTPClient = c.httpClient
	if c.settings.Organization != nil {
		config.OrgID = *c.settings.Organization
	}
	return openai.NewClientWithConfig(config)
}

// ListModels asks the provider which model ids it serves, sorted.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.openAIClient().ListModels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not list models")
	}
	ret := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ret = append(ret, m.ID)
	}
	sort.Strings(ret)
	return ret, nil
}
