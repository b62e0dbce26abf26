package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/conversation"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/models"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/settings"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/stream"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, options ...Option) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := settings.NewClientSettings()
	s.APIKey = "sk-test"
	s.BaseURL = srv.URL + "/v1/"
	return NewClient(s, options...)
}

var hi = conversation.Conversation{conversation.NewUserMessage("Hi")}

func TestOpenSendsStreamingRequest(t *testing.T) {
	var got openai.ChatCompletionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hello"}}]}`+"\n\ndata: [DONE]\n\n")
	})

	msgs := conversation.Conversation{
		conversation.NewSystemMessage("be brief"),
		conversation.NewUserMessage("Hi"),
	}
	resp, err := client.Open(context.Background(), "gpt-4", msgs)
	require.NoError(t, err)
	require.True(t, resp.OK)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "[DONE]")

	assert.Equal(t, "gpt-4", got.Model)
	assert.True(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "Hi", got.Messages[1].Content)
}

func TestOpenMapsRejections(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		payload string
	}{
		{
			name:    "provider error json",
			status:  http.StatusUnauthorized,
			body:    `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`,
			payload: "Incorrect API key provided",
		},
		{
			name:    "plain text",
			status:  http.StatusBadGateway,
			body:    "upstream down\n",
			payload: "upstream down",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, tt.body)
			})
			resp, err := client.Open(context.Background(), "gpt-4", hi)
			require.NoError(t, err)
			assert.False(t, resp.OK)
			assert.Nil(t, resp.Body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.payload, resp.ErrorPayload)
		})
	}
}

func TestOpenValidatesBeforeSending(t *testing.T) {
	registry, err := models.Default()
	require.NoError(t, err)

	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, WithRegistry(registry))

	_, err = client.Open(context.Background(), "not-a-model", hi)
	assert.True(t, errors.Is(err, models.ErrUnknownModel))

	_, err = client.Open(context.Background(), "gpt-4", nil)
	assert.True(t, errors.Is(err, ErrEmptyConversation))

	assert.False(t, called)
}

func TestOpenConnectionFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := settings.NewClientSettings()
	s.BaseURL = url
	_, err := NewClient(s).Open(context.Background(), "gpt-4", hi)
	assert.True(t, errors.Is(err, stream.ErrStreamUnavailable))
}

func TestOpenFeedsSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
		_, _ = fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"lo"}}]}`+"\n\n")
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	m := conversation.NewManager(conversation.WithOpener(client), conversation.WithModel("gpt-4"))
	p, err := m.SendUserTurn(conversation.Path{}, "Hi")
	require.NoError(t, err)

	h, p, err := m.BeginCompletion(context.Background(), p)
	require.NoError(t, err)
	res, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, stream.ReasonDone, res.Reason)

	conv, err := m.GetConversation(p)
	require.NoError(t, err)
	assert.Equal(t, "Hello", conv[len(conv)-1].Content)
}

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"object":"list","data":[{"id":"gpt-4","object":"model"},{"id":"gpt-3.5-turbo","object":"model"}]}`)
	})

	ids, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-3.5-turbo", "gpt-4"}, ids)
}
