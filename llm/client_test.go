package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAPIErrorTagsUnavailable(t *testing.T) {
	apiErr := &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}
	err := wrapAPIError(apiErr)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "429")

	reqErr := &openai.RequestError{HTTPStatusCode: 502}
	err = wrapAPIError(reqErr)
	assert.ErrorIs(t, err, ErrUnavailable)

	err = wrapAPIError(errors.New("connection refused"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCompleteAgainstStubEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"queryType\":\"list\"}"}}]
		}`))
	}))
	defer ts.Close()

	c := New(&Config{APIKey: "test", BaseURL: ts.URL, Model: "gpt-4o-mini"})
	out, err := c.Complete(context.Background(), "parse this")
	require.NoError(t, err)
	assert.Contains(t, out, "queryType")
}

func TestCompleteProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "boom", "type": "server_error"}}`, http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := New(&Config{APIKey: "test", BaseURL: ts.URL, Model: "gpt-4o-mini"})
	_, err := c.Complete(context.Background(), "parse this")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCompleteEmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "cmpl-2", "object": "chat.completion", "choices": []}`))
	}))
	defer ts.Close()

	c := New(&Config{APIKey: "test", BaseURL: ts.URL, Model: "gpt-4o-mini"})
	_, err := c.Complete(context.Background(), "parse this")
	assert.ErrorIs(t, err, ErrUnavailable)
}
