package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryKnowsProviders(t *testing.T) {
	names := Providers()
	for _, want := range []string{"openai", "anthropic", "claude", "scripted"} {
		require.Contains(t, names, want)
	}

	_, err := NewClient(FactoryConfig{Provider: "nope"})
	require.Error(t, err)

	_, err = NewClient(FactoryConfig{Provider: "openai"})
	require.ErrorContains(t, err, "API key")
}

func TestScriptedCyclesResponses(t *testing.T) {
	client, err := NewClient(FactoryConfig{Provider: "scripted", Script: []string{"a", "b"}})
	require.NoError(t, err)

	ctx := context.Background()
	var got []string
	for i := 0; i < 3; i++ {
		out, err := client.Invoke(ctx, Request{Prompt: "p"})
		require.NoError(t, err)
		got = append(got, out)
	}
	require.Equal(t, []string{"a", "b", "a"}, got)
	require.Equal(t, 3, client.(*Scripted).Calls())
}

func TestScriptedHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScripted("x").Invoke(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenAIRequestsJSONObject(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": " {\"ok\":true} "}}]
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(FactoryConfig{
		Provider:     "openai",
		APIKey:       "test-key",
		BaseURL:      srv.URL + "/",
		SystemPrompt: "be neutral",
	})
	require.NoError(t, err)

	out, err := client.Invoke(context.Background(), Request{Prompt: "decide", Format: FormatJSON})
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, out)

	require.Equal(t, "gpt-4o", body["model"])
	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok, "response_format missing: %v", body)
	require.Equal(t, "json_object", format["type"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
}
