package services_test

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/authentifi/internal/models"
	"github.com/MegaGrindStone/authentifi/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateway interface {
	Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error]
}

type gatewayCase struct {
	name          string
	status        int
	body          string
	wantFragments []string
	wantErr       error
}

var question = []models.ChatMessage{
	{Role: models.RoleUser, Content: "What is carbon pricing?"},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func streamServer(t *testing.T, path string, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		if status == http.StatusOK {
			w.Header().Set("Content-Type", "text/event-stream")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func closedServerURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	return srv.URL
}

func collect(gw gateway) ([]string, error) {
	var fragments []string
	for fragment, err := range gw.Chat(context.Background(), question) {
		if err != nil {
			return fragments, err
		}
		fragments = append(fragments, fragment)
	}
	return fragments, nil
}

func runGatewayCases(t *testing.T, tests []gatewayCase, newGateway func(url string) gateway, path string) {
	t.Helper()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := streamServer(t, path, tt.status, tt.body)

			fragments, err := collect(newGateway(srv.URL))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantFragments, fragments)
		})
	}
}

func sseData(lines ...string) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString("data: ")
		sb.WriteString(l)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func openAIChunk(content, finish string) string {
	reason := "null"
	if finish != "" {
		reason = `"` + finish + `"`
	}
	return `{"id":"1","object":"chat.completion.chunk","created":1,"model":"gpt-4-turbo-preview",` +
		`"choices":[{"index":0,"delta":{"content":"` + content + `"},"finish_reason":` + reason + `}]}`
}

func TestOpenAI_Chat(t *testing.T) {
	tests := []gatewayCase{
		{
			name:   "stream",
			status: http.StatusOK,
			body: sseData(
				openAIChunk("Carbon ", ""),
				openAIChunk("pricing is...", ""),
				openAIChunk(" a market mechanism.", ""),
				openAIChunk("", "stop"),
				"[DONE]",
			),
			wantFragments: []string{"Carbon ", "pricing is...", " a market mechanism."},
		},
		{
			name:          "no finish reason",
			status:        http.StatusOK,
			body:          sseData(openAIChunk("Carbon ", "")),
			wantFragments: []string{"Carbon "},
			wantErr:       models.ErrStreamInterrupted,
		},
		{
			name:    "rate limited",
			status:  http.StatusTooManyRequests,
			body:    `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
			wantErr: models.ErrGatewayError,
		},
	}

	runGatewayCases(t, tests, func(url string) gateway {
		return services.NewOpenAI("key", url+"/v1", "", "", services.LLMParameters{}, discardLogger())
	}, "/v1/chat/completions")
}

func TestOpenAI_ChatUnavailable(t *testing.T) {
	gw := services.NewOpenAI("key", closedServerURL()+"/v1", "", "", services.LLMParameters{}, discardLogger())

	fragments, err := collect(gw)
	require.ErrorIs(t, err, models.ErrGatewayUnavailable)
	assert.Empty(t, fragments)
}

func ollamaLine(content string, done bool) string {
	d := "false"
	if done {
		d = "true"
	}
	return `{"model":"llama3","created_at":"2024-01-15T10:30:00Z",` +
		`"message":{"role":"assistant","content":"` + content + `"},"done":` + d + "}\n"
}

func TestOllama_Chat(t *testing.T) {
	tests := []gatewayCase{
		{
			name:   "stream",
			status: http.StatusOK,
			body: ollamaLine("Carbon ", false) +
				ollamaLine("pricing is...", false) +
				ollamaLine(" a market mechanism.", false) +
				ollamaLine("", true),
			wantFragments: []string{"Carbon ", "pricing is...", " a market mechanism."},
		},
		{
			name:          "never done",
			status:        http.StatusOK,
			body:          ollamaLine("Carbon ", false),
			wantFragments: []string{"Carbon "},
			wantErr:       models.ErrStreamInterrupted,
		},
		{
			name:    "server error message",
			status:  http.StatusOK,
			body:    `{"error":"model \"llama3\" not found"}` + "\n",
			wantErr: models.ErrGatewayError,
		},
		{
			name:    "model missing",
			status:  http.StatusNotFound,
			body:    `{}`,
			wantErr: models.ErrGatewayError,
		},
	}

	runGatewayCases(t, tests, func(url string) gateway {
		gw, err := services.NewOllama(url, "llama3", "", services.LLMParameters{}, discardLogger())
		require.NoError(t, err)
		return gw
	}, "/api/chat")
}

func anthropicEvent(typ, data string) string {
	return "event: " + typ + "\ndata: " + data + "\n\n"
}

func anthropicDelta(text string) string {
	return anthropicEvent("content_block_delta",
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"`+text+`"}}`)
}

func TestAnthropic_Chat(t *testing.T) {
	tests := []gatewayCase{
		{
			name:   "stream",
			status: http.StatusOK,
			body: anthropicEvent("message_start", `{"type":"message_start"}`) +
				anthropicDelta("Carbon ") +
				anthropicEvent("ping", `{"type":"ping"}`) +
				anthropicDelta("pricing is...") +
				anthropicDelta(" a market mechanism.") +
				anthropicEvent("message_stop", `{"type":"message_stop"}`),
			wantFragments: []string{"Carbon ", "pricing is...", " a market mechanism."},
		},
		{
			name:          "cut before message_stop",
			status:        http.StatusOK,
			body:          anthropicDelta("Carbon "),
			wantFragments: []string{"Carbon "},
			wantErr:       models.ErrStreamInterrupted,
		},
		{
			name:   "error event",
			status: http.StatusOK,
			body: anthropicDelta("Carbon ") +
				anthropicEvent("error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`),
			wantFragments: []string{"Carbon "},
			wantErr:       models.ErrGatewayError,
		},
		{
			name:    "unauthorized",
			status:  http.StatusUnauthorized,
			body:    `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantErr: models.ErrGatewayError,
		},
		{
			name:    "overloaded upstream",
			status:  http.StatusServiceUnavailable,
			body:    `{}`,
			wantErr: models.ErrGatewayUnavailable,
		},
	}

	runGatewayCases(t, tests, func(url string) gateway {
		return services.NewAnthropic("key", url, "claude", "", 1024, services.LLMParameters{}, discardLogger())
	}, "/messages")
}

func TestAnthropic_ChatUnavailable(t *testing.T) {
	gw := services.NewAnthropic("key", closedServerURL(), "claude", "", 1024, services.LLMParameters{}, discardLogger())

	_, err := collect(gw)
	require.ErrorIs(t, err, models.ErrGatewayUnavailable)
}

func openRouterChunk(content string) string {
	return `{"choices":[{"delta":{"role":"assistant","content":"` + content + `"}}]}`
}

func TestOpenRouter_Chat(t *testing.T) {
	tests := []gatewayCase{
		{
			name:   "stream",
			status: http.StatusOK,
			body: ": OPENROUTER PROCESSING\n\n" + sseData(
				openRouterChunk("Carbon "),
				openRouterChunk("pricing is..."),
				openRouterChunk(" a market mechanism."),
				"[DONE]",
			),
			wantFragments: []string{"Carbon ", "pricing is...", " a market mechanism."},
		},
		{
			name:          "cut before done",
			status:        http.StatusOK,
			body:          sseData(openRouterChunk("Carbon ")),
			wantFragments: []string{"Carbon "},
			wantErr:       models.ErrStreamInterrupted,
		},
		{
			name:   "mid-stream error",
			status: http.StatusOK,
			body: sseData(
				openRouterChunk("Carbon "),
				`{"error":{"code":502,"message":"Provider disconnected"}}`,
			),
			wantFragments: []string{"Carbon "},
			wantErr:       models.ErrGatewayError,
		},
		{
			name:    "rate limited",
			status:  http.StatusTooManyRequests,
			body:    `{"error":{"code":429,"message":"Rate limit exceeded"}}`,
			wantErr: models.ErrGatewayError,
		},
	}

	runGatewayCases(t, tests, func(url string) gateway {
		return services.NewOpenRouter("key", url, "openai/gpt-4o", "", services.LLMParameters{}, discardLogger())
	}, "/chat/completions")
}

func TestGateway_ChatCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gw := services.NewOpenRouter("key", closedServerURL(), "openai/gpt-4o", "", services.LLMParameters{}, discardLogger())

	var err error
	for _, e := range gw.Chat(ctx, question) {
		err = e
	}
	require.ErrorIs(t, err, context.Canceled)
}

func TestGateway_ChatInvalidEndpoint(t *testing.T) {
	const endpoint = "://missing-scheme"

	tests := []struct {
		name string
		gw   gateway
	}{
		{
			name: "anthropic",
			gw:   services.NewAnthropic("key", endpoint, "claude", "", 1024, services.LLMParameters{}, discardLogger()),
		},
		{
			name: "openrouter",
			gw:   services.NewOpenRouter("key", endpoint, "openai/gpt-4o", "", services.LLMParameters{}, discardLogger()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fragments, err := collect(tt.gw)

			assert.Empty(t, fragments)
			require.ErrorIs(t, err, models.ErrGatewayError)
			assert.NotErrorIs(t, err, models.ErrGatewayUnavailable)
		})
	}
}
