package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/authentifi/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for large language model interactions. It implements
// the completion gateway and handles streaming chat completions using Claude models.
type Anthropic struct {
	apiKey       string
	endpoint     string
	model        string
	systemPrompt string
	maxTokens    int

	params LLMParameters

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float32           `json:"temperature,omitempty"`
	TopP          *float32           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
)

// NewAnthropic creates a new Anthropic instance with the specified API key, model name, and maximum
// token limit. An empty endpoint selects the public Anthropic API.
func NewAnthropic(
	apiKey, endpoint, model, systemPrompt string,
	maxTokens int,
	params LLMParameters,
	logger *slog.Logger,
) Anthropic {
	if endpoint == "" {
		endpoint = anthropicAPIEndpoint
	}
	return Anthropic{
		apiKey:       apiKey,
		endpoint:     endpoint,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		params:       params,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "anthropic")),
	}
}

// Chat streams responses from the Anthropic API for a given sequence of messages. The iterator
// ends normally only after a message_stop event; a body that closes before it yields
// models.ErrStreamInterrupted.
func (a Anthropic) Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rec := newRequestRecorder("anthropic", a.model)
		var err error
		defer func() { rec.done(err) }()

		fail := func(e error) {
			err = e
			yield("", e)
		}

		msgs := make([]anthropicMessage, len(messages))
		for i, msg := range messages {
			msgs[i] = anthropicMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			}
		}

		reqBody := anthropicChatRequest{
			Model:         a.model,
			Messages:      msgs,
			Stream:        true,
			System:        a.systemPrompt,
			MaxTokens:     a.maxTokens,
			Temperature:   a.params.Temperature,
			TopP:          a.params.TopP,
			StopSequences: a.params.Stop,
		}

		jsonBody, mErr := json.Marshal(reqBody)
		if mErr != nil {
			fail(apiError("error marshaling request: %v", mErr))
			return
		}

		a.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

		req, rErr := http.NewRequestWithContext(ctx, http.MethodPost,
			a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
		if rErr != nil {
			fail(apiError("error creating request: %v", rErr))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, dErr := a.client.Do(req)
		if dErr != nil {
			fail(transportError(ctx, fmt.Errorf("error sending request: %w", dErr)))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			fail(statusError(resp.StatusCode, string(body)))
			return
		}

		for ev, evErr := range sse.Read(resp.Body, nil) {
			if evErr != nil {
				if ctx.Err() != nil {
					fail(ctx.Err())
					return
				}
				fail(interruptedError(fmt.Errorf("error reading response: %w", evErr)))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					fail(apiError("error unmarshaling error: %v", err))
					return
				}
				fail(apiError("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			case "message_stop":
				return
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					fail(apiError("error unmarshaling response: %v", err))
					return
				}
				if res.Delta.Text == "" {
					continue
				}
				rec.fragment()
				if !yield(res.Delta.Text, nil) {
					return
				}
			default:
				continue
			}
		}

		if ctx.Err() != nil {
			fail(ctx.Err())
			return
		}
		fail(interruptedError(errors.New("stream ended before message_stop")))
	}
}
