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
	"slices"

	"github.com/MegaGrindStone/authentifi/internal/models"
	"github.com/tmaxmax/go-sse"
)

// OpenRouter provides an implementation of the completion gateway for OpenRouter's language models.
type OpenRouter struct {
	apiKey       string
	endpoint     string
	model        string
	systemPrompt string

	params LLMParameters

	client *http.Client

	logger *slog.Logger
}

type openRouterChatRequest struct {
	Model            string              `json:"model"`
	Messages         []openRouterMessage `json:"messages"`
	Stream           bool                `json:"stream"`
	Temperature      *float32            `json:"temperature,omitempty"`
	TopP             *float32            `json:"top_p,omitempty"`
	Stop             []string            `json:"stop,omitempty"`
	PresencePenalty  *float32            `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float32            `json:"frequency_penalty,omitempty"`
	Seed             *int                `json:"seed,omitempty"`
	MaxTokens        *int                `json:"max_tokens,omitempty"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

type openRouterStreamingResponse struct {
	Choices []openRouterStreamingChoice `json:"choices"`
	Error   *openRouterError            `json:"error,omitempty"`
}

type openRouterStreamingChoice struct {
	Delta openRouterMessage `json:"delta"`
}

type openRouterError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

const (
	openRouterAPIEndpoint = "https://openrouter.ai/api/v1"
)

// NewOpenRouter creates a new OpenRouter instance with the specified API key, model name, and system prompt.
// An empty endpoint selects the public OpenRouter API.
func NewOpenRouter(apiKey, endpoint, model, systemPrompt string, params LLMParameters, logger *slog.Logger) OpenRouter {
	if endpoint == "" {
		endpoint = openRouterAPIEndpoint
	}
	return OpenRouter{
		apiKey:       apiKey,
		endpoint:     endpoint,
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "openrouter")),
	}
}

// Chat streams responses from the OpenRouter API for a given sequence of messages. The iterator
// ends normally only after the [DONE] sentinel; a body that closes before it yields
// models.ErrStreamInterrupted.
func (o OpenRouter) Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rec := newRequestRecorder("openrouter", o.model)
		var err error
		defer func() { rec.done(err) }()

		fail := func(e error) {
			err = e
			yield("", e)
		}

		resp, dErr := o.doRequest(ctx, messages)
		if dErr != nil {
			fail(dErr)
			return
		}
		defer resp.Body.Close()

		for ev, evErr := range sse.Read(resp.Body, nil) {
			if evErr != nil {
				if ctx.Err() != nil {
					fail(ctx.Err())
					return
				}
				fail(interruptedError(fmt.Errorf("error reading response: %w", evErr)))
				return
			}

			o.logger.Debug("Received event",
				slog.String("event", ev.Data),
			)

			if ev.Data == "[DONE]" {
				return
			}

			var res openRouterStreamingResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				fail(apiError("error unmarshaling response: %v", err))
				return
			}

			if res.Error != nil {
				fail(apiError("openrouter error %v: %s", res.Error.Code, res.Error.Message))
				return
			}

			if len(res.Choices) == 0 {
				continue
			}

			content := res.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			rec.fragment()
			if !yield(content, nil) {
				return
			}
		}

		if ctx.Err() != nil {
			fail(ctx.Err())
			return
		}
		fail(interruptedError(errors.New("stream ended before [DONE]")))
	}
}

func (o OpenRouter) doRequest(ctx context.Context, messages []models.ChatMessage) (*http.Response, error) {
	msgs := make([]openRouterMessage, 0, len(messages)+1)
	for _, msg := range messages {
		msgs = append(msgs, openRouterMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	if o.systemPrompt != "" {
		msgs = slices.Insert(msgs, 0, openRouterMessage{
			Role:    "system",
			Content: o.systemPrompt,
		})
	}

	reqBody := openRouterChatRequest{
		Model:            o.model,
		Messages:         msgs,
		Stream:           true,
		Temperature:      o.params.Temperature,
		TopP:             o.params.TopP,
		Stop:             o.params.Stop,
		PresencePenalty:  o.params.PresencePenalty,
		FrequencyPenalty: o.params.FrequencyPenalty,
		Seed:             o.params.Seed,
		MaxTokens:        o.params.MaxTokens,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apiError("error marshaling request: %v", err)
	}

	o.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.endpoint+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, apiError("error creating request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/MegaGrindStone/authentifi/")
	req.Header.Set("X-Title", "Authentifi")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, fmt.Errorf("error sending request: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, string(body))
	}

	return resp, nil
}
