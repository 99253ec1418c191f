package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	"github.com/MegaGrindStone/authentifi/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the completion gateway for OpenAI's chat models.
type OpenAI struct {
	model        string
	systemPrompt string

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// DefaultOpenAIModel is the model used when the configuration does not name one.
const DefaultOpenAIModel = "gpt-4-turbo-preview"

// NewOpenAI creates a new OpenAI instance. An empty baseURL selects the public OpenAI endpoint.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string, params LLMParameters, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(systemPrompt string, messages []models.ChatMessage) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	for _, msg := range messages {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	if systemPrompt != "" {
		msgs = slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	return msgs
}

// Chat is a wrapper around the OpenAI streaming chat completion API. The iterator ends normally
// only after the API reported a finish reason; a stream that stops before that yields
// models.ErrStreamInterrupted.
func (o OpenAI) Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rec := newRequestRecorder("openai", o.model)
		var err error
		defer func() { rec.done(err) }()

		fail := func(e error) {
			err = e
			yield("", e)
		}

		req := o.chatRequest(openAIMessages(o.systemPrompt, messages))

		reqJSON, jErr := json.Marshal(req)
		if jErr == nil {
			o.logger.Debug("Request", slog.String("req", string(reqJSON)))
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, sErr := o.client.CreateChatCompletionStream(ctx, req)
		if sErr != nil {
			fail(openAIError(ctx, sErr))
			return
		}
		defer stream.Close()

		finished := false
		for {
			response, rErr := stream.Recv()
			if rErr != nil {
				if errors.Is(rErr, io.EOF) {
					break
				}
				if ctx.Err() != nil {
					fail(ctx.Err())
					return
				}
				fail(openAIError(ctx, rErr))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			if choice.FinishReason != "" {
				finished = true
			}
			if choice.Delta.Content == "" {
				continue
			}
			rec.fragment()
			if !yield(choice.Delta.Content, nil) {
				return
			}
		}

		if !finished {
			fail(interruptedError(errors.New("stream ended without a finish reason")))
		}
	}
}

func openAIError(ctx context.Context, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiError("openai error %v: %s", apiErr.Code, apiErr.Message)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	if errors.Is(err, goopenai.ErrTooManyEmptyStreamMessages) {
		return apiError("%s", err.Error())
	}
	return transportError(ctx, fmt.Errorf("error sending request: %w", err))
}

func (o OpenAI) chatRequest(messages []goopenai.ChatCompletionMessage) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		req.PresencePenalty = *o.params.PresencePenalty
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}
	if o.params.FrequencyPenalty != nil {
		req.FrequencyPenalty = *o.params.FrequencyPenalty
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}

	return req
}
