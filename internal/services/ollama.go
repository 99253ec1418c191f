package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/MegaGrindStone/authentifi/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the completion gateway for models served by an Ollama
// instance. It manages the connection to the server and handles streaming chat completions.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	params LLMParameters

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server.
func NewOllama(host, model, systemPrompt string, params LLMParameters, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

// Chat streams the model's answer for the given conversation. The iterator ends normally only
// once Ollama marks a response as done.
func (o Ollama) Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rec := newRequestRecorder("ollama", o.model)
		var err error
		defer func() { rec.done(err) }()

		msgs := make([]api.Message, len(messages))
		for i, msg := range messages {
			msgs[i] = api.Message{
				Role:    string(msg.Role),
				Content: msg.Content,
			}
		}
		if o.systemPrompt != "" {
			msgs = slices.Insert(msgs, 0, api.Message{
				Role:    "system",
				Content: o.systemPrompt,
			})
		}

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
			Options:  o.options(),
		}

		o.logger.Debug("Request",
			slog.String("host", o.host),
			slog.Int("messages", len(msgs)))

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		finished := false
		cErr := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if res.Done {
				finished = true
			}
			if res.Message.Content == "" {
				return nil
			}
			rec.fragment()
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		})
		if stopped {
			return
		}
		if cErr != nil {
			err = ollamaError(ctx, cErr)
			yield("", err)
			return
		}
		if !finished {
			err = interruptedError(errors.New("stream ended before done"))
			yield("", err)
		}
	}
}

// ollamaError classifies a client error. Transport failures surface as *url.Error; anything else
// that is not a status error is an error message reported by the server inside the stream.
func ollamaError(ctx context.Context, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusError(statusErr.StatusCode, statusErr.ErrorMessage)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || ctx.Err() != nil {
		return transportError(ctx, fmt.Errorf("error sending request: %w", err))
	}
	return apiError("ollama error: %v", err)
}

func (o Ollama) options() map[string]any {
	opts := make(map[string]any)
	if o.params.Temperature != nil {
		opts["temperature"] = *o.params.Temperature
	}
	if o.params.TopP != nil {
		opts["top_p"] = *o.params.TopP
	}
	if o.params.Stop != nil {
		opts["stop"] = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		opts["presence_penalty"] = *o.params.PresencePenalty
	}
	if o.params.FrequencyPenalty != nil {
		opts["frequency_penalty"] = *o.params.FrequencyPenalty
	}
	if o.params.Seed != nil {
		opts["seed"] = *o.params.Seed
	}
	if o.params.MaxTokens != nil {
		opts["num_predict"] = *o.params.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}
