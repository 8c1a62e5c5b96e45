package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tripsync/apperr"
	"tripsync/models"
)

const systemPrompt = "You are a friendly travel planner. Suggest concrete activities as bold headings " +
	"(**Title**) followed by a short description, duration, location and what's included. " +
	"Group suggestions under Day 1, Day 2, ... when planning multiple days."

// Client posts a transcript to an OpenAI-compatible chat completion endpoint and
// streams the answer back through an Assembler.
type Client struct {
	Endpoint   string
	APIKey     string
	Model      string
	System     string
	HTTPClient *http.Client
}

func NewClient(endpoint, apiKey, model string) *Client {
	return &Client{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		Model:      model,
		System:     systemPrompt,
		HTTPClient: &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// Stream sends messages and calls onUpdate with every growth of the reply.
func (c *Client) Stream(ctx context.Context, messages []models.Message, onUpdate func(string)) (string, error) {
	payload := completionRequest{Model: c.Model, Stream: true}
	if c.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: c.System})
	}
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		payload.Messages = append(payload.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", apperr.New(apperr.KindUnknown, "Could not prepare the chat request.", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperr.New(apperr.KindUnknown, "Could not prepare the chat request.", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", apperr.Classify(err)
		}
		return "", apperr.Network("Could not reach the assistant. Check your connection and try again.", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp)
	}
	return Assemble(ctx, resp.Body, onUpdate)
}

func statusError(resp *http.Response) error {
	cause := fmt.Errorf("chat api error: %s", resp.Status)
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error.Message != "" {
		cause = fmt.Errorf("chat api error: %s: %s", resp.Status, payload.Error.Message)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return apperr.Network("The assistant is busy right now. Please try again.", cause)
	default:
		return apperr.New(apperr.KindUnknown, "The assistant could not answer this request.", cause)
	}
}
