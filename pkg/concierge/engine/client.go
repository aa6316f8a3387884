package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conciergebot/concierge/pkg/concierge/config"
)

// Client implements Engine against an OpenAI-compatible
// chat-completions endpoint. The format works with OpenAI, Anthropic
// proxies and any compatible self-hosted server.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	instructions string
	http         *http.Client
	logger       *slog.Logger
}

// NewClient creates an engine client from config.
func NewClient(cfg config.EngineConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		instructions: cfg.Instructions,
		http: &http.Client{
			// No global timeout: streaming runs can take minutes.
			// Deadlines come from the caller's context.
			Transport: &http.Transport{
				MaxIdleConns:          5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 180 * time.Second,
			},
		},
		logger: logger.With("component", "engine"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// buildMessages composes the prompt: instructions, then the recent
// conversation as a context block, then the question itself.
func (c *Client) buildMessages(question string, history []Turn) []chatMessage {
	system := c.instructions
	if system == "" {
		system = "You are a helpful assistant in a team chat. Answer concisely in the chat's markdown dialect."
	}

	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation in this topic:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Text)
		}
		b.WriteString("\n")
	}
	b.WriteString(question)

	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// Ask implements Engine.
func (c *Client) Ask(ctx context.Context, question string, history []Turn) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: c.buildMessages(question, history),
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, payload)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &RunError{Status: "transport", Detail: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RunError{Status: "transport", Detail: err.Error()}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &RunError{Status: "malformed", Detail: fmt.Sprintf("%.200s", raw)}
	}
	if resp.StatusCode != http.StatusOK || out.Error != nil {
		detail := fmt.Sprintf("http %d", resp.StatusCode)
		if out.Error != nil {
			detail = out.Error.Message
		}
		return "", &RunError{Status: "api_error", Detail: detail}
	}
	if len(out.Choices) == 0 {
		return "", &RunError{Status: "empty", Detail: "no choices in response"}
	}
	return out.Choices[0].Message.Content, nil
}

// AskStream implements Engine. The endpoint streams server-sent-event
// chunks; deltas are accumulated and onUpdate receives the cumulative
// text after each chunk.
func (c *Client) AskStream(ctx context.Context, question string, history []Turn, onUpdate StreamFunc) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: c.buildMessages(question, history),
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, payload)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &RunError{Status: "transport", Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &RunError{Status: "api_error", Detail: fmt.Sprintf("http %d: %.200s", resp.StatusCode, raw)}
	}

	var acc strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping malformed stream chunk", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			acc.WriteString(delta)
			if onUpdate != nil {
				onUpdate(acc.String())
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", &RunError{Status: "stream", Detail: err.Error()}
	}
	if acc.Len() == 0 {
		return "", &RunError{Status: "empty", Detail: "stream produced no content"}
	}
	return acc.String(), nil
}

var _ Engine = (*Client)(nil)
