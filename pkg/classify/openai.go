package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultModel         = "gpt-4o-mini"
	maxRetries           = 3
	initialRetryDelay    = 1 * time.Second
	backoffFactor        = 2.0
)

const categorizePrompt = `Classify the following personal memory text.

Respond with ONLY a JSON object:
{
  "type": "<one of: fact, preference, note, event, opinion>",
  "importance": <number between 0 and 1>,
  "tags": ["<short lowercase topic tags>"],
  "entities": [{"name": "<entity name>", "type": "<person|place|organization|concept|other>"}],
  "metadata": {}
}

Memory text:
%s`

const conflictPrompt = `Compare two personal memory texts and decide whether the NEW memory
contradicts the EXISTING memory, and whether the NEW memory merely refines
or extends the EXISTING one.

Respond with ONLY a JSON object:
{
  "hasConflict": <true|false>,
  "confidence": <number between 0 and 1>,
  "refines": <true|false>
}

EXISTING memory:
%s

NEW memory:
%s`

// OpenAIClassifier implements Classifier against OpenAI's Chat Completions
// API. Retries transient failures with exponential backoff and jitter.
type OpenAIClassifier struct {
	APIKey  string
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOpenAIClassifier creates a new OpenAI-backed classifier.
func NewOpenAIClassifier(apiKey string) *OpenAIClassifier {
	return &OpenAIClassifier{
		APIKey:  apiKey,
		Model:   defaultModel,
		BaseURL: defaultOpenAIBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Categorize classifies a memory text.
func (o *OpenAIClassifier) Categorize(ctx context.Context, text string) (*Categorization, error) {
	var wire categorizationWire
	if err := o.completeJSON(ctx, fmt.Sprintf(categorizePrompt, text), &wire); err != nil {
		return nil, err
	}
	return wire.categorization(), nil
}

// DetectConflict judges whether newText contradicts existingText.
func (o *OpenAIClassifier) DetectConflict(ctx context.Context, existingText, newText string) (*ConflictAssessment, error) {
	var wire conflictWire
	if err := o.completeJSON(ctx, fmt.Sprintf(conflictPrompt, existingText, newText), &wire); err != nil {
		return nil, err
	}
	return wire.assessment(), nil
}

// completeJSON sends a prompt and unmarshals the JSON response into out,
// stripping markdown code fences the model sometimes wraps JSON in.
func (o *OpenAIClassifier) completeJSON(ctx context.Context, prompt string, out any) error {
	response, err := o.complete(ctx, prompt)
	if err != nil {
		return err
	}

	cleaned := stripMarkdownCodeFence(response)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("failed to unmarshal classifier response: %w", err)
	}
	return nil
}

// complete runs the chat completion with retry on transient failures.
func (o *OpenAIClassifier) complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	delay := initialRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Jitter: random value between 0.5x and 1.5x of delay.
			jitter := delay/2 + time.Duration(rand.Int63n(int64(delay)))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay = time.Duration(float64(delay) * backoffFactor)
		}

		result, err := o.makeRequest(ctx, prompt)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (o *OpenAIClassifier) makeRequest(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: o.Model,
		Messages: []message{
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Retry on 429 (rate limit) and 5xx errors.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &retryableError{err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))}
		}
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	return apiResp.Choices[0].Message.Content, nil
}

// stripMarkdownCodeFence removes markdown code fences from model responses.
// Handles formats like: ```json\n...\n``` or ```\n...\n```
func stripMarkdownCodeFence(s string) string {
	s = strings.TrimSpace(s)

	re := regexp.MustCompile("(?s)^```(?:json)?\\s*\n?(.*?)\\s*```$")
	if matches := re.FindStringSubmatch(s); len(matches) == 2 {
		return strings.TrimSpace(matches[1])
	}

	return s
}

// retryableError indicates an error that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func shouldRetry(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}
