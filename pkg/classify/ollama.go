package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaClassifier implements Classifier against a local Ollama instance,
// using constrained JSON output.
type OllamaClassifier struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaClassifier creates a new Ollama-backed classifier.
// baseURL is typically "http://localhost:11434";
// model is the LLM model name, e.g. "mistral".
func NewOllamaClassifier(baseURL, model string) *OllamaClassifier {
	return &OllamaClassifier{
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout: 300 * time.Second, // slow local models
		},
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Categorize classifies a memory text.
func (c *OllamaClassifier) Categorize(ctx context.Context, text string) (*Categorization, error) {
	var wire categorizationWire
	if err := c.generateJSON(ctx, fmt.Sprintf(categorizePrompt, text), &wire); err != nil {
		return nil, err
	}
	return wire.categorization(), nil
}

// DetectConflict judges whether newText contradicts existingText.
func (c *OllamaClassifier) DetectConflict(ctx context.Context, existingText, newText string) (*ConflictAssessment, error) {
	var wire conflictWire
	if err := c.generateJSON(ctx, fmt.Sprintf(conflictPrompt, existingText, newText), &wire); err != nil {
		return nil, err
	}
	return wire.assessment(), nil
}

func (c *OllamaClassifier) generateJSON(ctx context.Context, prompt string, out any) error {
	reqBody := ollamaGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if err := json.Unmarshal([]byte(result.Response), out); err != nil {
		return fmt.Errorf("unmarshal classifier response: %w (response: %s)", err, result.Response)
	}

	return nil
}
