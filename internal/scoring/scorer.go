// Package scoring turns batches of posts into scam-probability scores via
// an OpenRouter chat completion.
package scoring

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/vigia-labs/scamwatch/internal/model"
	"github.com/vigia-labs/scamwatch/internal/resilience"
	"github.com/vigia-labs/scamwatch/pkg/openrouter"
)

// Scorer scores one batch of posts. offset is the global index of the
// batch's first post within the full input sequence.
type Scorer interface {
	ScoreBatch(ctx context.Context, offset int, posts []model.Post) ([]model.ScoredPost, error)
}

// LLMScorer implements Scorer on top of the OpenRouter chat API.
type LLMScorer struct {
	client openrouter.Client
	model  string
}

// NewLLMScorer creates a scorer using the given client and model.
func NewLLMScorer(client openrouter.Client, modelName string) *LLMScorer {
	return &LLMScorer{client: client, model: modelName}
}

// ScoreBatch sends the batch through the LLM and aligns the returned score
// map with the input posts. A response that does not cover exactly the
// batch's indices is a MalformedResponseError: the orchestrator's retry
// layer treats it as transient.
func (s *LLMScorer) ScoreBatch(ctx context.Context, offset int, posts []model.Post) ([]model.ScoredPost, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	texts := make([]string, len(posts))
	for i, p := range posts {
		texts[i] = p.Text
	}

	resp, err := s.client.ChatCompletion(ctx, openrouter.ChatCompletionRequest{
		Model: s.model,
		Messages: []openrouter.Message{
			{Role: "user", Content: buildPrompt(offset, texts)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "scoring: chat completion")
	}

	scores, err := parseScores(resp.Content())
	if err != nil {
		return nil, err
	}

	scored := make([]model.ScoredPost, len(posts))
	for i, p := range posts {
		prob, ok := scores[offset+i]
		if !ok {
			return nil, resilience.NewMalformedResponseError(
				eris.Errorf("scoring: response missing score for index %d (batch of %d at offset %d)", offset+i, len(posts), offset))
		}
		scored[i] = model.ScoredPost{Post: p, ScamProbability: prob}
	}
	return scored, nil
}

// parseScores decodes the model's JSON score map after stripping fences.
// Keys must be decimal string indices; values must be within [0, 1].
func parseScores(content string) (map[int]float64, error) {
	cleaned := cleanJSON(content)

	var raw map[string]float64
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, resilience.NewMalformedResponseError(eris.Wrap(err, "scoring: parse score map"))
	}

	scores := make(map[int]float64, len(raw))
	for key, prob := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, resilience.NewMalformedResponseError(eris.Errorf("scoring: non-numeric score key %q", key))
		}
		if prob < 0 || prob > 1 {
			return nil, resilience.NewMalformedResponseError(eris.Errorf("scoring: probability %v out of range for index %d", prob, idx))
		}
		scores[idx] = prob
	}
	return scores, nil
}
