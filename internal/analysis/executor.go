package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// Job types the executor understands.
const (
	JobTypeAnalysis           = "analysis"
	JobTypeFeatureSuggestions = "feature_suggestions"
)

const analysisPrompt = `You are a CV reviewer. Analyze the document below and return a JSON object with exactly these keys:
- "summary": one-paragraph assessment of the document
- "strengths": array of strings, the strongest points
- "gaps": array of strings, missing or weak areas
- "keywords": array of strings, notable skills and terms found

Document:
%s`

const suggestionsPrompt = `You are a CV builder assistant. Given the analysis below, return a JSON object with exactly these keys:
- "recommended_features": array of strings, feature identifiers worth enabling
- "reasons": object mapping each recommended feature to a one-sentence reason

Analysis:
%s`

// Executor runs analysis jobs against a Generator. It implements the
// processing queue's executor contract.
type Executor struct {
	gen    Generator
	logger *zap.Logger
}

// NewExecutor creates an executor backed by the given generator.
func NewExecutor(gen Generator, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{gen: gen, logger: logger}
}

// Execute dispatches one job by type. Results are opaque maps the queue
// stores on the job's checkpoint.
func (e *Executor) Execute(ctx context.Context, job types.ProcessingJob, report func(int, map[string]any)) (map[string]any, error) {
	switch job.Type {
	case JobTypeAnalysis:
		return e.analyze(ctx, job, report)
	case JobTypeFeatureSuggestions:
		return e.suggest(ctx, job, report)
	default:
		return nil, fmt.Errorf("unsupported job type %q", job.Type)
	}
}

func (e *Executor) analyze(ctx context.Context, job types.ProcessingJob, report func(int, map[string]any)) (map[string]any, error) {
	content, err := payloadString(job.Payload, "content")
	if err != nil {
		return nil, err
	}
	report(10, nil)

	raw, err := e.gen.GenerateJSON(ctx, fmt.Sprintf(analysisPrompt, content))
	if err != nil {
		return nil, fmt.Errorf("analysis generation failed: %w", err)
	}
	report(80, map[string]any{"raw": raw})

	result, err := decodeResult(raw, []string{"summary", "strengths", "gaps", "keywords"})
	if err != nil {
		return nil, err
	}
	e.logger.Info("analysis completed",
		zap.String("job_id", job.ID.String()),
		zap.Int("response_bytes", len(raw)))
	return result, nil
}

func (e *Executor) suggest(ctx context.Context, job types.ProcessingJob, report func(int, map[string]any)) (map[string]any, error) {
	summary, err := payloadString(job.Payload, "analysis")
	if err != nil {
		return nil, err
	}
	report(10, nil)

	raw, err := e.gen.GenerateJSON(ctx, fmt.Sprintf(suggestionsPrompt, summary))
	if err != nil {
		return nil, fmt.Errorf("suggestion generation failed: %w", err)
	}
	report(80, map[string]any{"raw": raw})

	return decodeResult(raw, []string{"recommended_features"})
}

// payloadString extracts a required string field from a job payload.
func payloadString(payload map[string]any, key string) (string, error) {
	v, ok := payload[key]
	if !ok {
		return "", &types.ValidationError{Field: key, Message: "missing required payload field"}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &types.ValidationError{Field: key, Message: "payload field must be a non-empty string"}
	}
	return s, nil
}

// decodeResult parses the model's JSON and checks the expected keys exist.
// Model output is untrusted; a malformed response is a retryable failure.
func decodeResult(raw string, requiredKeys []string) (map[string]any, error) {
	var result map[string]any
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	for _, key := range requiredKeys {
		if _, ok := result[key]; !ok {
			return nil, fmt.Errorf("model response missing required key %q", key)
		}
	}
	return result, nil
}
