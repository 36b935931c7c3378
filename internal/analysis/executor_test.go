package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cv-session-engine/internal/types"
)

type fakeGenerator struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeGenerator) Close() error { return nil }

func analysisJob(payload map[string]any) types.ProcessingJob {
	return types.ProcessingJob{ID: uuid.New(), Type: JobTypeAnalysis, Payload: payload}
}

func TestExecute_Analysis(t *testing.T) {
	gen := &fakeGenerator{response: `{"summary":"solid","strengths":["go"],"gaps":[],"keywords":["backend"]}`}
	exec := NewExecutor(gen, nil)

	var reported []int
	result, err := exec.Execute(context.Background(),
		analysisJob(map[string]any{"content": "ten years of backend work"}),
		func(pct int, _ map[string]any) { reported = append(reported, pct) })
	require.NoError(t, err)

	assert.Equal(t, "solid", result["summary"])
	assert.Equal(t, []int{10, 80}, reported)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "ten years of backend work")
}

func TestExecute_AnalysisMissingContent(t *testing.T) {
	exec := NewExecutor(&fakeGenerator{}, nil)

	_, err := exec.Execute(context.Background(), analysisJob(nil), func(int, map[string]any) {})
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)
}

func TestExecute_MalformedModelResponse(t *testing.T) {
	gen := &fakeGenerator{response: "not json at all"}
	exec := NewExecutor(gen, nil)

	_, err := exec.Execute(context.Background(),
		analysisJob(map[string]any{"content": "cv"}), func(int, map[string]any) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestExecute_ResponseMissingRequiredKey(t *testing.T) {
	gen := &fakeGenerator{response: `{"summary":"ok"}`}
	exec := NewExecutor(gen, nil)

	_, err := exec.Execute(context.Background(),
		analysisJob(map[string]any{"content": "cv"}), func(int, map[string]any) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required key")
}

func TestExecute_GeneratorError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	exec := NewExecutor(gen, nil)

	_, err := exec.Execute(context.Background(),
		analysisJob(map[string]any{"content": "cv"}), func(int, map[string]any) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestExecute_FeatureSuggestions(t *testing.T) {
	gen := &fakeGenerator{response: `{"recommended_features":["ats_optimization"],"reasons":{"ats_optimization":"keyword gaps"}}`}
	exec := NewExecutor(gen, nil)

	result, err := exec.Execute(context.Background(), types.ProcessingJob{
		ID:      uuid.New(),
		Type:    JobTypeFeatureSuggestions,
		Payload: map[string]any{"analysis": "weak keyword coverage"},
	}, func(int, map[string]any) {})
	require.NoError(t, err)
	assert.Contains(t, result, "recommended_features")
}

func TestExecute_UnsupportedType(t *testing.T) {
	exec := NewExecutor(&fakeGenerator{}, nil)
	_, err := exec.Execute(context.Background(),
		types.ProcessingJob{ID: uuid.New(), Type: "render_pdf"}, func(int, map[string]any) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported job type")
}

func TestCleanJSONBlock(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSONBlock("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSONBlock(`{"a":1}`))
}
