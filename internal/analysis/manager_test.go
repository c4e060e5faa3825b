package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.ensemble/internal/models"
)

type fakeModule struct {
	name   string
	scores map[string]float64
	err    error
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Analyze(ctx context.Context, input *Input) (*models.AnalysisResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.AnalysisResult{
		Module:         f.name,
		Summary:        f.name + " done",
		ProviderScores: f.scores,
	}, nil
}

func responses(contents map[string]string) []models.StageResponse {
	var out []models.StageResponse
	for provider, content := range contents {
		out = append(out, models.StageResponse{Provider: provider, Content: content})
	}
	return out
}

func TestManager_CombinesWeightedScores(t *testing.T) {
	m := NewManager(nil)
	m.Register(&fakeModule{name: "alpha", scores: map[string]float64{"a": 1.0, "b": 0.0}}, 3.0)
	m.Register(&fakeModule{name: "beta", scores: map[string]float64{"a": 0.0, "b": 1.0}}, 1.0)

	report, err := m.Run(context.Background(), &Input{Prompt: "q"})
	require.NoError(t, err)

	assert.InDelta(t, 0.75, report.CombinedScores["a"], 1e-9)
	assert.InDelta(t, 0.25, report.CombinedScores["b"], 1e-9)
	assert.Len(t, report.Results, 2)
	assert.Empty(t, report.Failed)
}

func TestManager_FailedModuleWeightRedistributed(t *testing.T) {
	m := NewManager(nil)
	m.Register(&fakeModule{name: "alpha", scores: map[string]float64{"a": 0.8}}, 1.0)
	m.Register(&fakeModule{name: "broken", err: errors.New("boom")}, 5.0)

	report, err := m.Run(context.Background(), &Input{Prompt: "q"})
	require.NoError(t, err)

	// The surviving module carries the full weight.
	assert.InDelta(t, 0.8, report.CombinedScores["a"], 1e-9)
	assert.Equal(t, []string{"broken"}, report.Failed)
	assert.Len(t, report.Results, 1)
}

func TestManager_SubsetRunsOnlyNamedModules(t *testing.T) {
	m := NewManager(nil)
	m.Register(&fakeModule{name: "alpha", scores: map[string]float64{"a": 1.0}}, 1.0)
	m.Register(&fakeModule{name: "beta", scores: map[string]float64{"a": 0.0}}, 1.0)

	report, err := m.Run(context.Background(), &Input{
		Prompt:  "q",
		Modules: []string{"alpha", "no-such-module"},
	})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, "alpha", report.Results[0].Module)
	assert.InDelta(t, 1.0, report.CombinedScores["a"], 1e-9)
}

func TestManager_PerRunWeightOverride(t *testing.T) {
	m := NewManager(nil)
	m.Register(&fakeModule{name: "alpha", scores: map[string]float64{"a": 1.0, "b": 0.0}}, 1.0)
	m.Register(&fakeModule{name: "beta", scores: map[string]float64{"a": 0.0, "b": 1.0}}, 1.0)

	// Equal registered weights, alpha boosted to 3:1 for this run only.
	report, err := m.Run(context.Background(), &Input{
		Prompt:  "q",
		Weights: map[string]float64{"alpha": 3.0, "unregistered": 9.0, "beta": -1},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.75, report.CombinedScores["a"], 1e-9)
	assert.InDelta(t, 0.25, report.CombinedScores["b"], 1e-9)

	// The override does not stick: the next run is back to equal weights.
	report, err = m.Run(context.Background(), &Input{Prompt: "q"})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, report.CombinedScores["a"], 1e-9)
}

func TestManager_SubsetWithNoKnownModules(t *testing.T) {
	m := NewManager(nil)
	m.Register(&fakeModule{name: "alpha", scores: map[string]float64{"a": 1.0}}, 1.0)

	_, err := m.Run(context.Background(), &Input{Prompt: "q", Modules: []string{"nope"}})
	assert.Error(t, err)
}

func TestManager_AllModulesFailing(t *testing.T) {
	m := NewManager(nil)
	m.Register(&fakeModule{name: "one", err: errors.New("boom")}, 1.0)
	m.Register(&fakeModule{name: "two", err: errors.New("boom")}, 1.0)

	_, err := m.Run(context.Background(), &Input{Prompt: "q"})
	assert.Error(t, err)
}

func TestManager_NoModulesRegistered(t *testing.T) {
	_, err := NewManager(nil).Run(context.Background(), &Input{Prompt: "q"})
	assert.Error(t, err)
}

func TestManager_DefaultModules(t *testing.T) {
	m := NewDefaultManager(nil)
	assert.Equal(t, []string{"consensus", "coverage", "judge"}, m.Modules())

	input := &Input{
		Prompt: "Explain recursion in programming.",
		Responses: responses(map[string]string{
			"a": "Recursion is when a function calls itself. For example, computing a factorial: the function multiplies n by the factorial of n-1 until it reaches the base case.",
			"b": "Recursion means a function calls itself with a smaller input, stopping at a base case. Factorial and tree traversal are classic examples of recursion in programming.",
			"c": "Bananas are yellow.",
		}),
	}

	report, err := m.Run(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	// The two agreeing, on-topic answers should outrank the off-topic one.
	assert.Greater(t, report.CombinedScores["a"], report.CombinedScores["c"])
	assert.Greater(t, report.CombinedScores["b"], report.CombinedScores["c"])
}

func TestConsensusModule_FlagsOutlier(t *testing.T) {
	mod := NewConsensusModule()
	input := &Input{
		Prompt: "What is the capital of France?",
		Responses: responses(map[string]string{
			"a": "The capital of France is Paris, a city on the Seine river.",
			"b": "Paris is the capital of France, located on the Seine river.",
			"c": "Quantum entanglement links particle states across distance.",
		}),
	}

	result, err := mod.Analyze(context.Background(), input)
	require.NoError(t, err)

	assert.Greater(t, result.ProviderScores["a"], result.ProviderScores["c"])
	assert.Greater(t, result.ProviderScores["b"], result.ProviderScores["c"])
}

func TestConsensusModule_SingleResponse(t *testing.T) {
	mod := NewConsensusModule()
	result, err := mod.Analyze(context.Background(), &Input{
		Prompt:    "q",
		Responses: responses(map[string]string{"solo": "only answer"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.ProviderScores["solo"])
}

func TestConsensusModule_EmptyInput(t *testing.T) {
	_, err := NewConsensusModule().Analyze(context.Background(), &Input{Prompt: "q"})
	assert.Error(t, err)
}

func TestCoverageModule_RanksOnTopicHigher(t *testing.T) {
	mod := NewCoverageModule()
	input := &Input{
		Prompt: "Describe garbage collection strategies",
		Responses: responses(map[string]string{
			"on":  "Garbage collection strategies include mark-and-sweep and generational collection.",
			"off": "I like turtles.",
		}),
	}

	result, err := mod.Analyze(context.Background(), input)
	require.NoError(t, err)
	assert.Greater(t, result.ProviderScores["on"], result.ProviderScores["off"])
	assert.NotEmpty(t, result.Recommendations)
}

func TestJudgeModule_UsesEvaluatorWhenPresent(t *testing.T) {
	eval := &stubEvaluator{content: "0.9"}
	mod := NewJudgeModule(nil)

	result, err := mod.Analyze(context.Background(), &Input{
		Prompt:    "q",
		Evaluator: eval,
		Responses: responses(map[string]string{"a": "some answer text here"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.9, result.ProviderScores["a"])
	assert.Equal(t, 1, eval.calls)
	assert.Contains(t, result.Summary, "evaluator")
}

func TestJudgeModule_HeuristicWithoutEvaluator(t *testing.T) {
	mod := NewJudgeModule(nil)
	result, err := mod.Analyze(context.Background(), &Input{
		Prompt:    "q",
		Responses: responses(map[string]string{"a": "a short answer"}),
	})
	require.NoError(t, err)
	assert.Contains(t, result.Summary, "heuristic")
}
