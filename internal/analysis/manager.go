package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dev.helix.ensemble/internal/models"
)

// Manager runs a set of named analysis modules over a stage's responses and
// aggregates their per-provider scores into one weighted map. A failing
// module is logged and skipped; its weight is redistributed across the
// modules that did produce a result.
type Manager struct {
	mu      sync.RWMutex
	modules map[string]Module
	weights map[string]float64
	logger  *zap.Logger
}

// NewManager creates an empty manager. Modules are registered explicitly so
// callers control which analyses run and with what weight.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		modules: make(map[string]Module),
		weights: make(map[string]float64),
		logger:  logger,
	}
}

// NewDefaultManager registers the built-in modules with equal weight.
func NewDefaultManager(logger *zap.Logger) *Manager {
	m := NewManager(logger)
	m.Register(NewConsensusModule(), 1.0)
	m.Register(NewCoverageModule(), 1.0)
	m.Register(NewJudgeModule(logger), 1.0)
	return m
}

// Register adds a module under its own name. Weights are relative; they are
// normalized at aggregation time. Non-positive weights are clamped to a
// small positive value so a registered module always contributes.
func (m *Manager) Register(module Module, weight float64) {
	if weight <= 0 {
		weight = 0.01
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[module.Name()] = module
	m.weights[module.Name()] = weight
}

// Modules returns the registered module names.
func (m *Manager) Modules() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.modules))
	for name := range m.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Report is the aggregate of one analysis run.
type Report struct {
	Results        []models.AnalysisResult
	CombinedScores map[string]float64
	Failed         []string
}

// Run executes the selected modules in parallel and combines their
// per-provider scores using normalized weights. The input may narrow the
// run to a subset of the registered modules and override their weights;
// unknown module names are ignored. It only fails when no module at all
// produced a result.
func (m *Manager) Run(ctx context.Context, input *Input) (*Report, error) {
	m.mu.RLock()
	modules := make(map[string]Module, len(m.modules))
	weights := make(map[string]float64, len(m.weights))
	if len(input.Modules) > 0 {
		for _, name := range input.Modules {
			if module, ok := m.modules[name]; ok {
				modules[name] = module
				weights[name] = m.weights[name]
			}
		}
	} else {
		for name, module := range m.modules {
			modules[name] = module
			weights[name] = m.weights[name]
		}
	}
	for name, weight := range input.Weights {
		if _, ok := modules[name]; ok && weight > 0 {
			weights[name] = weight
		}
	}
	m.mu.RUnlock()

	if len(modules) == 0 {
		return nil, fmt.Errorf("no analysis modules selected")
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*models.AnalysisResult, len(modules))
		failed  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for name, module := range modules {
		name, module := name, module
		g.Go(func() error {
			result, err := module.Analyze(gctx, input)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Warn("analysis module failed",
					zap.String("module", name),
					zap.Error(err))
				failed = append(failed, name)
				return nil
			}
			results[name] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("all %d analysis modules failed", len(modules))
	}

	// Renormalize over the modules that actually produced a result so the
	// combined scores still sum the same way regardless of failures.
	var totalWeight float64
	for name := range results {
		totalWeight += weights[name]
	}

	combined := make(map[string]float64)
	report := &Report{CombinedScores: combined, Failed: failed}
	for _, name := range sortedModuleNames(results) {
		result := results[name]
		report.Results = append(report.Results, *result)
		share := weights[name] / totalWeight
		for provider, score := range result.ProviderScores {
			combined[provider] += share * score
		}
	}

	return report, nil
}

func sortedModuleNames(results map[string]*models.AnalysisResult) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
