package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dev.helix.ensemble/internal/analysis"
	"dev.helix.ensemble/internal/cache"
	"dev.helix.ensemble/internal/events"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/middleware"
	"dev.helix.ensemble/internal/models"
)

// Config holds orchestrator settings.
type Config struct {
	// DefaultPattern is used when a request names none.
	DefaultPattern string
	// RequestTimeout bounds one pipeline run end to end. Zero means the
	// caller's context is the only deadline.
	RequestTimeout time.Duration
}

// DefaultConfig returns sensible orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		DefaultPattern: "comparative",
		RequestTimeout: 5 * time.Minute,
	}
}

// Orchestrator drives one request through the staged pipeline:
// initial generation, cross-model analysis, refinement, and synthesis.
// All collaborators are injected once at startup and shared across requests.
type Orchestrator struct {
	registry  *llm.Registry
	cache     *cache.Service
	admission *middleware.RateLimiter
	analysis  *analysis.Manager
	scorer    *analysis.Scorer
	bus       *events.Bus
	patterns  *PatternSet
	trace     *TraceWriter
	config    Config
	logger    *zap.Logger

	now func() time.Time
}

// Option customizes an Orchestrator at construction.
type Option func(*Orchestrator)

// WithCache attaches a result cache.
func WithCache(service *cache.Service) Option {
	return func(o *Orchestrator) { o.cache = service }
}

// WithAdmission installs pre-pipeline quota enforcement.
func WithAdmission(limiter *middleware.RateLimiter) Option {
	return func(o *Orchestrator) { o.admission = limiter }
}

// WithAnalysisManager replaces the default analysis modules.
func WithAnalysisManager(manager *analysis.Manager) Option {
	return func(o *Orchestrator) { o.analysis = manager }
}

// WithScorer replaces the default quality scorer.
func WithScorer(scorer *analysis.Scorer) Option {
	return func(o *Orchestrator) { o.scorer = scorer }
}

// WithBus attaches a progress event bus.
func WithBus(bus *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithTrace enables durable per-request trace directories.
func WithTrace(trace *TraceWriter) Option {
	return func(o *Orchestrator) { o.trace = trace }
}

// WithPatterns replaces the built-in pattern set.
func WithPatterns(set *PatternSet) Option {
	return func(o *Orchestrator) { o.patterns = set }
}

// New creates an orchestrator over a provider registry.
func New(registry *llm.Registry, config Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultPattern == "" {
		config.DefaultPattern = DefaultConfig().DefaultPattern
	}

	o := &Orchestrator{
		registry: registry,
		patterns: DefaultPatternSet(),
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.analysis == nil {
		o.analysis = analysis.NewDefaultManager(logger)
	}
	if o.scorer == nil {
		o.scorer = analysis.NewScorer(logger)
	}
	return o
}

// Run executes one request through the full pipeline. The returned error is
// nil for a completed run; a ValidationError, admission rejection, or
// ErrServiceUnavailable otherwise. Per-provider failures inside a stage are
// contained and never surface here while at least one provider succeeds.
func (o *Orchestrator) Run(ctx context.Context, req *models.PipelineRequest) (*models.PipelineResult, error) {
	pattern, err := o.validate(req)
	if err != nil {
		return nil, err
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}
	req.Pattern = pattern.Name

	if o.admission != nil && req.Identity != "" {
		verdict := o.admission.Check(req.Identity, req.Tier, "/v1/pipeline", "POST")
		if !verdict.Allowed {
			return nil, fmt.Errorf("%w: retry after %ds", middleware.ErrLimited, verdict.RetryAfter)
		}
	}

	if o.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RequestTimeout)
		defer cancel()
	}

	fingerprint := Fingerprint(req)
	if o.cache != nil {
		if cached := o.cache.Get(ctx, fingerprint); cached != nil {
			o.publish(req.CorrelationID, events.EventCacheHit, events.Payload{Data: fingerprint})
			return cached, nil
		}
	}

	started := o.now()
	o.publish(req.CorrelationID, events.EventPipelineStarted, events.Payload{
		Data: map[string]interface{}{"pattern": pattern.Name, "providers": req.SelectedProviders},
	})

	run := &pipelineRun{req: req, pattern: pattern, startedAt: started}
	result, err := o.execute(ctx, run)
	result.DurationMs = o.now().Sub(started).Milliseconds()

	if err != nil {
		o.publish(req.CorrelationID, events.EventPipelineFailed, events.Payload{Data: err.Error()})
		return result, err
	}

	if o.cache != nil {
		o.cache.Set(ctx, fingerprint, result)
	}
	if o.trace != nil {
		o.trace.Write(req, result)
	}
	o.publish(req.CorrelationID, events.EventPipelineCompleted, events.Payload{
		LatencyMs: result.DurationMs,
		Provider:  resultProvider(result),
	})
	return result, nil
}

// pipelineRun is the mutable state of one request's trip through the stages.
type pipelineRun struct {
	req       *models.PipelineRequest
	pattern   *Pattern
	startedAt time.Time
}

func (o *Orchestrator) execute(ctx context.Context, run *pipelineRun) (*models.PipelineResult, error) {
	req := run.req
	result := &models.PipelineResult{
		CorrelationID: req.CorrelationID,
		Pattern:       run.pattern.Name,
		Status:        models.StatusFailed,
		CreatedAt:     run.startedAt,
	}

	// INITIAL: every selected provider gets the raw prompt concurrently.
	prompts := make(map[string]string, len(req.SelectedProviders))
	for _, name := range req.SelectedProviders {
		prompts[name] = req.Prompt
	}
	initial := o.fanOut(ctx, req, models.StageInitial, req.SelectedProviders, prompts)
	for i := range initial {
		if initial[i].Succeeded() {
			initial[i].QualityScore = o.scorer.Score(req.Prompt, initial[i].Content)
		}
	}
	result.InitialResponses = initial
	result.SelectedBest = o.selectBest(initial)

	survivors := succeeded(initial)
	if len(survivors) == 0 {
		if ctx.Err() != nil {
			return result, fmt.Errorf("pipeline deadline exceeded: %w", ctx.Err())
		}
		return result, ErrServiceUnavailable
	}

	// ANALYSIS: skipped with fewer than two survivors; the lone answer
	// passes through unchanged.
	var analysisResponses []models.StageResponse
	if len(survivors) < 2 {
		lone := survivors[0]
		lone.Stage = models.StageAnalysis
		analysisResponses = []models.StageResponse{lone}
		o.logger.Debug("analysis stage skipped",
			zap.String("correlation_id", req.CorrelationID),
			zap.Int("survivors", len(survivors)))
	} else {
		modules, weights := analysisSelection(req)
		report, err := o.analysis.Run(ctx, &analysis.Input{
			Prompt:    req.Prompt,
			Responses: survivors,
			Evaluator: o.evaluator(req),
			Modules:   modules,
			Weights:   weights,
		})
		if err != nil {
			o.logger.Warn("analysis modules unavailable",
				zap.String("correlation_id", req.CorrelationID),
				zap.Error(err))
		} else {
			result.AnalysisResults = report.Results
		}

		analysisResponses = o.metaStage(ctx, req, models.StageAnalysis, survivors,
			func(own string, peers []PeerResponse) (string, error) {
				return run.pattern.AnalysisPrompt(req.Prompt, own, peers)
			})
	}
	result.AnalysisResponses = analysisResponses

	analysisSurvivors := succeeded(analysisResponses)
	if len(analysisSurvivors) == 0 {
		if ctx.Err() != nil {
			return result, fmt.Errorf("pipeline deadline exceeded: %w", ctx.Err())
		}
		return result, ErrServiceUnavailable
	}

	// REFINEMENT: a provider that fails here keeps its own analysis output.
	refinement := o.metaStage(ctx, req, models.StageRefinement, analysisSurvivors,
		func(own string, peers []PeerResponse) (string, error) {
			return run.pattern.RefinementPrompt(req.Prompt, own, peers)
		})
	for i := range refinement {
		if !refinement[i].Succeeded() {
			for _, prior := range analysisSurvivors {
				if prior.Provider == refinement[i].Provider {
					o.logger.Debug("refinement fell back to analysis output",
						zap.String("correlation_id", req.CorrelationID),
						zap.String("provider", prior.Provider))
					refinement[i].Content = prior.Content
					refinement[i].Error = ""
					break
				}
			}
		}
	}
	result.RefinementResponses = refinement

	refinementSurvivors := succeeded(refinement)
	if len(refinementSurvivors) == 0 {
		if ctx.Err() != nil {
			return result, fmt.Errorf("pipeline deadline exceeded: %w", ctx.Err())
		}
		return result, ErrServiceUnavailable
	}

	// SYNTHESIS: the lead produces the final answer over every refinement
	// output, with a fallback chain that never fails while a refinement
	// output exists.
	synthesis, lead := o.synthesize(ctx, run, refinementSurvivors)
	result.Synthesis = synthesis
	result.LeadProvider = lead
	result.Status = models.StatusCompleted
	return result, nil
}

// fanOut calls the given providers concurrently and returns one response per
// provider in request order. A provider completion event fires for each, and
// the stage events bracket the whole fan-out.
func (o *Orchestrator) fanOut(ctx context.Context, req *models.PipelineRequest, stage string, providers []string, prompts map[string]string) []models.StageResponse {
	o.publish(req.CorrelationID, events.EventStageStarted, events.Payload{Stage: stage})

	responses := make([]models.StageResponse, len(providers))
	var wg sync.WaitGroup
	for i, name := range providers {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			responses[i] = o.callProvider(ctx, req, stage, name, prompts[name])
		}(i, name)
	}
	wg.Wait()

	o.publish(req.CorrelationID, events.EventStageCompleted, events.Payload{
		Stage: stage,
		Data:  map[string]interface{}{"succeeded": len(succeeded(responses)), "total": len(responses)},
	})
	return responses
}

func (o *Orchestrator) callProvider(ctx context.Context, req *models.PipelineRequest, stage, name, prompt string) models.StageResponse {
	response := models.StageResponse{Provider: name, Stage: stage}

	provider, ok := o.registry.Get(name)
	if !ok {
		response.Error = fmt.Sprintf("provider %s not registered", name)
		return response
	}

	started := o.now()
	generated, err := provider.Generate(ctx, &models.GenerateRequest{Prompt: prompt})
	response.LatencyMs = o.now().Sub(started).Milliseconds()

	if err != nil {
		response.Error = err.Error()
		o.logger.Warn("provider call failed",
			zap.String("correlation_id", req.CorrelationID),
			zap.String("stage", stage),
			zap.String("provider", name),
			zap.Error(err))
	} else {
		response.Content = generated.Content
	}

	payload := events.Payload{
		Stage:     stage,
		Provider:  name,
		LatencyMs: response.LatencyMs,
	}
	if generated != nil {
		payload.Model = generated.Model
	}
	if err != nil {
		payload.Data = map[string]interface{}{"error": err.Error()}
	}
	o.publish(req.CorrelationID, events.EventProviderCompleted, payload)

	return response
}

// metaStage fans out one prompt per surviving provider, each built from the
// provider's own prior output plus everyone else's. A provider whose prompt
// fails to render gets a failed response so the stage's fallback rules still
// apply to it.
func (o *Orchestrator) metaStage(ctx context.Context, req *models.PipelineRequest, stage string, prior []models.StageResponse, build func(own string, peers []PeerResponse) (string, error)) []models.StageResponse {
	providers := make([]string, 0, len(prior))
	prompts := make(map[string]string, len(prior))
	var unrendered []models.StageResponse

	for _, own := range prior {
		peers := make([]PeerResponse, 0, len(prior)-1)
		for _, other := range prior {
			if other.Provider == own.Provider {
				continue
			}
			peers = append(peers, PeerResponse{Provider: other.Provider, Content: other.Content})
		}

		prompt, err := build(own.Content, peers)
		if err != nil {
			o.logger.Error("stage prompt build failed",
				zap.String("correlation_id", req.CorrelationID),
				zap.String("stage", stage),
				zap.String("provider", own.Provider),
				zap.Error(err))
			unrendered = append(unrendered, models.StageResponse{
				Provider: own.Provider,
				Stage:    stage,
				Error:    "prompt build failed: " + err.Error(),
			})
			continue
		}
		providers = append(providers, own.Provider)
		prompts[own.Provider] = prompt
	}

	return append(o.fanOut(ctx, req, stage, providers, prompts), unrendered...)
}

// synthesize runs the synthesis stage with its fallback chain: the lead's
// live answer, then the lead's own refinement output, then any other
// refinement output by descending priority. It cannot fail once at least one
// refinement output exists.
func (o *Orchestrator) synthesize(ctx context.Context, run *pipelineRun, refinement []models.StageResponse) (*models.Synthesis, string) {
	req := run.req
	lead := o.chooseLead(req, refinement)

	peers := make([]PeerResponse, 0, len(refinement))
	for _, r := range refinement {
		peers = append(peers, PeerResponse{Provider: r.Provider, Content: r.Content})
	}

	prompt, err := run.pattern.SynthesisPrompt(req.Prompt, peers)
	if err == nil {
		response := o.fanOut(ctx, req, models.StageSynthesis, []string{lead}, map[string]string{lead: prompt})
		if len(response) == 1 && response[0].Succeeded() {
			return &models.Synthesis{Provider: lead, Content: response[0].Content}, lead
		}
	} else {
		o.logger.Error("synthesis prompt build failed",
			zap.String("correlation_id", req.CorrelationID),
			zap.Error(err))
	}

	// Lead failed: its own refinement output stands in, still attributed to
	// the lead.
	for _, r := range refinement {
		if r.Provider == lead {
			o.logger.Warn("synthesis fell back to lead refinement output",
				zap.String("correlation_id", req.CorrelationID),
				zap.String("lead", lead))
			return &models.Synthesis{Provider: lead, Content: r.Content}, lead
		}
	}

	// No refinement output from the lead either: take the highest-priority
	// remaining output.
	best := refinement[0]
	for _, r := range refinement[1:] {
		if o.priority(r.Provider) > o.priority(best.Provider) {
			best = r
		}
	}
	o.logger.Warn("synthesis fell back to peer refinement output",
		zap.String("correlation_id", req.CorrelationID),
		zap.String("lead", lead),
		zap.String("provider", best.Provider))
	return &models.Synthesis{Provider: best.Provider, Content: best.Content}, lead
}

// chooseLead honors an explicit override, else picks the highest-priority
// refinement survivor.
func (o *Orchestrator) chooseLead(req *models.PipelineRequest, refinement []models.StageResponse) string {
	if req.LeadProvider != "" {
		return req.LeadProvider
	}
	lead := refinement[0].Provider
	for _, r := range refinement[1:] {
		if o.priority(r.Provider) > o.priority(lead) {
			lead = r.Provider
		}
	}
	return lead
}

// selectBest picks the highest-scoring initial response, ties broken by
// provider priority. Independent of the synthesis chain.
func (o *Orchestrator) selectBest(initial []models.StageResponse) string {
	best := ""
	bestScore := -1.0
	for _, r := range initial {
		if !r.Succeeded() {
			continue
		}
		switch {
		case r.QualityScore > bestScore:
			best, bestScore = r.Provider, r.QualityScore
		case r.QualityScore == bestScore && o.priority(r.Provider) > o.priority(best):
			best = r.Provider
		}
	}
	return best
}

func (o *Orchestrator) priority(name string) int {
	if def, ok := o.registry.Definition(name); ok {
		return def.Priority
	}
	return 0
}

// analysisSelection reads a request's per-run analysis module subset and
// weight overrides from its stage options. Both default to the manager's
// registered set when absent.
func analysisSelection(req *models.PipelineRequest) ([]string, map[string]float64) {
	var modules []string
	if raw, ok := req.StageOptions["analysisModules"]; ok {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				modules = append(modules, name)
			}
		}
	}

	var weights map[string]float64
	if raw, ok := req.StageOptions["analysisModuleWeights"]; ok {
		for _, pair := range strings.Split(raw, ",") {
			parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
			if len(parts) != 2 {
				continue
			}
			weight, err := strconv.ParseFloat(parts[1], 64)
			if err != nil || weight <= 0 {
				continue
			}
			if weights == nil {
				weights = make(map[string]float64)
			}
			weights[parts[0]] = weight
		}
	}
	return modules, weights
}

// evaluator returns the provider a request designates for model-based
// scoring, when present.
func (o *Orchestrator) evaluator(req *models.PipelineRequest) llm.Provider {
	name, ok := req.StageOptions["evaluatorProvider"]
	if !ok {
		return nil
	}
	provider, ok := o.registry.Get(name)
	if !ok {
		return nil
	}
	return provider
}

func (o *Orchestrator) validate(req *models.PipelineRequest) (*Pattern, error) {
	if req == nil {
		return nil, &ValidationError{Field: "request", Reason: "missing"}
	}
	if req.Prompt == "" {
		return nil, &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if len(req.SelectedProviders) == 0 {
		return nil, &ValidationError{Field: "selectedProviders", Reason: "at least one provider required"}
	}
	seen := make(map[string]struct{}, len(req.SelectedProviders))
	for _, name := range req.SelectedProviders {
		if _, ok := o.registry.Get(name); !ok {
			return nil, &ValidationError{Field: "selectedProviders", Reason: "unknown provider " + name}
		}
		if _, dup := seen[name]; dup {
			return nil, &ValidationError{Field: "selectedProviders", Reason: "duplicate provider " + name}
		}
		seen[name] = struct{}{}
	}
	if req.LeadProvider != "" {
		if _, ok := seen[req.LeadProvider]; !ok {
			return nil, &ValidationError{Field: "leadProvider", Reason: "lead must be one of the selected providers"}
		}
	}

	name := req.Pattern
	if name == "" {
		name = o.config.DefaultPattern
	}
	pattern, ok := o.patterns.Lookup(name)
	if !ok {
		return nil, &ValidationError{Field: "pattern", Reason: "unknown pattern " + name}
	}
	return pattern, nil
}

func (o *Orchestrator) publish(correlationID, event string, payload events.Payload) {
	if o.bus != nil {
		o.bus.Publish(correlationID, event, payload)
	}
}

func succeeded(responses []models.StageResponse) []models.StageResponse {
	var out []models.StageResponse
	for _, r := range responses {
		if r.Succeeded() {
			out = append(out, r)
		}
	}
	return out
}

func resultProvider(result *models.PipelineResult) string {
	if result.Synthesis != nil {
		return result.Synthesis.Provider
	}
	return ""
}
