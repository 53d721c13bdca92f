// Package app is the UI event boundary: it starts runs, answers progress
// polls, hands out results and records finished runs.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"quill/internal/detect"
	"quill/internal/observability"
	"quill/internal/persona"
	"quill/internal/pipeline"
	"quill/internal/shared/logging"
	"quill/internal/store"
)

// Defaults fill the run parameters a caller leaves unset.
type Defaults struct {
	Micro            pipeline.MicroCounts
	RefinementPasses int
	MaxDynamicTasks  int
	Finishing        []string
}

// Params are the caller-supplied inputs of one run.
type Params struct {
	CallerID            string                `json:"-"`
	Topic               string                `json:"topic"`
	ResearcherGoal      string                `json:"researcher_goal"`
	ResearcherBackstory string                `json:"researcher_backstory,omitempty"`
	WriterGoal          string                `json:"writer_goal"`
	WriterBackstory     string                `json:"writer_backstory,omitempty"`
	EditorGoal          string                `json:"editor_goal,omitempty"`
	EditorBackstory     string                `json:"editor_backstory,omitempty"`
	Micro               *pipeline.MicroCounts `json:"micro,omitempty"`
	RefinementPasses    *int                  `json:"refinement_passes,omitempty"`
	// Finishing nil uses the defaults; an empty list disables finishing.
	Finishing []string `json:"finishing,omitempty"`
}

// RunHistory persists successful runs.
type RunHistory interface {
	SaveRun(ctx context.Context, rec store.RunRecord) (string, error)
	LoadRun(ctx context.Context, callerID, id string) (store.RunRecord, error)
	ListRuns(ctx context.Context, callerID string, limit int) ([]store.RunRecord, error)
	DeleteRun(ctx context.Context, callerID, id string) error
}

// Outcome is what a caller receives once a run is terminal.
type Outcome struct {
	RunID          string                `json:"run_id"`
	Status         string                `json:"status"` // succeeded, failed, cancelled
	Output         string                `json:"output,omitempty"`
	FailedTask     *int                  `json:"failed_task,omitempty"`
	FailedRole     string                `json:"failed_role,omitempty"`
	Error          string                `json:"error,omitempty"`
	Outputs        []pipeline.TaskOutput `json:"outputs,omitempty"`
	Detection      *detect.Verdict       `json:"detection,omitempty"`
	DetectionError string                `json:"detection_error,omitempty"`
	RecordID       string                `json:"record_id,omitempty"`
}

// Succeeded reports whether every task finished.
func (o Outcome) Succeeded() bool { return o.Status == "succeeded" }

// DefaultResultRetention is how long a finished run waits for its result to
// be fetched before it is dropped.
const DefaultResultRetention = time.Hour

type activeRun struct {
	handle   *pipeline.Handle
	params   Params
	started  time.Time
	finished time.Time // first time a sweep saw the run done
}

// Service owns the runs started through the UI boundary.
type Service struct {
	builder    *pipeline.Builder
	executor   *pipeline.Executor
	monitor    *pipeline.Monitor
	personas   *persona.Resolver
	classifier detect.Classifier
	history    RunHistory
	defaults   Defaults
	logger     logging.Logger
	newRand    func() persona.Rand
	retention  time.Duration
	now        func() time.Time

	ctx  context.Context
	stop context.CancelFunc

	mu   sync.Mutex
	runs map[string]*activeRun
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClassifier scores successful outputs before they are recorded.
func WithClassifier(c detect.Classifier) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithHistory records successful runs.
func WithHistory(h RunHistory) ServiceOption {
	return func(s *Service) { s.history = h }
}

// WithPersonas resolves each caller's persona pool.
func WithPersonas(r *persona.Resolver) ServiceOption {
	return func(s *Service) { s.personas = r }
}

// WithRandSource sets the random source factory used for persona draws.
func WithRandSource(factory func() persona.Rand) ServiceOption {
	return func(s *Service) { s.newRand = factory }
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = logging.OrNop(logger) }
}

// WithResultRetention sets how long finished runs whose result is never
// fetched stay available. Non-positive values keep the default.
func WithResultRetention(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithMonitor overrides the progress monitor.
func WithMonitor(m *pipeline.Monitor) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.monitor = m
		}
	}
}

// NewService wires a run service. metrics may be nil.
func NewService(executor *pipeline.Executor, defaults Defaults, metrics *observability.Metrics, opts ...ServiceOption) *Service {
	ctx, stop := context.WithCancel(context.Background())
	s := &Service{
		executor:   executor,
		monitor:    pipeline.NewMonitor(0),
		classifier: detect.Noop(),
		defaults:   defaults,
		logger:     logging.NewComponentLogger("RunService"),
		newRand: func() persona.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
		retention: DefaultResultRetention,
		now:       time.Now,
		ctx:       ctx,
		stop:      stop,
		runs:      make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.builder = pipeline.NewBuilder(s.logger, metrics)
	return s
}

func (s *Service) buildRequest(p Params) pipeline.BuildRequest {
	req := pipeline.BuildRequest{
		Topic:               p.Topic,
		ResearcherGoal:      p.ResearcherGoal,
		ResearcherBackstory: p.ResearcherBackstory,
		WriterGoal:          p.WriterGoal,
		WriterBackstory:     p.WriterBackstory,
		EditorGoal:          p.EditorGoal,
		EditorBackstory:     p.EditorBackstory,
		Micro:               s.defaults.Micro,
		RefinementPasses:    s.defaults.RefinementPasses,
		MaxDynamicTasks:     s.defaults.MaxDynamicTasks,
		Finishing:           s.defaults.Finishing,
	}
	if p.Micro != nil {
		req.Micro = *p.Micro
	}
	if p.RefinementPasses != nil {
		req.RefinementPasses = *p.RefinementPasses
	}
	if p.Finishing != nil {
		req.Finishing = p.Finishing
	}
	return req
}

// StartRun validates p, assembles the task list and launches it in the
// background. It returns as soon as the run is registered.
func (s *Service) StartRun(ctx context.Context, p Params) (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", UnavailableError("service is shutting down")
	}
	req := s.buildRequest(p)
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}

	pool := s.personas.Pool(ctx, p.CallerID, s.newRand())
	tasks := s.builder.Build(req, pool)
	run, err := pipeline.NewRun(p.Topic, tasks)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}

	handle := s.executor.Start(s.ctx, run)
	s.mu.Lock()
	s.sweepLocked()
	s.runs[run.ID] = &activeRun{handle: handle, params: p, started: s.now()}
	s.mu.Unlock()

	s.logger.Info("started %s for caller %q: %d tasks, topic %q", run.ID, p.CallerID, len(tasks), p.Topic)
	return run.ID, nil
}

// sweepLocked drops finished runs that have waited longer than the retention
// for their result. s.mu must be held.
func (s *Service) sweepLocked() {
	now := s.now()
	for id, r := range s.runs {
		if !r.handle.IsDone() {
			continue
		}
		if r.finished.IsZero() {
			r.finished = now
			continue
		}
		if now.Sub(r.finished) > s.retention {
			delete(s.runs, id)
			s.logger.Info("dropped %s: result not fetched within %v", id, s.retention)
		}
	}
}

func (s *Service) lookup(callerID, runID string) (*activeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok || r.params.CallerID != callerID {
		return nil, NotFoundError(fmt.Sprintf("run %s", runID))
	}
	return r, nil
}

// Poll returns the current progress of a run.
func (s *Service) Poll(callerID, runID string) (pipeline.Snapshot, error) {
	r, err := s.lookup(callerID, runID)
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	return s.monitor.Snapshot(r.handle.Run()), nil
}

// Watch streams progress snapshots until the run is terminal or ctx ends.
func (s *Service) Watch(ctx context.Context, callerID, runID string) (<-chan pipeline.Snapshot, error) {
	r, err := s.lookup(callerID, runID)
	if err != nil {
		return nil, err
	}
	return s.monitor.Watch(ctx, r.handle.Run()), nil
}

// Cancel stops a running run. Tasks not yet started stay pending.
func (s *Service) Cancel(callerID, runID string) error {
	r, err := s.lookup(callerID, runID)
	if err != nil {
		return err
	}
	if r.handle.IsDone() {
		return ConflictError(fmt.Sprintf("run %s already finished", runID))
	}
	r.handle.Cancel()
	s.logger.Info("cancel requested for %s", runID)
	return nil
}

// Result returns the outcome of a terminal run and forgets the run. Successful
// output is classified and then recorded; failures of either step are
// reported on the outcome and never undo the run's success.
func (s *Service) Result(ctx context.Context, callerID, runID string) (Outcome, error) {
	r, err := s.lookup(callerID, runID)
	if err != nil {
		return Outcome{}, err
	}
	res, done := r.handle.Result()
	if !done {
		return Outcome{}, ConflictError(fmt.Sprintf("run %s is still in progress", runID))
	}

	s.mu.Lock()
	if s.runs[runID] != r {
		s.mu.Unlock()
		return Outcome{}, NotFoundError(fmt.Sprintf("run %s", runID))
	}
	delete(s.runs, runID)
	s.mu.Unlock()

	out := Outcome{RunID: runID, Outputs: res.Outputs}
	if f := res.Failure; f != nil {
		out.Status = "failed"
		if f.Cancelled {
			out.Status = "cancelled"
		}
		idx := f.TaskIndex
		out.FailedTask = &idx
		out.FailedRole = f.Role
		out.Error = f.Error()
		return out, nil
	}

	out.Status = "succeeded"
	out.Output = res.Output
	s.finishSuccess(ctx, r, &out)
	return out, nil
}

func (s *Service) finishSuccess(ctx context.Context, r *activeRun, out *Outcome) {
	verdict, err := s.classifier.Classify(ctx, out.Output)
	if err != nil {
		s.logger.Warn("classification of %s failed: %v", out.RunID, err)
		out.DetectionError = err.Error()
	} else {
		out.Detection = &verdict
	}

	if s.history == nil {
		return
	}
	rec := store.RunRecord{
		CallerID:            r.params.CallerID,
		RunID:               out.RunID,
		Topic:               r.params.Topic,
		ResearcherGoal:      r.params.ResearcherGoal,
		ResearcherBackstory: r.params.ResearcherBackstory,
		WriterGoal:          r.params.WriterGoal,
		WriterBackstory:     r.params.WriterBackstory,
		EditorGoal:          r.params.EditorGoal,
		EditorBackstory:     r.params.EditorBackstory,
		FinalOutput:         out.Output,
	}
	for _, o := range out.Outputs {
		rec.Outputs = append(rec.Outputs, store.TaskOutput{Index: o.Index, Role: o.Role, Output: o.Output})
	}
	if out.Detection != nil {
		if raw, err := json.Marshal(out.Detection); err == nil {
			rec.Detection = raw
		}
	}
	id, err := s.history.SaveRun(ctx, rec)
	if err != nil {
		s.logger.Error("recording %s failed: %v", out.RunID, err)
		return
	}
	out.RecordID = id
}

// Active returns the ids of the caller's registered runs.
func (s *Service) Active(callerID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.runs {
		if r.params.CallerID == callerID {
			ids = append(ids, id)
		}
	}
	return ids
}

// History lists the caller's recorded runs, newest first.
func (s *Service) History(ctx context.Context, callerID string, limit int) ([]store.RunRecord, error) {
	if s.history == nil {
		return nil, UnavailableError("history is not configured")
	}
	return s.history.ListRuns(ctx, callerID, limit)
}

// HistoryRecord returns one recorded run.
func (s *Service) HistoryRecord(ctx context.Context, callerID, id string) (store.RunRecord, error) {
	if s.history == nil {
		return store.RunRecord{}, UnavailableError("history is not configured")
	}
	rec, err := s.history.LoadRun(ctx, callerID, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.RunRecord{}, NotFoundError(fmt.Sprintf("record %s", id))
	}
	return rec, err
}

// DeleteHistoryRecord removes one recorded run.
func (s *Service) DeleteHistoryRecord(ctx context.Context, callerID, id string) error {
	if s.history == nil {
		return UnavailableError("history is not configured")
	}
	err := s.history.DeleteRun(ctx, callerID, id)
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundError(fmt.Sprintf("record %s", id))
	}
	return err
}

// Shutdown cancels every active run and waits for the workers to stop.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	s.mu.Lock()
	handles := make([]*pipeline.Handle, 0, len(s.runs))
	for _, r := range s.runs {
		handles = append(handles, r.handle)
	}
	s.mu.Unlock()

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
