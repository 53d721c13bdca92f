package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"quill/internal/llm"
	"quill/internal/observability"
	"quill/internal/shared/async"
	"quill/internal/shared/logging"
)

// BackendResolver finds the backend a worker is bound to. *llm.Registry
// satisfies it.
type BackendResolver interface {
	Resolve(ref string) (llm.Backend, error)
}

// Executor runs task lists sequentially on a background worker.
type Executor struct {
	backends    BackendResolver
	logger      logging.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer
	taskTimeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Executor) { e.logger = logging.OrNop(logger) }
}

// WithMetrics records task metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = metrics }
}

// WithTracer emits a span per run and per task.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithTaskTimeout bounds each backend call. Zero means no bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(e *Executor) { e.taskTimeout = d }
}

// NewExecutor returns an executor resolving backends through backends.
func NewExecutor(backends BackendResolver, opts ...Option) *Executor {
	e := &Executor{
		backends: backends,
		logger:   logging.Nop(),
		tracer:   noop.NewTracerProvider().Tracer("quill"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches run on a background worker and returns immediately.
// Cancelling ctx or calling Handle.Cancel stops the run before its next task
// and cancels the in-flight backend call.
func (e *Executor) Start(ctx context.Context, run *Run) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{run: run, cancel: cancel, done: make(chan struct{})}

	e.metrics.RunStarted()
	async.Go(e.logger, "pipeline-"+run.ID, func() {
		res := Result{RunID: run.ID, Failure: &Failure{TaskIndex: -1, Err: errors.New("worker aborted")}}
		defer func() {
			cancel()
			outcome := "succeeded"
			switch {
			case res.Failure != nil && res.Failure.Cancelled:
				outcome = "cancelled"
			case res.Failure != nil:
				outcome = "failed"
			}
			e.metrics.RunFinished(outcome)
			h.finish(res)
		}()
		res = e.execute(runCtx, run)
	})
	return h
}

func (e *Executor) execute(ctx context.Context, run *Run) Result {
	ctx, span := e.tracer.Start(ctx, observability.SpanPipelineRun,
		trace.WithAttributes(attribute.String(observability.AttrRunID, run.ID), attribute.Int("quill.task_count", len(run.Tasks))))
	defer span.End()

	res := Result{RunID: run.ID}
	draft := ""
	for i, task := range run.Tasks {
		if err := ctx.Err(); err != nil {
			e.logger.Info("run %s cancelled before task %d", run.ID, i)
			res.Failure = &Failure{TaskIndex: i, Role: task.Agent.Role(), Err: err, Cancelled: true}
			span.SetStatus(codes.Error, "cancelled")
			return res
		}

		output, err := e.runTask(ctx, run, task, draft)
		if err != nil {
			res.Failure = &Failure{
				TaskIndex: i,
				Role:      task.Agent.Role(),
				Err:       err,
				Cancelled: ctx.Err() != nil,
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, res.Failure.Error())
			e.logger.Warn("run %s stopped: %v", run.ID, res.Failure)
			return res
		}
		draft = output
		res.Outputs = append(res.Outputs, TaskOutput{Index: i, Role: task.Agent.Role(), Output: output})
	}

	res.Output = draft
	e.logger.Info("run %s finished %d tasks", run.ID, len(run.Tasks))
	return res
}

// runTask performs exactly one backend invocation for task and records its
// STARTING entry and one terminal entry.
func (e *Executor) runTask(ctx context.Context, run *Run, task Task, draft string) (string, error) {
	role := task.Agent.Role()
	ctx, span := e.tracer.Start(ctx, observability.SpanPipelineTask,
		trace.WithAttributes(observability.TaskAttrs(run.ID, task.Index, role, string(task.Stage), task.Agent.BackendRef())...))
	defer span.End()

	run.log.Append(LogEntry{TaskIndex: task.Index, Status: StatusStarting, AgentRole: role, TaskDescription: task.Title})
	e.logger.Debug("run %s task %d (%s) starting", run.ID, task.Index, role)
	start := time.Now()

	output, err := e.invoke(ctx, run, task, draft)
	elapsed := time.Since(start)
	if err != nil {
		run.log.Append(LogEntry{TaskIndex: task.Index, Status: StatusFailed, AgentRole: role, TaskDescription: task.Title, Error: err.Error()})
		e.metrics.ObserveTask(string(task.Stage), "failed", elapsed)
		e.metrics.IncTaskFailure(string(task.Stage), failureReason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	run.log.Append(LogEntry{TaskIndex: task.Index, Status: StatusFinished, AgentRole: role, TaskDescription: task.Title, Output: output})
	e.metrics.ObserveTask(string(task.Stage), "finished", elapsed)
	e.logger.Debug("run %s task %d (%s) finished in %v", run.ID, task.Index, role, elapsed.Round(time.Millisecond))
	return output, nil
}

func (e *Executor) invoke(ctx context.Context, run *Run, task Task, draft string) (string, error) {
	prompt, err := task.Render(Inputs(task.Index, run.Topic, draft))
	if err != nil {
		return "", err
	}
	backend, err := e.backends.Resolve(task.Agent.BackendRef())
	if err != nil {
		return "", err
	}

	callCtx := ctx
	if e.taskTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.taskTimeout)
		defer cancel()
	}

	var output string
	err = async.Capture(func() error {
		var invokeErr error
		output, invokeErr = backend.Invoke(callCtx, llm.Invocation{
			Role:           task.Agent.Role(),
			Goal:           task.Agent.Goal(),
			Backstory:      task.Agent.Backstory(),
			Prompt:         prompt,
			ExpectedOutput: task.ExpectedOutput,
			Sampling:       task.Agent.SamplingParams(),
		})
		return invokeErr
	})
	if err != nil && e.taskTimeout > 0 && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %v: %w", ErrTaskTimeout, e.taskTimeout, err)
	}
	return output, err
}

func failureReason(err error) string {
	var panicErr *async.PanicError
	var unknown *llm.UnknownBackendError
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrTaskTimeout):
		return "timeout"
	case errors.As(err, &panicErr):
		return "panic"
	case errors.As(err, &unknown):
		return "unknown_backend"
	default:
		return "backend"
	}
}
