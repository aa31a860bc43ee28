package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/bizcursor/internal/bizobj"
	"github.com/roach88/bizcursor/internal/config"
	"github.com/roach88/bizcursor/internal/driver"
	"github.com/roach88/bizcursor/internal/testutil"
)

// Harness executes one scenario over its own database.
type Harness struct {
	db     *driver.SQL
	trace  *driver.Trace
	clock  *testutil.FakeClock
	root   *bizobj.BizObj
	logger *slog.Logger
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes the logs of the database and the object graph to
// logger. Run discards them by default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. The graph's cache
// intervals read a fake clock that moves only on wait steps, so the trace
// is the same on every run.
//
// An error is returned when the scenario cannot be run at all: the
// database does not open, a setup statement fails or the graph cannot be
// built. Failing steps and assertions are reported in the Result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		clock:  testutil.NewFakeClock(time.Time{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	db, err := driver.OpenSQLite(":memory:", h.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory database: %w", err)
	}
	defer db.Close()
	h.db = db

	for i, q := range scenario.Setup {
		if _, err := db.Execute(ctx, q); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	h.trace = driver.NewTrace(db, h.logger)
	cfg := config.Config{Objects: scenario.Objects}
	root, err := cfg.Build(scenario.rootName(), h.trace, h.logger, bizobj.WithClock(h.clock))
	if err != nil {
		return nil, fmt.Errorf("failed to build objects: %w", err)
	}
	h.root = root

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i+1, step, result)
	}

	actx := &AssertionContext{
		DB:   db,
		Root: root,
		Ctx:  ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step and records the statements it sent. A step
// that fails unexpectedly, or succeeds when it should have failed, is
// recorded as an error and the scenario continues.
func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) {
	ev := TraceEvent{Step: n, Op: step.Op, Object: step.Object}
	if ev.Object == "" {
		ev.Object = h.root.Name()
	}

	h.trace.Reset()
	err := h.apply(ctx, step)
	ev.Statements = h.trace.Statements()
	if err != nil {
		ev.Error = err.Error()
	}
	result.Trace = append(result.Trace, ev)

	switch {
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("step %d (%s %s): %v", n, step.Op, ev.Object, err))
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("step %d (%s %s): expected error containing %q, got success",
			n, step.Op, ev.Object, step.ExpectError))
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		result.AddError(fmt.Sprintf("step %d (%s %s): expected error containing %q, got %q",
			n, step.Op, ev.Object, step.ExpectError, err.Error()))
	}
}

func (h *Harness) apply(ctx context.Context, step Step) error {
	bo, err := h.object(step.Object)
	if err != nil {
		return err
	}

	switch step.Op {
	case OpRequery:
		return bo.Requery(ctx)
	case OpRequeryChildren:
		return bo.RequeryAllChildren(ctx)
	case OpFirst:
		return bo.First(ctx)
	case OpPrior:
		return bo.Prior(ctx)
	case OpNext:
		return bo.Next(ctx)
	case OpLast:
		return bo.Last(ctx)
	case OpGoto:
		return bo.SetRowNumber(ctx, step.Row)
	case OpMoveToPK:
		return bo.MoveToPK(ctx, step.Key)
	case OpNew:
		return bo.New(ctx)
	case OpSet:
		return bo.SetFieldValue(step.Field, step.Value)
	case OpSave:
		return bo.Save(ctx)
	case OpSaveAll:
		return bo.SaveAll(ctx)
	case OpCancel:
		return bo.Cancel()
	case OpCancelAll:
		return bo.CancelAll()
	case OpDelete:
		return bo.Delete(ctx)
	case OpDeleteAll:
		return bo.DeleteAll(ctx)
	case OpDeleteAllChildren:
		return bo.DeleteAllChildren(ctx)
	case OpWait:
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		h.clock.Advance(d)
		return nil
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

// object finds name in the graph below the root. An empty name is the
// root.
func (h *Harness) object(name string) (*bizobj.BizObj, error) {
	if name == "" {
		return h.root, nil
	}
	if bo := findObject(h.root, name); bo != nil {
		return bo, nil
	}
	return nil, fmt.Errorf("no object named %q", name)
}

func findObject(bo *bizobj.BizObj, name string) *bizobj.BizObj {
	if bo.Name() == name {
		return bo
	}
	for _, ch := range bo.Children() {
		if found := findObject(ch, name); found != nil {
			return found
		}
	}
	return nil
}
