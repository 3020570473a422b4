package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crudbooks/model"

	"go.uber.org/zap"
)

// StepResult is the outcome of one declaration.
type StepResult struct {
	Kind    model.StepKind
	Target  string
	Outcome model.Outcome
	Message string
}

// Result lists every step of a run, including those skipped after an abort.
type Result struct {
	RunID    uint
	Database string
	Variant  string
	Steps    []StepResult
}

// Count returns the number of steps that ended with outcome o.
func (r *Result) Count(o model.Outcome) int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == o {
			n++
		}
	}
	return n
}

// Provisioner applies a Plan to a Server one declaration at a time.
type Provisioner struct {
	server  Server
	journal Journal
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewProvisioner returns a Provisioner. journal and logger may be nil.
func NewProvisioner(server Server, journal Journal, logger *zap.SugaredLogger) *Provisioner {
	if journal == nil {
		journal = nopJournal{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Provisioner{server: server, journal: journal, logger: logger, now: time.Now}
}

// Apply binds to plan.Database and creates its collections, indexes and
// principal in that order. Existing objects are left unchanged. The first
// other failure aborts the run and is returned as a *StepError; steps that
// already succeeded are not rolled back.
func (p *Provisioner) Apply(ctx context.Context, plan model.Plan) (*Result, error) {
	if err := ValidatePlan(plan); err != nil {
		return nil, fmt.Errorf("provision: invalid plan: %w", err)
	}

	run := &model.ProvisionRun{
		Database:  plan.Database,
		Variant:   plan.Variant(),
		Status:    model.RunStarted,
		StartedAt: p.now(),
	}
	if err := p.journal.StartRun(run); err != nil {
		p.logger.Warnw("journal: failed to record run start", "database", plan.Database, "error", err)
	}

	res := &Result{RunID: run.ID, Database: plan.Database, Variant: run.Variant}
	p.logger.Infow("provisioning started", "database", plan.Database, "variant", run.Variant)

	err := p.apply(ctx, plan, run, res)

	finished := p.now()
	run.FinishedAt = &finished
	run.Status = model.RunSucceeded
	if err != nil {
		run.Status = model.RunAborted
		run.Error = err.Error()
	}
	if jerr := p.journal.FinishRun(run); jerr != nil {
		p.logger.Warnw("journal: failed to record run end", "database", plan.Database, "error", jerr)
	}

	if err != nil {
		p.logger.Errorw("provisioning aborted", "database", plan.Database, "error", err)
		return res, err
	}
	p.logger.Infow("provisioning completed",
		"database", plan.Database,
		"created", res.Count(model.Created),
		"existing", res.Count(model.Existing),
	)
	return res, nil
}

type pendingStep struct {
	kind   model.StepKind
	target string
	do     func(ctx context.Context, t Target) (string, error)
}

func (p *Provisioner) apply(ctx context.Context, plan model.Plan, run *model.ProvisionRun, res *Result) error {
	var steps []pendingStep
	for _, c := range plan.Collections {
		name := c.Name
		steps = append(steps, pendingStep{
			kind:   model.CollectionStep,
			target: name,
			do: func(ctx context.Context, t Target) (string, error) {
				return "", t.CreateCollection(ctx, name)
			},
		})
	}
	for _, idx := range plan.Indexes {
		idx := idx
		steps = append(steps, pendingStep{
			kind:   model.IndexStep,
			target: idx.Collection + "." + idx.Name(),
			do: func(ctx context.Context, t Target) (string, error) {
				name, err := t.CreateIndex(ctx, idx)
				if name != "" {
					return "index " + name, err
				}
				return "", err
			},
		})
	}
	pr := plan.Principal
	steps = append(steps, pendingStep{
		kind:   model.PrincipalStep,
		target: pr.User + "@" + plan.Database,
		do: func(ctx context.Context, t Target) (string, error) {
			return "", t.CreatePrincipal(ctx, pr)
		},
	})

	target, err := p.server.Database(plan.Database)
	if err != nil {
		p.record(run, res, model.DatabaseStep, plan.Database, model.Failed, err.Error())
		p.skip(run, res, steps)
		return &StepError{Kind: model.DatabaseStep, Target: plan.Database, Err: err}
	}
	p.record(run, res, model.DatabaseStep, target.Name(), model.Existing, "selected")

	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			p.skip(run, res, steps[i:])
			return &StepError{Kind: s.kind, Target: s.target, Err: err}
		}
		msg, err := s.do(ctx, target)
		switch {
		case err == nil:
			p.record(run, res, s.kind, s.target, model.Created, msg)
		case errors.Is(err, ErrAlreadyExists):
			p.record(run, res, s.kind, s.target, model.Existing, err.Error())
		default:
			p.record(run, res, s.kind, s.target, model.Failed, err.Error())
			p.skip(run, res, steps[i+1:])
			return &StepError{Kind: s.kind, Target: s.target, Err: err}
		}
	}
	return nil
}

func (p *Provisioner) skip(run *model.ProvisionRun, res *Result, steps []pendingStep) {
	for _, s := range steps {
		p.record(run, res, s.kind, s.target, model.Skipped, "not attempted")
	}
}

func (p *Provisioner) record(run *model.ProvisionRun, res *Result, kind model.StepKind, target string, outcome model.Outcome, msg string) {
	res.Steps = append(res.Steps, StepResult{Kind: kind, Target: target, Outcome: outcome, Message: msg})

	switch outcome {
	case model.Failed:
		p.logger.Errorw("step failed", "kind", kind, "target", target, "error", msg)
	case model.Skipped:
		p.logger.Debugw("step skipped", "kind", kind, "target", target)
	default:
		p.logger.Infow("step done", "kind", kind, "target", target, "outcome", outcome)
	}

	p.journal.LogAuditEvent(p.logger, model.AuditLog{
		RunID:   run.ID,
		Kind:    kind,
		Target:  target,
		Outcome: outcome,
		Message: msg,
	})
}
