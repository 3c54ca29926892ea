package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/worksonmyai/dirigent/internal/config"
	"github.com/worksonmyai/dirigent/internal/debug"
	"github.com/worksonmyai/dirigent/internal/event"
	"github.com/worksonmyai/dirigent/internal/prompts"
	"github.com/worksonmyai/dirigent/internal/protocol"
	"github.com/worksonmyai/dirigent/internal/transport"
)

// runInitialization executes the one-time setup sequence: open the chat
// surface, announce the operating mode, pick a model, send the task
// description, and optionally create the work branch.
func (m *Machine) runInitialization(ctx context.Context, cfg config.Snapshot) error {
	m.setPhase(protocol.PhaseInitializing, "")

	if err := m.run.checkpoint(); err != nil {
		return err
	}
	if err := m.tr.Open(ctx, !cfg.BackgroundMode); err != nil {
		return mapCancel(ctx, err)
	}

	if _, err := m.executeStep(ctx, cfg, Step{
		Phase:    protocol.PhaseInitializing,
		PromptID: prompts.IDMode,
		Settle:   settleShort,
	}); err != nil {
		return err
	}

	if idx, ok := m.selector.SelectInitial(ctx, cfg.PreferredModels); ok {
		m.run.setActiveModelIndex(idx)
	}

	if _, err := m.executeStep(ctx, cfg, Step{
		Phase:   protocol.PhaseInitializing,
		Literal: m.task,
		Settle:  settleLong,
	}); err != nil {
		return err
	}

	if cfg.InitCreateBranch && m.git != nil {
		m.setPhase(protocol.PhaseCreatingBranch, "")
		if err := m.run.checkpoint(); err != nil {
			return err
		}
		branch, err := m.git.CreateAndCheckoutBranch(taskSlug(m.task))
		if err != nil {
			return err
		}
		m.pub.Publish(event.Send("created branch " + branch))
		if _, err := m.executeStepVars(ctx, cfg, Step{
			Phase:    protocol.PhaseCreatingBranch,
			PromptID: prompts.IDBranch,
			Settle:   settleShort,
		}, map[string]string{"branch": branch}); err != nil {
			return err
		}
	}

	return nil
}

// runDevelopment loops the scripted development sequence until the
// iteration ceiling is reached or the continuation decision says stop.
// Configuration is re-snapshotted at every iteration boundary so
// operator edits take effect between iterations, never within one.
func (m *Machine) runDevelopment(ctx context.Context) error {
	for {
		cfg := m.cfgFn()

		var lastReply string
		for _, step := range developmentSteps {
			if step.Gate != nil && !step.Gate(cfg) {
				continue
			}
			reply, err := m.executeStep(ctx, cfg, step)
			if err != nil {
				return err
			}
			if step.CaptureReply {
				lastReply = reply.Text
			}
		}

		m.setPhase(protocol.PhaseContinuingIteration, "")
		if err := m.run.checkpoint(); err != nil {
			return err
		}

		// The ceiling is authoritative: with maxIterations=1 the run
		// completes after one pass no matter what the decider says.
		if m.run.Iteration() >= cfg.MaxIterations-1 {
			return nil
		}
		if !m.decider.ShouldContinue(m.run.Iteration(), lastReply) {
			return nil
		}

		iter := m.run.bumpIteration()
		m.pub.Publish(event.Phase(protocol.PhaseContinuingIteration,
			fmt.Sprintf("iteration %d/%d", iter+1, cfg.MaxIterations)))

		if m.run.takePauseNext() {
			m.Pause()
		}
	}
}

// executeStep runs one scripted interaction: checkpoint, load and render
// the prompt, send it, touch activity, settle. A model failure triggers
// the fallback selector and the step is retried with the new model, so
// the run resumes from the failing step rather than from initialization.
func (m *Machine) executeStep(ctx context.Context, cfg config.Snapshot, step Step) (transport.Reply, error) {
	return m.executeStepVars(ctx, cfg, step, nil)
}

func (m *Machine) executeStepVars(ctx context.Context, cfg config.Snapshot, step Step, extra map[string]string) (transport.Reply, error) {
	if err := m.run.checkpoint(); err != nil {
		return transport.Reply{}, err
	}
	if step.Phase != m.run.Phase() {
		m.setPhase(step.Phase, "")
	}

	text := step.Literal
	if step.PromptID != "" {
		tmpl, err := m.store.Load(step.PromptID)
		if err != nil {
			return transport.Reply{}, err
		}
		vars := stepVars(m.task, m.run.Iteration(), cfg)
		for k, v := range extra {
			vars[k] = v
		}
		text = m.render(tmpl, vars)
	}

	reply, err := m.sendWithFallback(ctx, cfg, text)
	if err != nil {
		return transport.Reply{}, err
	}

	m.run.Touch(time.Now())
	m.pub.Publish(event.Send(firstLine(text)))
	if reply.Text != "" {
		m.pub.Publish(event.Reply(reply.Text))
	}

	if err := m.run.sleep(step.settle(cfg)); err != nil {
		return transport.Reply{}, err
	}
	return reply, nil
}

// sendWithFallback sends text, walking down the preferred-model list on
// model-specific failures. Exhausting the list is fatal for the run.
func (m *Machine) sendWithFallback(ctx context.Context, cfg config.Snapshot, text string) (transport.Reply, error) {
	for {
		reply, err := m.tr.Send(ctx, text, cfg.BackgroundMode)
		if err == nil {
			return reply, nil
		}

		var me *transport.ModelError
		if !errors.As(err, &me) {
			return transport.Reply{}, mapCancel(ctx, err)
		}

		debug.Logf("workflow: model failure: %v", me)
		next, ok := m.selector.HandleFailure(ctx, m.run.ActiveModelIndex(), cfg.PreferredModels)
		if !ok {
			return transport.Reply{}, fmt.Errorf("all preferred models failed: %w", me)
		}
		m.run.setActiveModelIndex(next)

		if err := m.notifyModelSwitch(ctx, cfg, cfg.PreferredModels[next]); err != nil {
			return transport.Reply{}, err
		}
	}
}

func (m *Machine) notifyModelSwitch(ctx context.Context, cfg config.Snapshot, model string) error {
	tmpl, err := m.store.Load(prompts.IDModelSwitch)
	if err != nil {
		return err
	}
	text := m.render(tmpl, map[string]string{"model": model})
	if _, err := m.tr.Send(ctx, text, cfg.BackgroundMode); err != nil {
		return mapCancel(ctx, err)
	}
	m.run.Touch(time.Now())
	m.pub.Publish(event.Warning("switched to model " + model))
	return nil
}

// mapCancel folds a context cancellation (from Stop) into ErrCancelled
// so the run boundary maps it to Idle, not Error.
func mapCancel(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ErrCancelled
	}
	return err
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
