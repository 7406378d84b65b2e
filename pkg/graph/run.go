package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultMaxSteps = 100

// Runner is a compiled graph ready to execute.
type Runner struct {
	schema          Schema
	nodes           map[string]NodeFunc
	edges           map[string]string
	routes          map[string]RouteFunc
	saver           Saver
	interruptBefore map[string]bool
	maxSteps        int
	logger          *zap.Logger
}

// Event is emitted once per executed node, plus a terminal event.
type Event struct {
	// Node that produced this event. Empty on the terminal event.
	Node string `json:"node,omitempty"`

	// State after the node's update was merged.
	State State `json:"state,omitempty"`

	// Interrupt is set when the run paused for external input.
	Interrupt *Interrupt `json:"interrupt,omitempty"`

	// Err terminates the run when set.
	Err error `json:"-"`

	// Done marks the terminal event of a completed run.
	Done bool `json:"done,omitempty"`
}

// Interrupt describes a paused run awaiting a resume value.
type Interrupt struct {
	Node    string `json:"node"`
	Payload any    `json:"payload,omitempty"`
}

// Command resumes an interrupted run with a value for the pending node.
type Command struct {
	Resume any
}

// RunOption configures a single run.
type RunOption func(*runConfig)

type runConfig struct {
	threadID string
	command  *Command
}

// WithThread scopes the run to a thread for checkpointing and resume.
func WithThread(id string) RunOption {
	return func(c *runConfig) { c.threadID = id }
}

// WithCommand resumes an interrupted run.
func WithCommand(cmd Command) RunOption {
	return func(c *runConfig) { c.command = &cmd }
}

// Errors returned by Run.
var (
	ErrResumeWithoutThread = errors.New("graph: resume requires a saver and a thread")
	ErrNotInterrupted      = errors.New("graph: thread has no pending interrupt")
)

// Run executes the graph and returns a channel of events. The channel
// is closed when the run completes, errors, or pauses on an interrupt.
// For a fresh run input is the initial state; on resume input is
// ignored and the checkpointed state is used.
func (r *Runner) Run(ctx context.Context, input State, opts ...RunOption) (<-chan Event, error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	state, next, step, resume, err := r.prepare(ctx, input, &cfg)
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		r.loop(ctx, events, cfg.threadID, state, next, step, resume)
	}()

	return events, nil
}

// Invoke drains Run and returns the final state. An interrupted run
// returns the state as of the interrupt along with the interrupt
// wrapped in an InterruptedError.
func (r *Runner) Invoke(ctx context.Context, input State, opts ...RunOption) (State, error) {
	events, err := r.Run(ctx, input, opts...)
	if err != nil {
		return nil, err
	}

	var last State
	for ev := range events {
		if ev.Err != nil {
			return last, ev.Err
		}
		if ev.State != nil {
			last = ev.State
		}
		if ev.Interrupt != nil {
			return last, &InterruptedError{Interrupt: *ev.Interrupt}
		}
	}
	return last, nil
}

// InterruptedError is returned by Invoke when the run paused.
type InterruptedError struct {
	Interrupt Interrupt
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("graph: interrupted at node %q", e.Interrupt.Node)
}

// prepare resolves the starting state and node for a run.
func (r *Runner) prepare(ctx context.Context, input State, cfg *runConfig) (State, string, int, *Command, error) {
	if cfg.command != nil {
		if r.saver == nil || cfg.threadID == "" {
			return nil, "", 0, nil, ErrResumeWithoutThread
		}

		cp, err := r.saver.Latest(ctx, cfg.threadID)
		if err != nil {
			return nil, "", 0, nil, fmt.Errorf("load checkpoint: %w", err)
		}
		if cp.Interrupt == nil || cp.NextNode == "" {
			return nil, "", 0, nil, ErrNotInterrupted
		}

		state, err := r.schema.rehydrate(cp.State)
		if err != nil {
			return nil, "", 0, nil, fmt.Errorf("rehydrate checkpoint: %w", err)
		}
		return state, cp.NextNode, cp.Step, cfg.command, nil
	}

	if input == nil {
		input = State{}
	}
	return input.Clone(), r.edges[Start], 0, nil, nil
}

func (r *Runner) loop(ctx context.Context, events chan<- Event, threadID string, state State, next string, step int, resume *Command) {
	for {
		if next == End {
			r.checkpoint(ctx, threadID, step, "", state, nil)
			events <- Event{State: state, Done: true}
			return
		}

		if step >= r.maxSteps {
			events <- Event{Err: fmt.Errorf("graph: exceeded %d steps", r.maxSteps)}
			return
		}

		if r.interruptBefore[next] && resume == nil {
			intr := &Interrupt{Node: next}
			r.checkpoint(ctx, threadID, step, next, state, intr)
			events <- Event{Node: next, State: state, Interrupt: intr}
			return
		}

		node, ok := r.nodes[next]
		if !ok {
			events <- Event{Err: fmt.Errorf("graph: unknown node %q", next)}
			return
		}

		nodeCtx := ctx
		if resume != nil {
			nodeCtx = withResume(ctx, resume.Resume)
			resume = nil
		}

		r.logger.Debug("executing node", zap.String("node", next), zap.Int("step", step))
		update, err := node(nodeCtx, state.Clone())

		var sig *interruptSignal
		if errors.As(err, &sig) {
			intr := &Interrupt{Node: next, Payload: sig.payload}
			r.checkpoint(ctx, threadID, step, next, state, intr)
			events <- Event{Node: next, State: state, Interrupt: intr}
			return
		}
		if err != nil {
			events <- Event{Node: next, Err: fmt.Errorf("node %q: %w", next, err)}
			return
		}

		state, err = r.schema.Merge(state, update)
		if err != nil {
			events <- Event{Node: next, Err: err}
			return
		}

		successor, err := r.successor(ctx, next, state)
		if err != nil {
			events <- Event{Node: next, Err: err}
			return
		}

		step++
		r.checkpoint(ctx, threadID, step, successor, state, nil)
		events <- Event{Node: next, State: state}

		select {
		case <-ctx.Done():
			events <- Event{Err: ctx.Err()}
			return
		default:
		}

		next = successor
	}
}

func (r *Runner) successor(ctx context.Context, from string, state State) (string, error) {
	if route, ok := r.routes[from]; ok {
		to, err := route(ctx, state)
		if err != nil {
			return "", fmt.Errorf("route from %q: %w", from, err)
		}
		if to != End {
			if _, ok := r.nodes[to]; !ok {
				return "", fmt.Errorf("route from %q to unknown node %q", from, to)
			}
		}
		return to, nil
	}

	to, ok := r.edges[from]
	if !ok {
		return "", fmt.Errorf("node %q has no outgoing edge", from)
	}
	return to, nil
}

// checkpoint persists the state after a step. Failures are logged and
// do not fail the run.
func (r *Runner) checkpoint(ctx context.Context, threadID string, step int, nextNode string, state State, intr *Interrupt) {
	if r.saver == nil || threadID == "" {
		return
	}

	cp := &Checkpoint{
		ThreadID:  threadID,
		Step:      step,
		NextNode:  nextNode,
		State:     state,
		Interrupt: intr,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.saver.Put(ctx, cp); err != nil {
		r.logger.Error("failed to save checkpoint",
			zap.String("thread", threadID),
			zap.Int("step", step),
			zap.Error(err),
		)
	}
}
