// Package refine runs the draft-refinement workflow: a model node
// drafts content for a topic, a review node pauses for human
// feedback, and feedback loops back into the next draft until the
// reviewer is done.
package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/loom/pkg/chat"
	"github.com/papercomputeco/loom/pkg/graph"
)

// State fields.
const (
	KeyTopic    = "topic"
	KeyDrafts   = "drafts"
	KeyFeedback = "feedback"

	// keyDone marks that the reviewer accepted the draft.
	keyDone = "done"
)

// Node names.
const (
	NodeGenerate = "generate"
	NodeReview   = "review"
)

const systemPrompt = "You are an expert short-form content writer"

// DoneSentinel ends the refinement loop when given as feedback.
const DoneSentinel = "done"

// IsDone reports whether feedback is the accept sentinel.
func IsDone(feedback string) bool {
	return strings.EqualFold(strings.TrimSpace(feedback), DoneSentinel)
}

// Generator produces completions. *chat.Client satisfies it.
type Generator interface {
	Chat(ctx context.Context, req *chat.ChatRequest) (*chat.ChatResponse, error)
	Stream(ctx context.Context, req *chat.ChatRequest, fn func(chat.StreamChunk)) (*chat.ChatResponse, error)
}

// Config tunes the workflow.
type Config struct {
	Model       string
	Temperature float64

	// MaxRetries bounds generation attempts per draft. Values < 1
	// mean a single attempt.
	MaxRetries int
}

// ReviewPrompt is the interrupt payload shown to the reviewer.
type ReviewPrompt struct {
	Draft   string `json:"draft"`
	Message string `json:"message"`
}

// Workflow builds and runs refinement graphs.
type Workflow struct {
	gen     Generator
	cfg     Config
	logger  *zap.Logger
	onChunk func(chat.StreamChunk)
	onRetry func(attempt int, err error)
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Workflow) { w.logger = logger }
}

// WithChunkSink streams generation tokens to fn as they arrive.
// Without a sink, generation is non-streaming.
func WithChunkSink(fn func(chat.StreamChunk)) Option {
	return func(w *Workflow) { w.onChunk = fn }
}

// WithRetryNotify calls fn when a generation attempt failed and
// another is about to start. A failed streaming attempt may already
// have emitted tokens to the chunk sink; consumers use this signal to
// drop them before the retry streams.
func WithRetryNotify(fn func(attempt int, err error)) Option {
	return func(w *Workflow) { w.onRetry = fn }
}

// New creates a workflow over the given generator.
func New(gen Generator, cfg Config, opts ...Option) *Workflow {
	w := &Workflow{
		gen:    gen,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// InitialState seeds a run for a topic.
func InitialState(topic string) graph.State {
	return graph.State{
		KeyTopic:    topic,
		KeyDrafts:   []chat.Message{},
		KeyFeedback: []chat.Message{},
	}
}

// Build compiles the refinement graph.
func (w *Workflow) Build(saver graph.Saver) (*graph.Runner, error) {
	g := graph.New(w.schema())
	g.AddNode(NodeGenerate, w.generate)
	g.AddNode(NodeReview, w.review)
	g.AddEdge(graph.Start, NodeGenerate)
	g.AddEdge(NodeGenerate, NodeReview)
	g.AddConditionalEdge(NodeReview, w.route)

	opts := []graph.CompileOption{graph.WithLogger(w.logger)}
	if saver != nil {
		opts = append(opts, graph.WithSaver(saver))
	}
	return g.Compile(opts...)
}

func (w *Workflow) schema() graph.Schema {
	return graph.Schema{
		KeyTopic:    {},
		keyDone:     {},
		KeyDrafts:   messagesField(),
		KeyFeedback: messagesField(),
	}
}

// messagesField merges message lists by append-or-replace-by-id and
// restores typed messages from checkpoints.
func messagesField() graph.Field {
	return graph.Field{
		Reduce: func(current, update any) (any, error) {
			cur, err := asMessages(current)
			if err != nil {
				return nil, err
			}
			upd, err := asMessages(update)
			if err != nil {
				return nil, err
			}
			return chat.MergeMessages(cur, upd), nil
		},
		Decode: func(data []byte) (any, error) {
			var msgs []chat.Message
			if err := json.Unmarshal(data, &msgs); err != nil {
				return nil, err
			}
			return msgs, nil
		},
	}
}

func asMessages(v any) ([]chat.Message, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case []chat.Message:
		return m, nil
	default:
		return nil, fmt.Errorf("expected []chat.Message, got %T", v)
	}
}

// generate drafts content for the topic, folding the latest feedback
// and any previous attempt's error into the prompt.
func (w *Workflow) generate(ctx context.Context, state graph.State) (graph.State, error) {
	topic, _ := state[KeyTopic].(string)
	if topic == "" {
		return nil, fmt.Errorf("state has no topic")
	}

	feedback, err := asMessages(state[KeyFeedback])
	if err != nil {
		return nil, err
	}

	latestFeedback := "No feedback yet"
	if len(feedback) > 0 {
		latestFeedback = feedback[len(feedback)-1].Text()
	}

	attempts := w.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	errText := ""
	for attempt := 0; attempt < attempts; attempt++ {
		req := w.buildRequest(topic, latestFeedback, errText)

		w.logger.Debug("generating draft",
			zap.String("topic", topic),
			zap.Int("attempt", attempt+1),
			zap.Int("feedback_count", len(feedback)),
		)

		var resp *chat.ChatResponse
		if w.onChunk != nil {
			resp, err = w.gen.Stream(ctx, req, w.onChunk)
		} else {
			resp, err = w.gen.Chat(ctx, req)
		}
		if err != nil {
			lastErr = err
			errText = fmt.Sprintf("Error occurred: %v", err)
			w.logger.Warn("generation attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			if attempt+1 < attempts && w.onRetry != nil {
				w.onRetry(attempt+1, err)
			}
			continue
		}

		draft := chat.NewMessage(chat.RoleAssistant, resp.Message.Content)
		draft.Model = resp.Model

		return graph.State{
			KeyDrafts: []chat.Message{draft},
		}, nil
	}

	return nil, fmt.Errorf("generation failed after %d attempts: %w", attempts, lastErr)
}

func (w *Workflow) buildRequest(topic, feedback, errText string) *chat.ChatRequest {
	prompt := fmt.Sprintf(`Topic: %s
Reviewer Feedback: %s

Generate a structured and well-written post based on the given topic. In just 50 words,
make it engaging and professional.

Consider previous reviewer feedback to refine the response.

%s`, topic, feedback, errText)

	temp := w.cfg.Temperature
	return &chat.ChatRequest{
		Model: w.cfg.Model,
		Messages: []chat.WireMessage{
			{Role: chat.RoleSystem, Content: systemPrompt},
			{Role: chat.RoleUser, Content: prompt},
		},
		Options: &chat.Options{Temperature: &temp},
	}
}

// review pauses for reviewer feedback on the latest draft. "done"
// accepts the draft; anything else becomes feedback for the next
// generation.
func (w *Workflow) review(ctx context.Context, state graph.State) (graph.State, error) {
	drafts, err := asMessages(state[KeyDrafts])
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("nothing to review")
	}

	payload := ReviewPrompt{
		Draft:   drafts[len(drafts)-1].Text(),
		Message: "Please provide your feedback on the draft (or type 'done' to finish)",
	}

	v, err := graph.InterruptValue(ctx, payload)
	if err != nil {
		return nil, err
	}

	text, _ := v.(string)
	if IsDone(text) {
		w.logger.Debug("reviewer accepted draft")
		return graph.State{keyDone: true}, nil
	}

	w.logger.Debug("reviewer requested changes", zap.Int("feedback_len", len(text)))
	return graph.State{
		KeyFeedback: []chat.Message{chat.NewMessage(chat.RoleUser, text)},
	}, nil
}

func (w *Workflow) route(_ context.Context, state graph.State) (string, error) {
	if done, _ := state[keyDone].(bool); done {
		return graph.End, nil
	}
	return NodeGenerate, nil
}

// Drafts extracts the draft messages from a run state.
func Drafts(state graph.State) []chat.Message {
	msgs, _ := asMessages(state[KeyDrafts])
	return msgs
}

// LatestDraft returns the text of the most recent draft, if any.
func LatestDraft(state graph.State) (string, bool) {
	msgs := Drafts(state)
	if len(msgs) == 0 {
		return "", false
	}
	return msgs[len(msgs)-1].Text(), true
}
