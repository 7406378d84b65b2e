package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/loom/pkg/chat"
	"github.com/papercomputeco/loom/pkg/graph"
	"github.com/papercomputeco/loom/pkg/history"
	"github.com/papercomputeco/loom/pkg/refine"
)

type createThreadRequest struct {
	Topic string `json:"topic"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

// streamLine is one ndjson line of a workflow stream.
type streamLine struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Content  string `json:"content,omitempty"`
	Draft    string `json:"draft,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleCreateThread starts a refinement thread for a topic and
// streams the first draft back as ndjson, ending with an interrupt
// line that asks for reviewer feedback.
func (s *Server) handleCreateThread(c *fiber.Ctx) error {
	var req createThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Topic == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "topic is required",
		})
	}

	thread, err := s.mgr.CreateThread(c.Context(), req.Topic)
	if err != nil {
		s.logger.Error("failed to create thread", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create thread",
		})
	}

	if _, err := s.mgr.Append(c.Context(), thread.ID, chat.NewMessage(chat.RoleUser, req.Topic)); err != nil {
		s.logger.Error("failed to record topic", zap.String("thread", thread.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to record topic",
		})
	}

	s.logger.Info("thread created",
		zap.String("thread", thread.ID),
		zap.String("topic", truncate(req.Topic, 80)),
	)

	c.Set("Content-Type", "application/x-ndjson")
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		// The request context dies with the response; the run must
		// outlive individual writes.
		s.streamRun(context.Background(), w, thread.ID, refine.InitialState(req.Topic), nil)
	}))

	return nil
}

// handleFeedback resumes an interrupted thread with reviewer feedback.
// "done" finishes the thread; anything else streams a revised draft.
func (s *Server) handleFeedback(c *fiber.Ctx) error {
	threadID := c.Params("id")

	var req feedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Feedback == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "feedback is required",
		})
	}

	if _, err := s.mgr.Head(c.Context(), threadID); err != nil {
		if errors.Is(err, history.ErrThreadNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "thread not found",
			})
		}
		s.logger.Error("failed to load thread", zap.String("thread", threadID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load thread",
		})
	}

	if _, err := s.mgr.Append(c.Context(), threadID, chat.NewMessage(chat.RoleUser, req.Feedback)); err != nil {
		s.logger.Error("failed to record feedback", zap.String("thread", threadID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to record feedback",
		})
	}

	cmd := &graph.Command{Resume: req.Feedback}

	if refine.IsDone(req.Feedback) {
		// No generation left to stream; drive the graph to its end
		// and answer with plain JSON.
		return s.finishThread(c, threadID, cmd)
	}

	c.Set("Content-Type", "application/x-ndjson")
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		s.streamRun(context.Background(), w, threadID, nil, cmd)
	}))

	return nil
}

func (s *Server) finishThread(c *fiber.Ctx, threadID string, cmd *graph.Command) error {
	cfg, gen := s.modelConfig()
	wf := refine.New(gen, cfg, refine.WithLogger(s.logger))

	runner, err := wf.Build(s.saver)
	if err != nil {
		s.logger.Error("failed to build workflow", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to build workflow",
		})
	}

	state, err := runner.Invoke(c.Context(), nil,
		graph.WithThread(threadID),
		graph.WithCommand(*cmd),
	)
	if err != nil {
		if errors.Is(err, graph.ErrNotInterrupted) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "thread is not awaiting feedback",
			})
		}
		s.logger.Error("failed to finish thread", zap.String("thread", threadID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to finish thread",
		})
	}

	s.logger.Info("thread finished", zap.String("thread", threadID))

	resp := fiber.Map{"status": "done", "thread_id": threadID}
	if draft, ok := refine.LatestDraft(state); ok {
		resp["draft"] = draft
	}
	return c.JSON(resp)
}

// streamRun executes one workflow step (initial run or resume),
// forwarding tokens to the client as they arrive and committing the
// assembled draft to the thread history once the run pauses.
func (s *Server) streamRun(ctx context.Context, w *bufio.Writer, threadID string, input graph.State, cmd *graph.Command) {
	buffer := s.mgr.NewStreamBuffer(threadID, chat.RoleAssistant)

	cfg, gen := s.modelConfig()
	wf := refine.New(gen, cfg,
		refine.WithLogger(s.logger),
		refine.WithChunkSink(func(chunk chat.StreamChunk) {
			buffer.Write(chunk)
			writeLine(w, streamLine{Type: "token", Content: chunk.Message.Content})
		}),
		// A failed streaming attempt leaves its tokens in the buffer
		// and on the wire; drop them before the retry streams.
		refine.WithRetryNotify(func(_ int, err error) {
			buffer.Reset()
			writeLine(w, streamLine{Type: "retry", ThreadID: threadID, Error: err.Error()})
		}),
	)

	runner, err := wf.Build(s.saver)
	if err != nil {
		s.logger.Error("failed to build workflow", zap.Error(err))
		writeLine(w, streamLine{Type: "error", Error: "failed to build workflow"})
		return
	}

	opts := []graph.RunOption{graph.WithThread(threadID)}
	if cmd != nil {
		opts = append(opts, graph.WithCommand(*cmd))
	}

	events, err := runner.Run(ctx, input, opts...)
	if err != nil {
		s.logger.Error("failed to start run", zap.String("thread", threadID), zap.Error(err))
		writeLine(w, streamLine{Type: "error", Error: err.Error()})
		return
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			buffer.Discard()
			s.logger.Error("workflow failed", zap.String("thread", threadID), zap.Error(ev.Err))
			writeLine(w, streamLine{Type: "error", ThreadID: threadID, Error: ev.Err.Error()})
			return

		case ev.Interrupt != nil:
			draft, err := buffer.Commit(ctx)
			if err != nil {
				s.logger.Error("failed to store draft", zap.String("thread", threadID), zap.Error(err))
				writeLine(w, streamLine{Type: "error", ThreadID: threadID, Error: "failed to store draft"})
				return
			}

			line := streamLine{Type: "interrupt", ThreadID: threadID, Draft: draft.Text()}
			if prompt, ok := ev.Interrupt.Payload.(refine.ReviewPrompt); ok {
				line.Message = prompt.Message
			}
			writeLine(w, line)
			return

		case ev.Done:
			buffer.Discard()
			writeLine(w, streamLine{Type: "done", ThreadID: threadID})
			return
		}
	}
}

// handleListThreads returns all known threads, newest first.
func (s *Server) handleListThreads(c *fiber.Ctx) error {
	threads, err := s.mgr.Threads(c.Context())
	if err != nil {
		s.logger.Error("failed to list threads", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list threads",
		})
	}

	return c.JSON(fiber.Map{
		"count":   len(threads),
		"threads": threads,
	})
}

// handleGetHistory returns a thread's messages in chronological order.
func (s *Server) handleGetHistory(c *fiber.Ctx) error {
	threadID := c.Params("id")

	msgs, err := s.mgr.History(c.Context(), threadID)
	if err != nil {
		if errors.Is(err, history.ErrThreadNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "thread not found",
			})
		}
		s.logger.Error("failed to load history", zap.String("thread", threadID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load history",
		})
	}

	return c.JSON(fiber.Map{
		"thread_id": threadID,
		"count":     len(msgs),
		"messages":  msgs,
	})
}

func writeLine(w *bufio.Writer, line streamLine) {
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	w.Write(data)
	w.WriteByte('\n')
	w.Flush()
}

// truncate shortens s for log output, cutting on rune boundaries.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
