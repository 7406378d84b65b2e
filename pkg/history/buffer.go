package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/loom/pkg/chat"
)

// StreamBuffer accumulates streamed tokens and commits them as one
// finalized message. Nothing reaches the store until Commit.
type StreamBuffer struct {
	mgr      *Manager
	threadID string
	role     string
	model    string

	content   strings.Builder
	chunks    int
	started   time.Time
	committed bool
}

// NewStreamBuffer starts buffering a streamed message for a thread.
func (m *Manager) NewStreamBuffer(threadID, role string) *StreamBuffer {
	return &StreamBuffer{
		mgr:      m,
		threadID: threadID,
		role:     role,
		started:  time.Now().UTC(),
	}
}

// Write accumulates one stream chunk.
func (b *StreamBuffer) Write(chunk chat.StreamChunk) {
	b.content.WriteString(chunk.Message.Content)
	b.chunks++
	if chunk.Model != "" {
		b.model = chunk.Model
	}
}

// Len returns the number of buffered bytes.
func (b *StreamBuffer) Len() int {
	return b.content.Len()
}

// Commit finalizes the buffered tokens into a single message and
// appends it to the thread. Committing an empty or already committed
// buffer is an error.
func (b *StreamBuffer) Commit(ctx context.Context) (chat.Message, error) {
	if b.committed {
		return chat.Message{}, fmt.Errorf("stream buffer already committed")
	}
	if b.chunks == 0 {
		return chat.Message{}, fmt.Errorf("stream buffer has no chunks")
	}

	msg := chat.NewMessage(b.role, b.content.String())
	msg.Model = b.model

	if _, err := b.mgr.Append(ctx, b.threadID, msg); err != nil {
		return chat.Message{}, err
	}
	b.committed = true

	b.mgr.logger.Debug("committed streamed message",
		zap.String("thread", b.threadID),
		zap.Int("chunks", b.chunks),
		zap.Duration("duration", time.Since(b.started)),
	)
	return msg, nil
}

// Reset drops the buffered tokens but keeps the buffer usable, so a
// retried generation starts from a clean slate instead of appending
// to the failed attempt's output.
func (b *StreamBuffer) Reset() {
	b.content.Reset()
	b.chunks = 0
	b.model = ""
}

// Discard drops the buffered tokens without committing.
func (b *StreamBuffer) Discard() {
	b.content.Reset()
	b.chunks = 0
	b.committed = true
}
