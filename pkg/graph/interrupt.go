package graph

import "context"

type resumeKey struct{}

// interruptSignal travels up from a node to pause the run.
type interruptSignal struct {
	payload any
}

func (s *interruptSignal) Error() string {
	return "graph: interrupted"
}

func withResume(ctx context.Context, value any) context.Context {
	return context.WithValue(ctx, resumeKey{}, value)
}

// InterruptValue pauses the run at the calling node until a resume
// value is supplied via WithCommand. When the node re-executes on
// resume, it returns the resume value. On first execution it returns
// an error the node must propagate unchanged.
func InterruptValue(ctx context.Context, payload any) (any, error) {
	if v := ctx.Value(resumeKey{}); v != nil {
		return v, nil
	}
	return nil, &interruptSignal{payload: payload}
}
