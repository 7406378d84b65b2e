package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Reserved node names marking the entry and exit of a graph.
const (
	Start = "__start__"
	End   = "__end__"
)

// NodeFunc executes one node. It receives a copy of the current state
// and returns a partial update to merge back in.
type NodeFunc func(ctx context.Context, state State) (State, error)

// RouteFunc picks the next node after a conditional edge.
type RouteFunc func(ctx context.Context, state State) (string, error)

// Graph is a builder for a state graph. Call Compile to validate the
// topology and obtain a Runner.
type Graph struct {
	schema Schema
	nodes  map[string]NodeFunc
	edges  map[string]string
	routes map[string]RouteFunc
}

// New creates an empty graph over the given schema.
func New(schema Schema) *Graph {
	return &Graph{
		schema: schema,
		nodes:  make(map[string]NodeFunc),
		edges:  make(map[string]string),
		routes: make(map[string]RouteFunc),
	}
}

// AddNode registers a named node. Re-registering a name overwrites it.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	g.nodes[name] = fn
	return g
}

// AddEdge adds a static edge. Use Start as from for the entry edge and
// End as to for a terminal edge.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = to
	return g
}

// AddConditionalEdge routes from a node to whichever node the route
// function returns. The route may return End.
func (g *Graph) AddConditionalEdge(from string, route RouteFunc) *Graph {
	g.routes[from] = route
	return g
}

// CompileOption configures a Runner.
type CompileOption func(*Runner)

// WithSaver enables checkpointing through the given saver.
func WithSaver(s Saver) CompileOption {
	return func(r *Runner) { r.saver = s }
}

// WithInterruptBefore pauses the run before the named nodes execute.
func WithInterruptBefore(nodes ...string) CompileOption {
	return func(r *Runner) {
		for _, n := range nodes {
			r.interruptBefore[n] = true
		}
	}
}

// WithMaxSteps bounds the number of node executions per run.
func WithMaxSteps(n int) CompileOption {
	return func(r *Runner) { r.maxSteps = n }
}

// WithLogger attaches a logger to the runner.
func WithLogger(logger *zap.Logger) CompileOption {
	return func(r *Runner) { r.logger = logger }
}

// Compile validates the graph and returns a Runner.
func (g *Graph) Compile(opts ...CompileOption) (*Runner, error) {
	if len(g.nodes) == 0 {
		return nil, fmt.Errorf("graph has no nodes")
	}
	if _, ok := g.edges[Start]; !ok {
		return nil, fmt.Errorf("graph has no entry edge from Start")
	}

	for from, to := range g.edges {
		if from != Start {
			if _, ok := g.nodes[from]; !ok {
				return nil, fmt.Errorf("edge from unknown node %q", from)
			}
		}
		if to != End {
			if _, ok := g.nodes[to]; !ok {
				return nil, fmt.Errorf("edge to unknown node %q", to)
			}
		}
	}
	for from := range g.routes {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("conditional edge from unknown node %q", from)
		}
	}
	for name := range g.nodes {
		_, hasEdge := g.edges[name]
		_, hasRoute := g.routes[name]
		if hasEdge && hasRoute {
			return nil, fmt.Errorf("node %q has both a static and a conditional edge", name)
		}
		if !hasEdge && !hasRoute {
			return nil, fmt.Errorf("node %q has no outgoing edge", name)
		}
	}

	r := &Runner{
		schema:          g.schema,
		nodes:           g.nodes,
		edges:           g.edges,
		routes:          g.routes,
		interruptBefore: make(map[string]bool),
		maxSteps:        defaultMaxSteps,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for n := range r.interruptBefore {
		if _, ok := g.nodes[n]; !ok {
			return nil, fmt.Errorf("interrupt before unknown node %q", n)
		}
	}

	return r, nil
}
