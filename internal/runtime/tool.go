package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/user/energychat/pkg/llm"
)

var (
	// ErrInvalidInput is returned when tool input fails schema validation.
	// The tool is never executed in that case.
	ErrInvalidInput = errors.New("invalid input")
	// ErrToolTimeout is returned when a tool overruns its deadline.
	ErrToolTimeout = errors.New("timeout")
	// ErrUnknownTool is returned for calls naming an unregistered tool.
	ErrUnknownTool = errors.New("unknown tool")
)

// DefaultToolTimeout applies to tools that do not declare their own.
const DefaultToolTimeout = 30 * time.Second

// Tool defines the interface for an executable tool. Execute receives input
// that already passed validation against Parameters and returns a value
// that is marshaled to JSON as the tool output.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (any, error)
}

// TimeoutTool is implemented by tools that need a deadline other than the
// registry default.
type TimeoutTool interface {
	Timeout() time.Duration
}

// ModelViewer is implemented by tools whose output carries data that is
// useful to the user but not to the model, such as rendered images.
type ModelViewer interface {
	ModelView(output any) any
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds registered tools and provides lookup and invocation.
type Registry struct {
	tools   map[string]entry
	timeout time.Duration
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry), timeout: DefaultToolTimeout}
}

// SetDefaultTimeout changes the deadline for tools without their own.
func (r *Registry) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Register adds a tool to the registry, compiling its parameter schema.
func (r *Registry) Register(t Tool) error {
	schema, err := jsonschema.CompileString(t.Name()+".json", string(t.Parameters()))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", t.Name(), err)
	}
	r.tools[t.Name()] = entry{tool: t, schema: schema}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	e, ok := r.tools[name]
	return e.tool, ok
}

// All returns all registered tools ordered by name.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the registered tool names in order.
func (r *Registry) Names() []string {
	var names []string
	for _, t := range r.All() {
		names = append(names, t.Name())
	}
	return names
}

// AsLLMTools converts registered tools to the LLM provider format.
func (r *Registry) AsLLMTools() []llm.Tool {
	all := r.All()
	out := make([]llm.Tool, 0, len(all))
	for _, t := range all {
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}

// Invoke validates input against the tool's schema and runs the tool under
// its deadline. A tool that overruns is abandoned; its goroutine is left to
// observe the cancelled context on its own.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (any, error) {
	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTool, name)
	}

	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	timeout := r.timeout
	if tt, ok := e.tool.(TimeoutTool); ok && tt.Timeout() > 0 {
		timeout = tt.Timeout()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("tool %s panicked: %v", name, p)}
			}
		}()
		out, err := e.tool.Execute(runCtx, input)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, ErrToolTimeout
		}
		return res.out, res.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrToolTimeout
	}
}

// errorText is the short, user-facing form of a tool failure.
func errorText(err error) string {
	switch {
	case errors.Is(err, ErrToolTimeout):
		return ErrToolTimeout.Error()
	case errors.Is(err, ErrInvalidInput):
		return ErrInvalidInput.Error()
	default:
		return err.Error()
	}
}
