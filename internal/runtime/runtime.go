package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	ctxengine "github.com/user/energychat/internal/context"
	"github.com/user/energychat/internal/types"
	"github.com/user/energychat/pkg/llm"
)

const (
	// DefaultMaxSteps bounds the tool round trips of one turn.
	DefaultMaxSteps = 5
	// DefaultLLMTimeout bounds a single streamed completion.
	DefaultLLMTimeout = 120 * time.Second

	maxToolResultChars = 8000

	finalStepHint     = "The tool call limit for this answer has been reached. Answer the user directly with the information you already have. Do not call any tools."
	stepLimitFallback = "I reached the limit of tool calls for this answer. Ask me to continue if you need more."
)

// Runtime implements the tool-augmented turn loop.
type Runtime struct {
	provider   llm.Provider
	engine     *ctxengine.Engine
	registry   *Registry
	maxSteps   int
	llmTimeout time.Duration
}

// New creates a Runtime with the given dependencies. Non-positive limits
// fall back to the defaults.
func New(
	provider llm.Provider,
	engine *ctxengine.Engine,
	registry *Registry,
	maxSteps int,
	llmTimeout time.Duration,
) *Runtime {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if llmTimeout <= 0 {
		llmTimeout = DefaultLLMTimeout
	}
	return &Runtime{
		provider:   provider,
		engine:     engine,
		registry:   registry,
		maxSteps:   maxSteps,
		llmTimeout: llmTimeout,
	}
}

// Turn produces the assistant's answer to history, whose last entry is the
// new user message, and writes it to out as one well-formed event sequence.
//
// Each completion is streamed; text is emitted as it arrives. When the model
// requests tools, each call is validated, executed and reported, its result
// is appended to the conversation and the model is asked again. After
// maxSteps tool calls the model gets one more completion without tools.
// A backend failure ends the turn with an error event and is returned.
// If out fails or ctx is cancelled the turn stops without a terminal event.
func (rt *Runtime) Turn(ctx context.Context, history []llm.Message, out Emitter) error {
	w := newTurnWriter(out)
	if err := w.start(types.NewMessageID()); err != nil {
		return fmt.Errorf("emit message start: %w", err)
	}

	conv := append([]llm.Message(nil), history...)
	step := 0
	for {
		final := step >= rt.maxSteps
		res, err := rt.complete(ctx, w, conv, final)
		if err != nil {
			if w.err != nil {
				return fmt.Errorf("emit: %w", w.err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("LLM call failed", "step", step, "error", err)
			if ferr := w.fail(fmt.Sprintf("LLM API error: %v", err)); ferr != nil {
				return fmt.Errorf("emit error: %w", ferr)
			}
			return fmt.Errorf("LLM call: %w", err)
		}

		if final || len(res.calls) == 0 {
			if final && len(res.calls) > 0 {
				slog.Warn("ignoring tool calls past step limit", "count", len(res.calls), "max_steps", rt.maxSteps)
			}
			if final && !res.wroteText {
				if err := w.text(stepLimitFallback); err != nil {
					return fmt.Errorf("emit: %w", err)
				}
			}
			if err := w.finish(); err != nil {
				return fmt.Errorf("emit finish: %w", err)
			}
			return nil
		}

		calls := res.calls
		if remaining := rt.maxSteps - step; len(calls) > remaining {
			slog.Warn("dropping tool calls past step limit", "requested", len(calls), "allowed", remaining)
			calls = calls[:remaining]
		}
		conv = append(conv, llm.Message{Role: llm.RoleAssistant, Content: res.content, Tools: calls})

		for i, call := range calls {
			if i > 0 || !res.live {
				if err := w.toolStart(call.ID, call.Function.Name); err != nil {
					return fmt.Errorf("emit: %w", err)
				}
				if err := w.toolDelta(call.ID, string(call.Function.Arguments)); err != nil {
					return fmt.Errorf("emit: %w", err)
				}
			}
			content, err := rt.runTool(ctx, w, call)
			if err != nil {
				return err
			}
			conv = append(conv, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: content})
			step++

			if i == 0 && res.held != "" {
				if err := w.text(res.held); err != nil {
					return fmt.Errorf("emit: %w", err)
				}
			}
		}
	}
}

// completion is what one streamed LLM call produced.
type completion struct {
	content string
	calls   []llm.ToolCall
	// live reports that calls[0] was streamed while it arrived.
	live      bool
	wroteText bool
	// held is text that arrived while the live tool cycle was open.
	held string
}

func (rt *Runtime) complete(ctx context.Context, w *turnWriter, conv []llm.Message, final bool) (*completion, error) {
	prompt, err := rt.engine.BuildPrompt(conv, rt.registry.Names())
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}
	var tools []llm.Tool
	if final {
		prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: finalStepHint})
	} else {
		tools = rt.registry.AsLLMTools()
	}

	cctx, cancel := context.WithTimeout(ctx, rt.llmTimeout)
	defer cancel()

	deltas, err := rt.provider.Stream(cctx, prompt, tools)
	if err != nil {
		return nil, err
	}

	res := &completion{}
	var acc llm.Accumulator
	var held strings.Builder
	live := liveCall{index: -1}
	for d := range deltas {
		if d.Err != nil {
			return nil, d.Err
		}
		acc.Add(d)
		if d.Content != "" {
			if w.toolOpen() {
				held.WriteString(d.Content)
			} else {
				if err := w.text(d.Content); err != nil {
					return nil, err
				}
				res.wroteText = true
			}
		}
		if final {
			continue
		}
		for _, frag := range d.ToolCalls {
			if err := live.feed(w, frag); err != nil {
				return nil, err
			}
		}
	}
	if cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, fmt.Errorf("completion timed out after %s", rt.llmTimeout)
	}

	res.content = acc.Content()
	res.held = held.String()
	if held.Len() > 0 {
		res.wroteText = true
	}
	if final {
		res.calls = acc.ToolCalls()
		return res, nil
	}

	calls := acc.ToolCalls()
	for i := range calls {
		if live.started && calls[i].Index == live.index {
			calls[i].ID = live.id
		} else if calls[i].ID == "" {
			calls[i].ID = types.NewToolCallID()
		}
	}
	// The live call runs first so the cycle it opened closes first.
	if live.started {
		sort.SliceStable(calls, func(i, j int) bool { return calls[i].Index == live.index && calls[j].Index != live.index })
		res.live = true
	}
	res.calls = calls
	return res, nil
}

// liveCall streams the first tool call of a completion as it arrives.
// Fragments are held until the call's name is known.
type liveCall struct {
	index   int
	id      string
	name    string
	started bool
	pending bytes.Buffer
}

func (l *liveCall) feed(w *turnWriter, frag llm.ToolCall) error {
	if l.index == -1 {
		l.index = frag.Index
	}
	if frag.Index != l.index {
		return nil
	}
	if frag.ID != "" && !l.started {
		l.id = frag.ID
	}
	if frag.Function.Name != "" {
		l.name = frag.Function.Name
	}
	if l.started {
		return w.toolDelta(l.id, string(frag.Function.Arguments))
	}

	l.pending.Write(frag.Function.Arguments)
	if l.name == "" {
		return nil
	}
	if l.id == "" {
		l.id = types.NewToolCallID()
	}
	l.started = true
	if err := w.toolStart(l.id, l.name); err != nil {
		return err
	}
	return w.toolDelta(l.id, l.pending.String())
}

// runTool reports and executes one call and returns the tool message
// content for the model. Tool failures are reported and returned as text;
// only emitter failures and cancellation are returned as errors.
func (rt *Runtime) runTool(ctx context.Context, w *turnWriter, call llm.ToolCall) (string, error) {
	name := call.Function.Name
	input := call.Function.Arguments
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage(`{}`)
	}
	shown := input
	if !json.Valid(input) {
		shown, _ = json.Marshal(string(input))
	}
	if err := w.toolAvailable(call.ID, name, shown); err != nil {
		return "", fmt.Errorf("emit: %w", err)
	}

	start := time.Now()
	out, err := rt.registry.Invoke(ctx, name, input)
	var data []byte
	if err == nil {
		data, err = json.Marshal(out)
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("tool failed", "tool", name, "call_id", call.ID, "duration", time.Since(start), "error", err)
		if werr := w.toolError(call.ID, errorText(err)); werr != nil {
			return "", fmt.Errorf("emit: %w", werr)
		}
		return "error: " + err.Error(), nil
	}

	slog.Info("tool completed", "tool", name, "call_id", call.ID, "duration", time.Since(start))
	if err := w.toolOutput(call.ID, data); err != nil {
		return "", fmt.Errorf("emit: %w", err)
	}
	return rt.modelContent(name, out, data), nil
}

func (rt *Runtime) modelContent(name string, out any, data []byte) string {
	if t, ok := rt.registry.Get(name); ok {
		if mv, ok := t.(ModelViewer); ok {
			if b, err := json.Marshal(mv.ModelView(out)); err == nil {
				data = b
			}
		}
	}
	s := string(data)
	if len(s) > maxToolResultChars {
		cut := maxToolResultChars
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "\n[truncated]"
	}
	return s
}
