package llm

import (
	"encoding/json"
	"sort"
	"strings"
)

// Accumulator merges a sequence of streamed deltas into the complete
// assistant turn they describe.
type Accumulator struct {
	content strings.Builder
	calls   map[int]*ToolCall
	args    map[int]*strings.Builder
	finish  string
}

// Add folds one delta into the accumulated state. Tool call fragments are
// matched by Index.
func (a *Accumulator) Add(d Delta) {
	a.content.WriteString(d.Content)
	if d.FinishReason != "" {
		a.finish = d.FinishReason
	}
	for _, frag := range d.ToolCalls {
		if a.calls == nil {
			a.calls = make(map[int]*ToolCall)
			a.args = make(map[int]*strings.Builder)
		}
		tc, ok := a.calls[frag.Index]
		if !ok {
			tc = &ToolCall{Index: frag.Index, Type: "function"}
			a.calls[frag.Index] = tc
			a.args[frag.Index] = &strings.Builder{}
		}
		if frag.ID != "" {
			tc.ID = frag.ID
		}
		if frag.Function.Name != "" {
			tc.Function.Name = frag.Function.Name
		}
		a.args[frag.Index].Write(frag.Function.Arguments)
	}
}

// Content returns the text accumulated so far.
func (a *Accumulator) Content() string {
	return a.content.String()
}

// FinishReason returns the last finish reason seen.
func (a *Accumulator) FinishReason() string {
	return a.finish
}

// ToolCalls returns the assembled calls ordered by index.
func (a *Accumulator) ToolCalls() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(a.calls))
	for idx, tc := range a.calls {
		call := *tc
		call.Function.Arguments = json.RawMessage(a.args[idx].String())
		out = append(out, call)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
