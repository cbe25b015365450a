// internal/context/engine.go
package context

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/energychat/pkg/llm"
)

// perMessageOverhead approximates the framing tokens the API adds per message.
const perMessageOverhead = 4

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
	prompt    *template.Template
	dataDir   string
	now       func() time.Time
}

// New creates a context engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4").
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	tmpl, err := parsePrompt(DefaultPrompt)
	if err != nil {
		return nil, err
	}
	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
		prompt:    tmpl,
		now:       time.Now,
	}, nil
}

// SetPrompt replaces the system prompt template.
func (e *Engine) SetPrompt(text string) error {
	tmpl, err := parsePrompt(text)
	if err != nil {
		return err
	}
	e.prompt = tmpl
	return nil
}

// SetDataDir sets the dataset directory advertised to the model.
func (e *Engine) SetDataDir(dir string) {
	e.dataDir = dir
}

// countTokens returns the token count for a string.
func (e *Engine) countTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

func (e *Engine) messageTokens(msg llm.Message) int {
	n := perMessageOverhead + e.countTokens(msg.Content)
	for _, tc := range msg.Tools {
		n += e.countTokens(tc.Function.Name)
		n += e.countTokens(string(tc.Function.Arguments))
	}
	return n
}

// BuildPrompt prepends the system prompt to history and drops the oldest
// messages that do not fit the input budget. The last user message is
// always kept, as is the newest exchange after it. Messages are dropped a
// whole exchange at a time, so a tool result never appears without the
// assistant message that requested it.
func (e *Engine) BuildPrompt(history []llm.Message, toolNames []string) ([]llm.Message, error) {
	sysPrompt, err := e.systemPrompt(toolNames)
	if err != nil {
		return nil, err
	}
	remaining := e.maxTokens - e.reserve - e.messageTokens(llm.Message{Content: sysPrompt})

	pin := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			pin = i
			break
		}
	}

	var earlier []llm.Message
	if pin >= 0 {
		remaining -= e.messageTokens(history[pin])
		earlier = history[:pin]
	}
	turn := history[pin+1:]
	turnStart := e.fitTail(turn, &remaining, true)
	earlierStart := e.fitTail(earlier, &remaining, false)

	messages := make([]llm.Message, 0, 2+len(earlier)-earlierStart+len(turn)-turnStart)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sysPrompt})
	messages = append(messages, earlier[earlierStart:]...)
	if pin >= 0 {
		messages = append(messages, history[pin])
	}
	messages = append(messages, turn[turnStart:]...)
	return messages, nil
}

// fitTail returns the start of the longest suffix of msgs that fits in
// budget, deducting what it keeps. An exchange is a message plus the tool
// results that follow it; the suffix always starts at an exchange boundary.
// With keepLast the final exchange is kept even if it alone is over budget.
func (e *Engine) fitTail(msgs []llm.Message, budget *int, keepLast bool) int {
	start := len(msgs)
	for start > 0 {
		from := start - 1
		for from > 0 && msgs[from].Role == llm.RoleTool {
			from--
		}
		if msgs[from].Role == llm.RoleTool {
			// Results whose call is not in msgs at all.
			break
		}
		n := 0
		for _, m := range msgs[from:start] {
			n += e.messageTokens(m)
		}
		if n > *budget && !(keepLast && start == len(msgs)) {
			break
		}
		*budget -= n
		start = from
	}
	return start
}

func (e *Engine) systemPrompt(toolNames []string) (string, error) {
	data := PromptData{
		Time:     e.now().Format(time.RFC3339),
		Tools:    strings.Join(toolNames, ", "),
		ToolList: len(toolNames) > 0,
		DataDir:  e.dataDir,
	}
	var buf bytes.Buffer
	if err := e.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}
