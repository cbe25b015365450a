package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/user/energychat/internal/types"
)

const previewChars = 400

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff6b9a")).Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#8a8f98"))
)

// renderMessages formats the conversation for the viewport.
func renderMessages(msgs []types.Message, width int) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(renderMessage(m, width))
	}
	return sb.String()
}

func renderMessage(m types.Message, width int) string {
	wrap := lipgloss.NewStyle()
	if width > 0 {
		wrap = wrap.Width(width)
	}

	var sb strings.Builder
	if m.Role == types.RoleUser {
		sb.WriteString(userStyle.Render("You") + "\n")
		sb.WriteString(wrap.Render(m.Text()) + "\n")
		return sb.String()
	}

	sb.WriteString(assistantStyle.Render("Assistant") + "\n")
	for _, part := range m.Parts {
		switch p := part.(type) {
		case types.TextPart:
			sb.WriteString(wrap.Render(p.Text) + "\n")
		case types.ToolCallPart:
			sb.WriteString(renderTool(p) + "\n")
		}
	}
	if m.Error != "" {
		sb.WriteString(errorStyle.Render("✗ "+m.Error) + "\n")
	}
	return sb.String()
}

func renderTool(p types.ToolCallPart) string {
	var sb strings.Builder
	sb.WriteString(toolStyle.Render(fmt.Sprintf("⚙ %s [%s]", p.ToolName, toolStateLabel(p.State))))

	if input := toolInputPreview(p); input != "" {
		sb.WriteString("\n" + mutedStyle.Render("  input: "+input))
	}
	switch p.State {
	case types.ToolStateComplete:
		if out := outputPreview(p.Output); out != "" {
			sb.WriteString("\n" + mutedStyle.Render("  output: "+out))
		}
	case types.ToolStateError:
		sb.WriteString("\n" + errorStyle.Render("  error: "+p.Error))
	}
	return sb.String()
}

func toolStateLabel(s types.ToolState) string {
	switch s {
	case types.ToolStateComplete:
		return "done"
	case types.ToolStateError:
		return "failed"
	default:
		return "running"
	}
}

// toolInputPreview shows the code of execute_code calls verbatim and other
// inputs as compact JSON.
func toolInputPreview(p types.ToolCallPart) string {
	if len(p.Input) == 0 {
		return truncate(p.InputText)
	}
	var code struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(p.Input, &code) == nil && code.Code != "" {
		return truncate(code.Code)
	}
	return truncate(string(p.Input))
}

// outputPreview prefers the stdout of a code run and falls back to the raw
// JSON result.
func outputPreview(out json.RawMessage) string {
	if len(out) == 0 {
		return ""
	}
	var res struct {
		Stdout   *string  `json:"stdout"`
		Stderr   string   `json:"stderr"`
		ExitCode int      `json:"exitCode"`
		Images   []string `json:"images"`
	}
	if json.Unmarshal(out, &res) == nil && res.Stdout != nil {
		s := strings.TrimRight(*res.Stdout, "\n")
		if res.ExitCode != 0 && res.Stderr != "" {
			s = strings.TrimSpace(s + "\n" + res.Stderr)
		}
		if len(res.Images) > 0 {
			s += fmt.Sprintf(" (%d figure(s))", len(res.Images))
		}
		return truncate(s)
	}
	return truncate(string(out))
}

func truncate(s string) string {
	if len(s) <= previewChars {
		return s
	}
	return s[:previewChars] + "…"
}
