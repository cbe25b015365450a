package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

const (
	maxOutputChars = 20000
	// DefaultCodeTimeout bounds one execute_code run.
	DefaultCodeTimeout = 30 * time.Second
)

// runner executes the user's code and then saves every open matplotlib
// figure as a PNG, so plt.show() is not required.
const runner = `import os, sys
os.environ.setdefault("MPLBACKEND", "Agg")
with open(sys.argv[1]) as _f:
    _src = _f.read()
try:
    exec(compile(_src, "<code>", "exec"), {"__name__": "__main__"})
finally:
    if "matplotlib.pyplot" in sys.modules:
        try:
            import matplotlib.pyplot as _plt
            for _i, _n in enumerate(_plt.get_fignums()):
                _plt.figure(_n).savefig(os.path.join(os.environ["FIGURE_DIR"], "figure_%03d.png" % _i), format="png", bbox_inches="tight")
        except Exception as _e:
            print("figure capture failed: %s" % _e, file=sys.stderr)
`

// CodeResult is the output of one execute_code run. A non-zero exit code
// is a result, not a tool failure.
type CodeResult struct {
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
	ExitCode int      `json:"exitCode"`
	Images   []string `json:"images"`
	Markdown string   `json:"markdown,omitempty"`
}

// ExecuteCode runs Python code in a scratch directory with the dataset
// directory exported as DATA_DIR.
type ExecuteCode struct {
	python  string
	dataDir string
	timeout time.Duration
}

// NewExecuteCode creates the code execution tool. An empty interpreter
// means python3.
func NewExecuteCode(python, dataDir string, timeout time.Duration) *ExecuteCode {
	if python == "" {
		python = "python3"
	}
	if timeout <= 0 {
		timeout = DefaultCodeTimeout
	}
	return &ExecuteCode{python: python, dataDir: dataDir, timeout: timeout}
}

func (e *ExecuteCode) Name() string { return "execute_code" }
func (e *ExecuteCode) Description() string {
	return "Execute Python code for data analysis. Libraries available: pandas, numpy, matplotlib, scipy. " +
		"Data files are in the directory named by the DATA_DIR environment variable. " +
		"Print results to stdout; open matplotlib figures are returned as images."
}
func (e *ExecuteCode) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"code": {"type": "string", "minLength": 1, "description": "Python code to execute"}
		},
		"required": ["code"],
		"additionalProperties": false
	}`)
}

func (e *ExecuteCode) Timeout() time.Duration { return e.timeout }

func (e *ExecuteCode) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}

	dir, err := os.MkdirTemp("", "energychat-exec-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	figDir := filepath.Join(dir, "figures")
	if err := os.Mkdir(figDir, 0755); err != nil {
		return nil, fmt.Errorf("create figure dir: %w", err)
	}
	runnerPath := filepath.Join(dir, "runner.py")
	codePath := filepath.Join(dir, "code.py")
	if err := os.WriteFile(runnerPath, []byte(runner), 0644); err != nil {
		return nil, fmt.Errorf("write runner: %w", err)
	}
	if err := os.WriteFile(codePath, []byte(params.Code), 0644); err != nil {
		return nil, fmt.Errorf("write code: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.python, runnerPath, codePath)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"DATA_DIR="+e.dataDir,
		"MPLBACKEND=Agg",
		"FIGURE_DIR="+figDir,
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	err = cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	res := &CodeResult{Images: []string{}}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		return nil, fmt.Errorf("run %s: %w", e.python, err)
	}

	res.Stdout = truncate(stdout.String())
	res.Stderr = truncate(stderr.String())
	res.Images, err = readFigures(figDir)
	if err != nil {
		return nil, err
	}
	if strings.Contains(res.Stdout, "<table") {
		if md, err := htmltomarkdown.ConvertString(res.Stdout); err == nil {
			res.Markdown = md
		}
	}
	return res, nil
}

// ModelView drops image data, which the model cannot use, and keeps a
// count so it can refer to the figures.
func (e *ExecuteCode) ModelView(output any) any {
	res, ok := output.(*CodeResult)
	if !ok {
		return output
	}
	view := struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exitCode"`
		Images   string `json:"images,omitempty"`
	}{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
	if res.Markdown != "" {
		view.Stdout = res.Markdown
	}
	if n := len(res.Images); n > 0 {
		view.Images = fmt.Sprintf("%d figure(s) shown to the user", n)
	}
	return view
}

func readFigures(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, fmt.Errorf("list figures: %w", err)
	}
	sort.Strings(matches)
	images := make([]string, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read figure: %w", err)
		}
		images = append(images, base64.StdEncoding.EncodeToString(data))
	}
	return images, nil
}

// truncate cuts s to at most maxOutputChars bytes on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxOutputChars {
		return s
	}
	cut := maxOutputChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[Output truncated]"
}
