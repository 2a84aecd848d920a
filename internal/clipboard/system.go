package clipboard

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// SystemReader shells out to the platform clipboard tool. Checked once at
// startup; the monitor is simply not run when no tool is installed.
type SystemReader struct {
	command string
	args    []string
}

var clipboardTools = []struct {
	command string
	args    []string
}{
	{"wl-paste", []string{"--no-newline"}},
	{"xclip", []string{"-selection", "clipboard", "-o"}},
	{"pbpaste", nil},
}

// NewSystemReader finds an installed clipboard tool. Returns nil when none
// is available.
func NewSystemReader() *SystemReader {
	for _, tool := range clipboardTools {
		if _, err := exec.LookPath(tool.command); err == nil {
			return &SystemReader{command: tool.command, args: tool.args}
		}
	}
	return nil
}

// ReadText returns the current clipboard text.
func (r *SystemReader) ReadText(ctx context.Context) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", r.command, err)
	}
	return out.String(), nil
}
