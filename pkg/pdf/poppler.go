package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

const (
	defaultRenderCommand = "pdftoppm"
	defaultRenderDPI     = 150
)

// PopplerRenderer rasterizes pages by invoking the poppler-utils pdftoppm
// binary.
type PopplerRenderer struct {
	Command string
	DPI     int
}

// NewPopplerRenderer returns a renderer using the system pdftoppm tool.
func NewPopplerRenderer() *PopplerRenderer {
	return &PopplerRenderer{Command: defaultRenderCommand, DPI: defaultRenderDPI}
}

// RenderPage rasterizes a single page to PNG under destDir.
func (r *PopplerRenderer) RenderPage(ctx context.Context, pdfPath string, page int, destDir string) (string, error) {
	command := r.Command
	if command == "" {
		command = defaultRenderCommand
	}
	dpi := r.DPI
	if dpi <= 0 {
		dpi = defaultRenderDPI
	}
	if _, err := exec.LookPath(command); err != nil {
		return "", fmt.Errorf("%s not found: %w", command, err)
	}

	prefix := filepath.Join(destDir, fmt.Sprintf("page-%d", page))
	cmd := exec.CommandContext(ctx, command,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		pdfPath, prefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%s failed: %v: %s", command, err, bytes.TrimSpace(out))
	}

	// pdftoppm pads the page number in the output name depending on the
	// document size, so resolve it by glob.
	matches, err := filepath.Glob(prefix + "*.png")
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("rendered image not found for page %d", page)
	}
	return matches[0], nil
}
