package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"docchat/internal/models"
	"docchat/internal/service/conversation"
)

// renderer prints the terminal conversation.
type renderer struct {
	out     io.Writer
	verbose bool
}

func newRenderer(out io.Writer, noColor, verbose bool) *renderer {
	if noColor {
		color.NoColor = true
	}
	return &renderer{out: out, verbose: verbose}
}

func (r *renderer) Banner(snap *conversation.Snapshot) {
	dim := color.New(color.FgHiBlack)
	if a := snap.Assistant; a != nil {
		fmt.Fprintln(r.out, dim.Sprintf("assistant %s (%s, %s)", a.ID, a.Name, a.Mode))
	}
	if f := snap.File; f != nil {
		fmt.Fprintln(r.out, dim.Sprintf("document  %s (%d bytes)", f.OriginalName, f.Size))
	}
	fmt.Fprintln(r.out, dim.Sprint("type a question, /reset to start over, /quit to leave"))
}

func (r *renderer) Prompt() {
	fmt.Fprint(r.out, color.New(color.FgCyan, color.Bold).Sprint("you › "))
}

func (r *renderer) Assistant(e *models.TranscriptEntry) {
	fmt.Fprintf(r.out, "%s %s\n", color.New(color.FgGreen, color.Bold).Sprint("assistant ›"), e.Content)
}

func (r *renderer) Status(s models.RunStatus) {
	if !r.verbose {
		return
	}
	fmt.Fprintln(r.out, color.New(color.FgHiBlack).Sprintf("[run] %s", s))
}

func (r *renderer) Info(msg string) {
	fmt.Fprintln(r.out, color.New(color.FgYellow).Sprint(msg))
}

func (r *renderer) Error(err error) {
	fmt.Fprintln(r.out, color.New(color.FgRed).Sprintf("error: %v", err))
}
