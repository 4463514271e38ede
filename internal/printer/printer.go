// Package printer writes styled status lines for CLI commands. Command
// output that other programs consume goes to the command writer instead.
package printer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kartik102005/ecolearn/internal/core/styles"
)

type ctxKey struct{}

// Printer writes human-facing status lines.
type Printer struct {
	w io.Writer
}

func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

// NewContext returns ctx carrying p.
func NewContext(ctx context.Context, p *Printer) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Ctx returns the printer stored in ctx, or one writing to stderr.
func Ctx(ctx context.Context) *Printer {
	if p, ok := ctx.Value(ctxKey{}).(*Printer); ok && p != nil {
		return p
	}
	return New(os.Stderr)
}

func (p *Printer) line(prefix, msg string) {
	if prefix == "" {
		_, _ = fmt.Fprintln(p.w, msg)
		return
	}
	_, _ = fmt.Fprintln(p.w, prefix+" "+msg)
}

// Success prints a title with a muted detail, e.g. "✔ Signed in  maya@example.com".
func (p *Printer) Success(title, detail string) {
	p.line(styles.SuccessStyle.Render("✔"), title+"  "+styles.MutedStyle.Render(detail))
}

func (p *Printer) Successf(format string, args ...any) {
	p.line(styles.SuccessStyle.Render("✔"), fmt.Sprintf(format, args...))
}

func (p *Printer) Infof(format string, args ...any) {
	p.line(styles.InfoStyle.Render("•"), fmt.Sprintf(format, args...))
}

func (p *Printer) Warnf(format string, args ...any) {
	p.line(styles.WarnStyle.Render("!"), fmt.Sprintf(format, args...))
}

func (p *Printer) Errorf(format string, args ...any) {
	p.line(styles.ErrorStyle.Render("✘"), fmt.Sprintf(format, args...))
}

func (p *Printer) Printf(format string, args ...any) {
	p.line("", fmt.Sprintf(format, args...))
}
