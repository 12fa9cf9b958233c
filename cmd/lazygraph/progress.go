package main

import (
	"os"

	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// progressBar over the executed nodes, written to stderr so the result can still be piped.
//
// The bar is only created on the first update, when the number of nodes is known.
type progressBar struct {
	bar    *progressbar.ProgressBar
	output *termenv.Output
}

func newProgressBar() *progressBar {
	return &progressBar{output: termenv.NewOutput(os.Stderr)}
}

// Update implements the graph.Runner progress callback.
func (p *progressBar) Update(done, total int) {
	if p.bar == nil {
		p.output.HideCursor()
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("running"),
			progressbar.OptionSetItsString("nodes"),
			progressbar.OptionShowIts(),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = p.bar.Set(done)
}

// Finish clears the bar, if one was started. It is a no-op on a nil progressBar.
func (p *progressBar) Finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.output.ShowCursor()
}
