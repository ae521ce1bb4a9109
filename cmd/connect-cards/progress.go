package main

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/joseph-ayodele/connect-cards/internal/queue"
)

// cardProgress draws settled cards against queued cards. A nil *cardProgress
// draws nothing, which is what non-terminal output gets.
type cardProgress struct {
	w     io.Writer
	stats func() queue.Stats
	bar   *progressbar.ProgressBar
}

func newCardProgress(w io.Writer, stats func() queue.Stats) *cardProgress {
	return &cardProgress{w: w, stats: stats}
}

func (p *cardProgress) newBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription("Processing cards"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
}

// update redraws from the queue's current counts. Cards added while watching
// or put back by a retry reopen a finished bar.
func (p *cardProgress) update() {
	if p == nil {
		return
	}
	s := p.stats()
	if s.Total == 0 {
		return
	}
	done := s.Complete + s.Duplicate + s.Failed
	switch {
	case p.bar == nil:
		p.bar = p.newBar(s.Total)
	case p.bar.IsFinished() && done < s.Total:
		p.bar.Reset()
		p.bar.ChangeMax(s.Total)
	case p.bar.GetMax() != s.Total:
		p.bar.ChangeMax(s.Total)
	}
	_ = p.bar.Set(done)
}

// clear erases the bar so a line can be printed; the next update redraws it.
func (p *cardProgress) clear() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Clear()
}

func (p *cardProgress) finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}

func isTerminalWriter(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
