package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"tbloader/internal/logging"
	"tbloader/internal/updater"
)

// progressRenderer prints session progress. On a terminal the current step
// is redrawn in place; elsewhere only step changes and 10% buckets are
// printed so captured output stays short.
type progressRenderer struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	sampler     *logging.ProgressSampler

	step    updater.Step
	percent int
	width   int
}

func newProgressRenderer(out io.Writer) *progressRenderer {
	return &progressRenderer{
		out:         out,
		interactive: shouldColorize(out),
		sampler:     logging.NewProgressSampler(10),
	}
}

func (p *progressRenderer) Step(step updater.Step, percent int, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.step = step
	p.percent = percent
	line := fmt.Sprintf("[%3d%%] %s", percent, strings.TrimSpace(label))
	if p.interactive {
		p.redrawLocked(line)
		return
	}
	if p.sampler.ShouldLog(float64(percent), string(step)) {
		fmt.Fprintln(p.out, line)
	}
}

func (p *progressRenderer) Detail(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.interactive {
		return
	}
	p.redrawLocked(fmt.Sprintf("[%3d%%] %s  %s", p.percent, p.step, strings.TrimSpace(line)))
}

func (p *progressRenderer) Log(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interactive {
		p.clearLocked()
	}
	fmt.Fprintln(p.out, strings.TrimRight(line, "\n"))
}

// Finish ends any in-place line.
func (p *progressRenderer) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interactive {
		p.clearLocked()
	}
}

func (p *progressRenderer) redrawLocked(line string) {
	pad := ""
	if n := p.width - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprintf(p.out, "\r%s%s", line, pad)
	p.width = len(line)
}

func (p *progressRenderer) clearLocked() {
	if p.width == 0 {
		return
	}
	fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", p.width))
	p.width = 0
}
