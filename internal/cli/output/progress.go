package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBar draws a single-line progress bar, redrawn in place on each
// update. It counts items, with an optional byte total alongside.
type ProgressBar struct {
	mu    sync.Mutex
	w     io.Writer
	title string
	width int
	total int
	done  int
	bytes int64
}

// NewProgressBar returns a bar for total items. A total of zero draws a
// plain counter.
func NewProgressBar(w io.Writer, title string, total int) *ProgressBar {
	return &ProgressBar{w: w, title: title, width: 30, total: total}
}

// Add records one finished item of n bytes.
func (p *ProgressBar) Add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.bytes += n
	p.render()
}

// Finish draws the final state and ends the line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.render()
	fmt.Fprintln(p.w)
}

func (p *ProgressBar) render() {
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r%s %d (%s)", p.title, p.done, formatBytes(p.bytes))
		return
	}
	filled := p.width * min(p.done, p.total) / p.total
	fmt.Fprintf(p.w, "\r%s [%s%s] %d/%d (%s)",
		p.title,
		strings.Repeat("#", filled),
		strings.Repeat(".", p.width-filled),
		p.done, p.total,
		formatBytes(p.bytes))
}

// formatBytes renders b with a binary unit.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
