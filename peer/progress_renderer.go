package peer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ProgressRenderer draws a single-line progress bar for one transfer
type ProgressRenderer struct {
	transfer    *FileTransfer
	label       string
	out         io.Writer
	speed       *speedMeter
	stopChan    chan struct{}
	doneChan    chan struct{}
	stopOnce    sync.Once
	refreshRate time.Duration
	width       int

	name  *color.Color
	bar   *color.Color
	pct   *color.Color
	rate  *color.Color
	fail  *color.Color
	plain *color.Color
}

// NewProgressRenderer renders transfer under label to stdout.
func NewProgressRenderer(transfer *FileTransfer, label string, useColors bool) *ProgressRenderer {
	pr := &ProgressRenderer{
		transfer:    transfer,
		label:       label,
		out:         os.Stdout,
		speed:       newSpeedMeter(),
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
		refreshRate: 200 * time.Millisecond,
		width:       40,

		name:  color.New(color.FgCyan),
		bar:   color.New(color.FgGreen),
		pct:   color.New(color.FgYellow),
		rate:  color.New(color.FgBlue),
		fail:  color.New(color.FgRed, color.Bold),
		plain: color.New(color.Reset),
	}
	if !useColors {
		for _, c := range []*color.Color{pr.name, pr.bar, pr.pct, pr.rate, pr.fail, pr.plain} {
			c.DisableColor()
		}
	}
	return pr
}

// SetOutput redirects rendering, mostly for tests.
func (pr *ProgressRenderer) SetOutput(w io.Writer) {
	pr.out = w
}

func (pr *ProgressRenderer) SetRefreshRate(rate time.Duration) {
	pr.refreshRate = rate
}

// SetWidth sets the width of the progress bar
func (pr *ProgressRenderer) SetWidth(width int) {
	pr.width = width
}

// Start runs the render loop until Stop. Call it in its own goroutine.
func (pr *ProgressRenderer) Start() {
	defer close(pr.doneChan)
	pr.Render()

	ticker := time.NewTicker(pr.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pr.Render()
		case <-pr.stopChan:
			return
		}
	}
}

// Stop signals the render loop without waiting for it.
func (pr *ProgressRenderer) Stop() {
	pr.stopOnce.Do(func() { close(pr.stopChan) })
}

// StopAndWait stops the loop, then draws the final line for the outcome.
func (pr *ProgressRenderer) StopAndWait() {
	pr.Stop()
	<-pr.doneChan

	if pr.transfer.Progress().State == Complete {
		pr.RenderFinal()
	} else {
		pr.RenderError()
	}
}

func (pr *ProgressRenderer) Render() {
	p := pr.transfer.Progress()
	percent := p.Percentage()
	speed := pr.speed.Update(p.BytesSent)
	eta := pr.speed.ETA(p.TotalBytes - p.BytesSent)

	filled := min(int(float64(pr.width)*percent/100), pr.width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", pr.width-filled)

	line := fmt.Sprintf("\r%s [%s] %s (%s/%s) | %s/s | ETA: %s",
		pr.name.Sprintf("[%s]", pr.label),
		pr.bar.Sprint(bar),
		pr.pct.Sprintf("%.1f%%", percent),
		formatBytes(float64(p.BytesSent)), formatBytes(float64(p.TotalBytes)),
		pr.rate.Sprint(formatBytes(speed)),
		formatETA(eta),
	)
	fmt.Fprint(pr.out, line)
}

// RenderFinal renders the completed state
func (pr *ProgressRenderer) RenderFinal() {
	p := pr.transfer.Progress()
	fmt.Fprint(pr.out, "\r\033[K")
	fmt.Fprintf(pr.out, "%s [%s] %s (%s) via %s | Completed in %s\n",
		pr.name.Sprintf("[%s]", pr.label),
		pr.bar.Sprint(strings.Repeat("█", pr.width)),
		pr.bar.Sprint("100%"),
		formatBytes(float64(p.TotalBytes)),
		pr.transfer.Options().Transport.Name(),
		formatDuration(pr.transfer.Elapsed()),
	)
}

// RenderError renders a failed or unfinished transfer.
func (pr *ProgressRenderer) RenderError() {
	p := pr.transfer.Progress()
	reason := p.Err
	if reason == "" {
		reason = p.State.String()
	}
	fmt.Fprint(pr.out, "\r\033[K")
	fmt.Fprintf(pr.out, "%s [%s] %s: %s\n",
		pr.name.Sprintf("[%s]", pr.label),
		pr.fail.Sprint(Failed.Icon()),
		pr.fail.Sprint("Transfer failed"),
		pr.plain.Sprint(reason),
	)
}

// formatBytes formats a byte count into a human-readable string
func formatBytes(bytes float64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%.1f B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", bytes/float64(div), "KMGTPE"[exp])
}

func formatETA(eta time.Duration) string {
	if eta <= 0 {
		return "∞"
	}
	return formatDuration(eta)
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return "<1s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", d/time.Second)
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", d/time.Minute, (d%time.Minute)/time.Second)
	default:
		return fmt.Sprintf("%dh%dm", d/time.Hour, (d%time.Hour)/time.Minute)
	}
}

// IsTerminalSupported reports whether stdout takes color codes.
func IsTerminalSupported() bool {
	return !color.NoColor
}
