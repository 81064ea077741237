package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Notifier is where the session loop and the transfer controller report to
// the user. Every terminal transfer outcome produces exactly one call to
// Errorf or Donef; Progress is informational only.
type Notifier interface {
	// Errorf prints a one-line error.
	Errorf(format string, args ...interface{})
	// Hintf prints a one-line hint (interrupt help and similar).
	Hintf(format string, args ...interface{})
	// Progress reports bytes moved so far; total is -1 when unknown.
	Progress(name string, transferred, total int64)
	// Donef closes the progress line and prints a completion summary.
	Donef(name string, transferred int64, elapsed time.Duration)
}

// Console renders notifications on a terminal. A progress line is drawn in
// place with carriage returns and terminated before any other output.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	inProgress bool

	errColor  *color.Color
	hintColor *color.Color
}

// NewConsole writes to out, usually os.Stdout.
func NewConsole(out io.Writer) *Console {
	return &Console{
		out:       out,
		errColor:  color.New(color.FgRed),
		hintColor: color.New(color.FgYellow),
	}
}

func (c *Console) Errorf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endProgressLine()
	c.errColor.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) Hintf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endProgressLine()
	c.hintColor.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) Progress(name string, transferred, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inProgress = true
	if total > 0 {
		percent := float64(transferred) / float64(total) * 100.0
		fmt.Fprintf(c.out, "\r%s  %s/%s (%.0f%%)", name,
			FormatBytes(transferred), FormatBytes(total), percent)
	} else {
		fmt.Fprintf(c.out, "\r%s  %s", name, FormatBytes(transferred))
	}
}

func (c *Console) Donef(name string, transferred int64, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endProgressLine()
	speed := ""
	if elapsed > 0 {
		speed = fmt.Sprintf(", %s/s", FormatBytes(int64(float64(transferred)/elapsed.Seconds())))
	}
	fmt.Fprintf(c.out, "%s  %s in %s%s\n", name, FormatBytes(transferred), FormatDuration(elapsed), speed)
}

// endProgressLine must be called with the mutex held.
func (c *Console) endProgressLine() {
	if c.inProgress {
		fmt.Fprintln(c.out)
		c.inProgress = false
	}
}

// FormatBytes formats bytes into human-readable form.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats a duration into human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	return fmt.Sprintf("%.0fh", d.Hours())
}
