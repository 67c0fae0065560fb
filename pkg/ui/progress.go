package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"rgbdtrain/pkg/training"
)

const (
	ProgressBar   = "━"
	ProgressEmpty = "─"
	barWidth      = 24
	defaultWidth  = 100
)

// ProgressDisplay renders training progress. On a terminal it redraws one
// status line per step; otherwise it prints one line per epoch.
// It implements training.Observer.
type ProgressDisplay struct {
	mu            sync.Mutex
	out           io.Writer
	tty           bool
	width         int
	run           string
	epochs        int
	stepsPerEpoch int
	epochsDone    int
	stepInPhase   int
	phase         training.Phase
	lastLoss      float64
	startTime     time.Time
	now           func() time.Time
}

// NewProgressDisplay creates a display for a run of epochs epochs with
// stepsPerEpoch training batches each (0 if unknown)
func NewProgressDisplay(out io.Writer, run string, epochs, stepsPerEpoch int) *ProgressDisplay {
	p := &ProgressDisplay{
		out:           out,
		width:         defaultWidth,
		run:           run,
		epochs:        epochs,
		stepsPerEpoch: stepsPerEpoch,
		startTime:     time.Now(),
		now:           time.Now,
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			p.width = w
		}
	}
	return p
}

// OnStep updates the status line
func (p *ProgressDisplay) OnStep(phase training.Phase, epoch, step int, loss float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if phase != p.phase {
		p.phase = phase
		p.stepInPhase = 0
	}
	p.stepInPhase++
	if phase == training.PhaseTraining {
		p.lastLoss = loss
	}

	if p.tty {
		p.printStatus(epoch)
	}
}

// OnEpoch prints the summary line of a finished epoch
func (p *ProgressDisplay) OnEpoch(record training.EpochRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.epochsDone++
	p.stepInPhase = 0

	best := ""
	if record.IsBest {
		best = " " + Green("★ best")
	}
	line := fmt.Sprintf("%s %s loss %.4f • train %s • val %s • %s%s",
		Cyan(fmt.Sprintf("epoch %d", record.Epoch)),
		Dim(fmt.Sprintf("[%d/%d]", p.epochsDone, p.epochs)),
		record.TrainLoss,
		formatPercent(record.TrainAccuracy),
		Yellow(formatPercent(record.ValidAccuracy)),
		formatDuration(record.Duration),
		best,
	)
	p.clearLine()
	fmt.Fprintln(p.out, line)
}

// Complete prints the final summary
func (p *ProgressDisplay) Complete(testAccuracy, bestAccuracy float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearLine()
	fmt.Fprintf(p.out, "\n%s %s finished in %s\n", Green("✓"), p.run, formatDuration(p.now().Sub(p.startTime)))
	fmt.Fprintf(p.out, "  %s test accuracy %s\n", Dim("•"), Yellow(formatPercent(testAccuracy)))
	fmt.Fprintf(p.out, "  %s best accuracy %s\n", Dim("•"), formatPercent(bestAccuracy))
}

func (p *ProgressDisplay) printStatus(epoch int) {
	var line string
	switch p.phase {
	case training.PhaseTraining:
		line = fmt.Sprintf("%s %s %s loss %.4f • %s",
			Cyan(p.run),
			fmt.Sprintf("epoch %d", epoch),
			renderBar(p.stepInPhase, p.stepsPerEpoch),
			p.lastLoss,
			p.calculateETA(),
		)
	default:
		line = fmt.Sprintf("%s %s %s batch %d",
			Cyan(p.run), fmt.Sprintf("epoch %d", epoch), Magenta(p.phase.String()), p.stepInPhase)
	}

	p.clearLine()
	fmt.Fprint(p.out, line)
}

func (p *ProgressDisplay) clearLine() {
	if p.tty {
		fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", p.width-1))
	}
}

// calculateETA estimates the remaining time of the run from completed epochs
func (p *ProgressDisplay) calculateETA() string {
	if p.epochsDone == 0 || p.epochs == 0 {
		return "eta calculating..."
	}
	perEpoch := p.now().Sub(p.startTime) / time.Duration(p.epochsDone)
	return "eta " + formatDuration(perEpoch*time.Duration(p.epochs-p.epochsDone))
}

func renderBar(done, total int) string {
	if total <= 0 {
		return fmt.Sprintf("step %d", done)
	}
	if done > total {
		done = total
	}
	filled := done * barWidth / total
	return fmt.Sprintf("[%s%s] %d/%d",
		strings.Repeat(ProgressBar, filled), strings.Repeat(ProgressEmpty, barWidth-filled), done, total)
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
