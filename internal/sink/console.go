package sink

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/zonelog/internal/metric"
)

// Zone2 is the configured aerobic-base heart-rate band.
type Zone2 struct {
	MinBPM uint16
	MaxBPM uint16
}

// classify returns the marker for a BPM relative to the band.
func (z Zone2) classify(bpm uint16) string {
	switch {
	case z.MinBPM == 0 && z.MaxBPM == 0:
		return ""
	case bpm < z.MinBPM:
		return "below Z2"
	case z.MaxBPM > 0 && bpm > z.MaxBPM:
		return "above Z2"
	default:
		return "in Z2"
	}
}

// ConsolePrinter renders a periodic one-line summary of the latest
// metrics, with a Zone-2 adherence marker. Colors are applied only when
// the output is a terminal.
type ConsolePrinter struct {
	out      io.Writer
	zone     Zone2
	interval time.Duration

	inZone    *color.Color
	outOfZone *color.Color

	mu            sync.Mutex
	lastTreadmill *metric.TreadmillSample
	lastHeartRate *metric.HeartRateSample
}

// NewConsolePrinter writes summaries to out every interval. Passing
// os.Stdout enables color when stdout is a TTY.
func NewConsolePrinter(out io.Writer, zone Zone2, interval time.Duration) *ConsolePrinter {
	if interval <= 0 {
		interval = time.Second
	}
	p := &ConsolePrinter{
		out:       out,
		zone:      zone,
		interval:  interval,
		inZone:    color.New(color.FgGreen),
		outOfZone: color.New(color.FgYellow),
	}
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		p.inZone.DisableColor()
		p.outOfZone.DisableColor()
	}
	return p
}

// Observe folds an event into the latest-values snapshot.
func (p *ConsolePrinter) Observe(ev metric.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case ev.Treadmill != nil:
		p.lastTreadmill = ev.Treadmill
	case ev.HeartRate != nil:
		p.lastHeartRate = ev.HeartRate
	}
}

// Run prints the summary line every interval until done is closed.
func (p *ConsolePrinter) Run(done <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.printLine()
		}
	}
}

func (p *ConsolePrinter) printLine() {
	p.mu.Lock()
	t := p.lastTreadmill
	h := p.lastHeartRate
	p.mu.Unlock()

	if t == nil && h == nil {
		return
	}

	line := ""
	if t != nil {
		line += fmt.Sprintf("Speed: %.2f km/h, Incline: %.1f%%, Dist: %.0f m", t.SpeedKPH, t.InclinePercent, t.DistanceM)
	}
	if h != nil {
		if line != "" {
			line += ", "
		}
		line += fmt.Sprintf("HR: %d bpm", h.BPM)
		if h.BatteryPercent != nil {
			line += fmt.Sprintf(" (batt %d%%)", *h.BatteryPercent)
		}
		if marker := p.zone.classify(h.BPM); marker != "" {
			c := p.outOfZone
			if marker == "in Z2" {
				c = p.inZone
			}
			line += " [" + c.Sprint(marker) + "]"
		}
	}
	fmt.Fprintln(p.out, line)
}
