// Package output renders run progress and the human-readable end-of-run
// report. Everything goes to stderr so stdout stays free for the JSON summary.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/engine"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
)

const (
	ruleWidth = 56

	iconPass = "✓"
	iconFail = "✗"
)

// Console writes progress lines and the final report.
type Console struct {
	writer io.Writer
	quiet  bool

	mu sync.Mutex

	title   *color.Color
	rule    *color.Color
	dim     *color.Color
	value   *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	section *color.Color
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	// Writer defaults to os.Stderr
	Writer io.Writer

	// Quiet suppresses everything except the final PASSED/FAILED line
	Quiet bool

	// NoColor disables colours regardless of terminal detection
	NoColor bool

	// ForceColors enables colours even when Writer is not a terminal
	ForceColors bool
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	c := &Console{
		writer:  cfg.Writer,
		quiet:   cfg.Quiet,
		title:   color.New(color.Bold),
		rule:    color.New(color.FgCyan),
		dim:     color.New(color.Faint),
		value:   color.New(color.FgCyan),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
		section: color.New(color.FgMagenta, color.Bold),
	}

	useColors := !cfg.NoColor && (cfg.ForceColors || ColorsEnabled(cfg.Writer, false))
	for _, col := range []*color.Color{c.title, c.rule, c.dim, c.value, c.good, c.warn, c.bad, c.section} {
		if useColors {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}

	return c
}

// PrintHeader announces the run.
func (c *Console) PrintHeader(name string, executorType string, url string, duration time.Duration) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat("━", ruleWidth)
	c.writeln(c.rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - Running [%s]", c.title.Sprint(name), executorType))
	c.writeln(fmt.Sprintf("target:   %s", c.value.Sprint(url)))
	c.writeln(fmt.Sprintf("duration: %s", c.value.Sprint(formatDuration(duration))))
	c.writeln(c.rule.Sprint(line))
}

// PrintProgress writes a one-line status update.
func (c *Console) PrintProgress(p engine.Progress) {
	if c.quiet || p.Stats == nil || p.Snapshot == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := p.Snapshot
	stage := string(snap.Phase)
	if p.Stats.TotalStages > 0 {
		stage = fmt.Sprintf("%s %d/%d", snap.Phase, p.Stats.CurrentStage+1, p.Stats.TotalStages)
	}

	c.writeln(fmt.Sprintf("[%s] %3.0f%% | %s | VUs: %d/%d | iters: %d | reqs: %d | errors: %s | p95: %s",
		formatDuration(snap.Elapsed),
		p.Fraction*100,
		stage,
		p.Stats.ActiveVUs,
		p.Stats.TargetVUs,
		snap.Iterations,
		snap.HTTPReqs,
		c.rateColor(snap.Errors.Rate).Sprintf("%.1f%%", snap.Errors.Rate*100),
		formatDurationShort(snap.HTTPReqDuration.P95)))
}

// PrintSummary writes the k6-style text report for a finished run.
func (c *Console) PrintSummary(result *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.good.Sprint("PASSED")
	if !result.Passed {
		status = c.bad.Sprint("FAILED")
	}
	if c.quiet {
		c.writeln(status)
		return
	}

	snap := result.Snapshot
	line := strings.Repeat("━", ruleWidth)

	c.writeln("")
	c.writeln(c.rule.Sprint(line))
	heading := fmt.Sprintf("%s - %s", c.title.Sprint(result.Name), status)
	if result.Interrupted {
		heading += c.warn.Sprint(" (interrupted)")
	}
	c.writeln(heading)
	c.writeln(c.dim.Sprint("run " + result.RunID))
	c.writeln(c.rule.Sprint(line))
	c.writeln("")

	if snap != nil {
		c.printChecks(snap)
		c.printMetrics(snap)
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.section.Sprint("thresholds"))
		for _, t := range result.Thresholds {
			icon := c.good.Sprint(iconPass)
			detail := ""
			if !t.Passed {
				icon = c.bad.Sprint(iconFail)
				detail = c.dim.Sprint("  " + t.Message)
			}
			c.writeln(fmt.Sprintf("  %s %s %s%s", icon, t.Metric, t.Expression, detail))
		}
		c.writeln("")
	}
}

func (c *Console) printChecks(snap *metrics.Snapshot) {
	if len(snap.CheckCounts) == 0 {
		return
	}

	c.writeln(c.section.Sprint("checks"))
	for _, cc := range snap.CheckCounts {
		total := cc.Passes + cc.Fails
		pct := 0.0
		if total > 0 {
			pct = float64(cc.Passes) / float64(total) * 100
		}
		icon := c.good.Sprint(iconPass)
		if cc.Fails > 0 {
			icon = c.bad.Sprint(iconFail)
		}
		c.writeln(fmt.Sprintf("  %s %-24s %5.1f%%  %s %d  %s %d",
			icon, cc.Name, pct, iconPass, cc.Passes, iconFail, cc.Fails))
	}
	c.writeln("")
}

func (c *Console) printMetrics(snap *metrics.Snapshot) {
	rows := map[string]string{
		metrics.HTTPReqDuration:   c.trendRow(snap.HTTPReqDuration),
		metrics.IterationDuration: c.trendRow(snap.IterationDuration),
		metrics.HTTPReqs:          c.counterRow(snap, snap.HTTPReqs),
		metrics.Iterations:        c.counterRow(snap, snap.Iterations),
		metrics.DataReceived:      c.dataRow(snap, snap.DataReceived),
		metrics.DataSent:          c.dataRow(snap, snap.DataSent),
		metrics.HTTPReqFailed:     c.rateRow(snap.HTTPReqFailed),
		metrics.Errors:            c.rateRow(snap.Errors),
		metrics.ChecksRate:        c.rateRow(snap.Checks),
		metrics.VUs:               fmt.Sprintf("%d  min=%d max=%d", snap.VUs.Value, snap.VUs.Min, snap.VUs.Max),
		metrics.VUsMax:            fmt.Sprintf("%d", snap.VUsMax.Value),
	}
	if snap.DroppedIterations > 0 {
		rows[metrics.DroppedIterations] = c.counterRow(snap, snap.DroppedIterations)
	}

	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	sort.Strings(names)

	c.writeln(c.section.Sprint("metrics"))
	for _, name := range names {
		label := name + strings.Repeat(".", 22-min(len(name), 21))
		c.writeln(fmt.Sprintf("  %s %s", c.dim.Sprint(label), rows[name]))
	}
	c.writeln("")
}

func (c *Console) trendRow(t metrics.TrendStats) string {
	return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s",
		c.value.Sprint(formatDurationShort(t.Avg)),
		c.value.Sprint(formatDurationShort(t.Min)),
		c.value.Sprint(formatDurationShort(t.Med)),
		c.value.Sprint(formatDurationShort(t.Max)),
		c.value.Sprint(formatDurationShort(t.P90)),
		c.value.Sprint(formatDurationShort(t.P95)))
}

func (c *Console) counterRow(snap *metrics.Snapshot, n int64) string {
	return fmt.Sprintf("%s  %s/s", c.value.Sprint(formatNumber(n)), fmt.Sprintf("%.2f", snap.PerSecond(n)))
}

func (c *Console) dataRow(snap *metrics.Snapshot, n int64) string {
	return fmt.Sprintf("%s  %s/s", c.value.Sprint(formatBytes(n)), formatBytes(int64(snap.PerSecond(n))))
}

func (c *Console) rateRow(r metrics.RateStats) string {
	return fmt.Sprintf("%s  %s %d  %s %d",
		c.rateColor(r.Rate).Sprintf("%.2f%%", r.Rate*100), iconPass, r.Passes, iconFail, r.Fails)
}

func (c *Console) rateColor(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return c.bad
	case rate > 0.01:
		return c.warn
	default:
		return c.good
	}
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0s"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if n < 0 || len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

func formatBytes(n int64) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "kMGTPE"[exp])
}
