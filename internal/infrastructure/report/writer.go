package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/felixgeelhaar/libertydev/internal/application"
	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// Format selects the output format of inspect.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#16A34A")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#CA8A04")).Bold(true)
	headStyle = lipgloss.NewStyle().Bold(true)
)

// Console prints test run summaries. It implements application.TestReporter.
type Console struct {
	Out io.Writer

	mu sync.Mutex
}

// NewConsole creates a console reporter writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{Out: out}
}

// ReportTests prints one row per module and phase of a finished test run.
func (c *Console) ReportTests(run *domain.PendingTestRun, results []application.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = writeTestSummary(c.Out, run, results)
}

func writeTestSummary(w io.Writer, run *domain.PendingTestRun, results []application.TestResult) error {
	colorize := colorEnabled(w)
	title := fmt.Sprintf("Test run %d", run.ID)
	if colorize {
		title = headStyle.Render(title)
	}
	if _, err := fmt.Fprintf(w, "\n%s\n", title); err != nil {
		return err
	}
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No tests were run.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "Module\tPhase\tDuration\tStatus")
	failed := 0
	for _, r := range results {
		status := "PASS"
		style := passStyle
		if r.Err != nil {
			status = "FAIL"
			style = failStyle
			failed++
		}
		if colorize {
			status = style.Render(status)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Module, r.Phase, r.Duration.Round(time.Millisecond), status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	summary := fmt.Sprintf("%d/%d passed", len(results)-failed, len(results))
	if colorize {
		if failed > 0 {
			summary = failStyle.Render(summary)
		} else {
			summary = passStyle.Render(summary)
		}
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

// WriteInspect renders the result of inspect.
func WriteInspect(w io.Writer, result application.InspectResult, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatText, "":
		return writeInspectText(w, result)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeInspectText(w io.Writer, result application.InspectResult) error {
	colorize := colorEnabled(w)
	_, _ = fmt.Fprintf(w, "Build order: %s\n\n", strings.Join(result.BuildOrder, " -> "))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "Module\tPackaging\tUpstream\tSkip\tRunnable")
	for _, m := range result.Modules {
		runnable := ""
		if m.ID == result.Selected {
			runnable = "selected"
			if colorize {
				runnable = passStyle.Render(runnable)
			}
		} else if m.Runnable {
			runnable = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Packaging, dash(strings.Join(m.Upstream, ",")), skipText(m.Skip), runnable)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if result.Error != "" {
		msg := result.Error
		if colorize {
			msg = warnStyle.Render(msg)
		}
		_, _ = fmt.Fprintf(w, "\n%s\n", msg)
		for _, c := range result.Candidates {
			_, _ = fmt.Fprintf(w, "  - %s\n", c)
		}
	}

	for _, m := range result.Modules {
		if len(m.Roots) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "\n%s watch roots:\n", m.ID)
		rtw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, r := range m.Roots {
			target := ""
			if r.Target != "" {
				target = "-> " + r.Target
			}
			_, _ = fmt.Fprintf(rtw, "  %s\t%s\t%s\n", r.Role, r.Path, target)
		}
		if err := rtw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func skipText(f domain.SkipFlags) string {
	var parts []string
	if f.SkipTests {
		parts = append(parts, "tests")
	}
	if f.SkipUTs {
		parts = append(parts, "UTs")
	}
	if f.SkipITs {
		parts = append(parts, "ITs")
	}
	return dash(strings.Join(parts, ","))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}
