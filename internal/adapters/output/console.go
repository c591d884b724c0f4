package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/pkg/sanitize"
)

var (
	colorPrimary = lipgloss.Color("#00ff41")
	colorAmber   = lipgloss.Color("#ffb000")
	colorRed     = lipgloss.Color("#ff3333")
	colorCyan    = lipgloss.Color("#00b8ff")
	colorMuted   = lipgloss.Color("#707070")
)

var barChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

const (
	DefaultConsoleTopN    = 10
	DefaultSparklineWidth = 60
	consoleCellWidth      = 60
	consoleTimeLayout     = "2006-01-02 15:04:05"
)

type ConsoleConfig struct {
	Writer io.Writer // defaults to stdout
	TopN   int
	Width  int // sparkline width
}

// ConsoleRenderer prints a report as styled sections and tables. Colors are
// only emitted when the writer is a terminal. Every value taken from the log
// is sanitized before it is printed.
type ConsoleRenderer struct {
	w     io.Writer
	topN  int
	width int

	title    lipgloss.Style
	section  lipgloss.Style
	muted    lipgloss.Style
	critical lipgloss.Style
	warning  lipgloss.Style
	info     lipgloss.Style
	spark    lipgloss.Style
}

func NewConsoleRenderer(cfg ConsoleConfig) *ConsoleRenderer {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultConsoleTopN
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultSparklineWidth
	}

	r := lipgloss.NewRenderer(cfg.Writer)
	return &ConsoleRenderer{
		w:     cfg.Writer,
		topN:  cfg.TopN,
		width: cfg.Width,

		title:    r.NewStyle().Foreground(colorPrimary).Bold(true),
		section:  r.NewStyle().Foreground(colorCyan).Bold(true).MarginTop(1),
		muted:    r.NewStyle().Foreground(colorMuted),
		critical: r.NewStyle().Foreground(colorRed).Bold(true),
		warning:  r.NewStyle().Foreground(colorAmber).Bold(true),
		info:     r.NewStyle().Foreground(colorCyan),
		spark:    r.NewStyle().Foreground(colorPrimary),
	}
}

func (c *ConsoleRenderer) WriteReport(report *domain.Report) error {
	var b strings.Builder

	c.renderOverview(&b, report)
	c.renderInsights(&b, report.Insights)
	c.renderTraffic(&b, report)
	c.renderTopIPs(&b, report)
	c.renderStatus(&b, report)
	c.renderCounts(&b, "Top paths", "PATH", report.Paths)
	c.renderCounts(&b, "Suspicious user agents", "MATCH", report.SuspiciousAgents.Counts())
	c.renderCounts(&b, "Sensitive endpoints", "MATCH", report.SensitiveEndpoints.Counts())
	c.renderCounts(&b, "Injection attempts", "SIGNATURE", report.InjectionAttempts.Counts())
	c.renderBursts(&b, report.Bursts)
	c.renderSessions(&b, report)
	c.renderErrorPaths(&b, report.ErrorPaths)
	c.renderGeo(&b, report)

	_, err := io.WriteString(c.w, b.String())
	return err
}

// WriteTopN prints a single ranked listing of one field's values.
func (c *ConsoleRenderer) WriteTopN(field string, counts []domain.Count) error {
	var b strings.Builder
	c.heading(&b, fmt.Sprintf("Top %d %s", len(counts), sanitize.Terminal(field)))
	if len(counts) == 0 {
		b.WriteString(c.muted.Render("no values"))
		b.WriteString("\n")
	} else {
		rows := make([][]string, len(counts))
		for i, entry := range counts {
			rows[i] = []string{strconv.Itoa(i + 1), sanitize.Cell(entry.Key, consoleCellWidth), humanize.Comma(int64(entry.Count))}
		}
		c.table(&b, []string{"#", strings.ToUpper(sanitize.Terminal(field)), "Count"}, rows)
	}
	_, err := io.WriteString(c.w, b.String())
	return err
}

func (c *ConsoleRenderer) heading(b *strings.Builder, text string) {
	b.WriteString(c.section.Render(text))
	b.WriteString("\n")
}

func (c *ConsoleRenderer) renderOverview(b *strings.Builder, r *domain.Report) {
	b.WriteString(c.title.Render("logsift report"))
	b.WriteString("\n")
	b.WriteString(c.muted.Render("generated " + r.GeneratedAt.Format(consoleTimeLayout) + " UTC"))
	b.WriteString("\n")

	rows := [][]string{
		{"Records", humanize.Comma(int64(r.TotalRecords))},
		{"Unparsed lines", humanize.Comma(int64(r.FailedLines))},
		{"Unique IPs", humanize.Comma(int64(len(r.IPCounts)))},
		{"Unique user agents", humanize.Comma(int64(len(r.UserAgentCounts)))},
		{"Bytes sent", humanize.Bytes(uint64(r.Bytes.Total))},
		{"Average response", humanize.Bytes(uint64(r.Bytes.Average))},
		{"Largest response", humanize.Bytes(uint64(r.Bytes.Max))},
	}
	if n := len(r.RequestsPerMinute); n > 0 {
		first := r.RequestsPerMinute[0].Minute
		last := r.RequestsPerMinute[n-1].Minute
		rows = append(rows,
			[]string{"First request", first.Format(consoleTimeLayout)},
			[]string{"Time span", strings.TrimSpace(humanize.RelTime(first, last.Add(time.Minute), "", ""))},
		)
	}
	c.table(b, nil, rows)
}

func (c *ConsoleRenderer) renderInsights(b *strings.Builder, insights []domain.Insight) {
	c.heading(b, "Insights")
	if len(insights) == 0 {
		b.WriteString(c.muted.Render("  nothing noteworthy"))
		b.WriteString("\n")
		return
	}
	for _, in := range insights {
		style := c.info
		switch {
		case in.Severity <= domain.InsightHighFrequency.Severity():
			style = c.critical
		case in.Severity <= domain.InsightBursts.Severity():
			style = c.warning
		}
		b.WriteString("  ")
		b.WriteString(style.Render("● "))
		b.WriteString(sanitize.Terminal(in.Text))
		b.WriteString("\n")
	}
}

func (c *ConsoleRenderer) renderTraffic(b *strings.Builder, r *domain.Report) {
	if len(r.RequestsPerMinute) == 0 {
		return
	}
	c.heading(b, "Requests per minute")
	peak := 0
	for _, m := range r.RequestsPerMinute {
		if m.Count > peak {
			peak = m.Count
		}
	}
	b.WriteString("  ")
	b.WriteString(c.spark.Render(Sparkline(r.RequestsPerMinute, c.width)))
	b.WriteString("\n")
	b.WriteString(c.muted.Render(fmt.Sprintf("  %d minutes, peak %d req/min", len(r.RequestsPerMinute), peak)))
	b.WriteString("\n")
	if r.SeriesTruncated {
		b.WriteString(c.warning.Render("  series limited to the most recent minutes; older requests are not plotted"))
		b.WriteString("\n")
	}
}

func (c *ConsoleRenderer) renderTopIPs(b *strings.Builder, r *domain.Report) {
	top := r.IPCounts.Top(c.topN)
	if len(top) == 0 {
		return
	}
	blacklisted := make(map[string]bool, len(r.BlacklistedIPs))
	for _, ip := range r.BlacklistedIPs {
		blacklisted[ip] = true
	}

	c.heading(b, "Top IPs")
	rows := make([][]string, 0, len(top))
	for i, entry := range top {
		var flags []string
		if blacklisted[entry.Key] {
			flags = append(flags, "blacklisted")
		}
		if _, ok := r.HighFrequencyIPs[entry.Key]; ok {
			flags = append(flags, "high-frequency")
		}
		if _, ok := r.BotLikeIPs[entry.Key]; ok {
			flags = append(flags, "bot-like")
		}
		if _, ok := r.Bursts[entry.Key]; ok {
			flags = append(flags, "burst")
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			sanitize.IP(entry.Key),
			humanize.Comma(int64(entry.Count)),
			strconv.Itoa(r.UserAgentDiversity[entry.Key]),
			strings.Join(flags, ", "),
		})
	}
	c.table(b, []string{"#", "IP", "Requests", "UAs", "Flags"}, rows)
}

func (c *ConsoleRenderer) renderStatus(b *strings.Builder, r *domain.Report) {
	total := r.StatusBuckets.Total()
	if total == 0 {
		return
	}
	c.heading(b, "Status classes")
	rows := make([][]string, 0, len(domain.StatusClasses))
	for _, class := range domain.StatusClasses {
		n := r.StatusBuckets[class]
		rows = append(rows, []string{class, humanize.Comma(int64(n)), fmt.Sprintf("%.1f%%", float64(n)*100/float64(total))})
	}
	c.table(b, []string{"Class", "Responses", "Share"}, rows)

	methods := r.Methods.Top(0)
	if len(methods) > 0 {
		parts := make([]string, len(methods))
		for i, m := range methods {
			parts[i] = fmt.Sprintf("%s %d", sanitize.Cell(m.Key, 16), m.Count)
		}
		b.WriteString(c.muted.Render("  methods: " + strings.Join(parts, ", ")))
		b.WriteString("\n")
	}
}

func (c *ConsoleRenderer) renderCounts(b *strings.Builder, title, column string, counts domain.FrequencyTable) {
	top := counts.Top(c.topN)
	if len(top) == 0 {
		return
	}
	c.heading(b, title)
	rows := make([][]string, len(top))
	for i, entry := range top {
		rows[i] = []string{sanitize.Cell(entry.Key, consoleCellWidth), humanize.Comma(int64(entry.Count))}
	}
	c.table(b, []string{column, "Requests"}, rows)
}

func (c *ConsoleRenderer) renderBursts(b *strings.Builder, bursts map[string]domain.BurstWindow) {
	if len(bursts) == 0 {
		return
	}
	counts := make(domain.FrequencyTable, len(bursts))
	for ip, w := range bursts {
		counts[ip] = w.Len()
	}

	c.heading(b, "Request bursts")
	top := counts.Top(c.topN)
	rows := make([][]string, len(top))
	for i, entry := range top {
		w := bursts[entry.Key]
		span := 0.0
		if n := len(w.Hits); n > 0 {
			span = w.Hits[n-1].Elapsed
		}
		rows[i] = []string{
			sanitize.IP(entry.Key),
			w.Start.Format(consoleTimeLayout),
			strconv.Itoa(entry.Count),
			fmt.Sprintf("%.0fs", span),
		}
	}
	c.table(b, []string{"IP", "Start", "Requests", "Span"}, rows)
}

func (c *ConsoleRenderer) renderSessions(b *strings.Builder, r *domain.Report) {
	if len(r.Sessions) == 0 {
		return
	}
	var total time.Duration
	for _, s := range r.Sessions {
		total += s.Duration()
	}

	c.heading(b, "Sessions")
	b.WriteString(c.muted.Render(fmt.Sprintf("  %s sessions, average length %s",
		humanize.Comma(int64(len(r.Sessions))),
		(total / time.Duration(len(r.Sessions))).Round(time.Second))))
	b.WriteString("\n")

	transitions := r.Transitions
	if len(transitions) > c.topN {
		transitions = transitions[:c.topN]
	}
	if len(transitions) > 0 {
		rows := make([][]string, len(transitions))
		for i, tr := range transitions {
			rows[i] = []string{
				sanitize.Cell(tr.From, consoleCellWidth/2),
				sanitize.Cell(tr.To, consoleCellWidth/2),
				strconv.Itoa(tr.Count),
			}
		}
		c.table(b, []string{"From", "To", "Count"}, rows)
	}

	if len(r.EndpointRank) > 0 {
		rows := make([][]string, len(r.EndpointRank))
		for i, s := range r.EndpointRank {
			rows[i] = []string{sanitize.Cell(s.Endpoint, consoleCellWidth), fmt.Sprintf("%.4f", s.Score)}
		}
		c.table(b, []string{"Endpoint", "Rank"}, rows)
	}
}

func (c *ConsoleRenderer) renderErrorPaths(b *strings.Builder, paths []domain.ErrorPath) {
	if len(paths) == 0 {
		return
	}
	if len(paths) > c.topN {
		paths = paths[:c.topN]
	}
	c.heading(b, "Error paths")
	rows := make([][]string, len(paths))
	for i, p := range paths {
		rows[i] = []string{sanitize.Cell(p.Path, consoleCellWidth), strconv.Itoa(p.Total), formatStatusMix(p.ByStatus)}
	}
	c.table(b, []string{"Path", "Errors", "Statuses"}, rows)
}

func (c *ConsoleRenderer) renderGeo(b *strings.Builder, r *domain.Report) {
	if len(r.MapMarkers) == 0 && r.GeoMisses == 0 {
		return
	}
	c.heading(b, "Locations")
	markers := r.MapMarkers
	if len(markers) > c.topN {
		markers = markers[:c.topN]
	}
	rows := make([][]string, len(markers))
	for i, m := range markers {
		rows[i] = []string{
			sanitize.IP(m.IP),
			sanitize.Cell(m.Country, 24),
			sanitize.Cell(m.City, 24),
			sanitize.Cell(m.ISP, 32),
			humanize.Comma(int64(m.RequestCount)),
		}
	}
	if len(rows) > 0 {
		c.table(b, []string{"IP", "Country", "City", "ISP", "Requests"}, rows)
	}
	if r.GeoMisses > 0 {
		b.WriteString(c.muted.Render(fmt.Sprintf("  %d IP(s) not in the geolocation cache", r.GeoMisses)))
		b.WriteString("\n")
	}
}

func (c *ConsoleRenderer) table(b *strings.Builder, header []string, rows [][]string) {
	t := tablewriter.NewWriter(b)
	if header != nil {
		t.SetHeader(header)
	}
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.AppendBulk(rows)
	t.Render()
}

func formatStatusMix(byStatus map[int]int) string {
	counts := make(domain.FrequencyTable, len(byStatus))
	for code, n := range byStatus {
		counts[strconv.Itoa(code)] = n
	}
	top := counts.Top(0)
	parts := make([]string, len(top))
	for i, e := range top {
		parts[i] = e.Key + "×" + strconv.Itoa(e.Count)
	}
	return strings.Join(parts, " ")
}

// Sparkline renders the per-minute series as block characters. Series longer
// than width are summed into width buckets.
func Sparkline(series []domain.MinuteCount, width int) string {
	if len(series) == 0 || width <= 0 {
		return ""
	}

	values := make([]int, 0, width)
	if len(series) <= width {
		for _, m := range series {
			values = append(values, m.Count)
		}
	} else {
		for i := 0; i < width; i++ {
			lo := i * len(series) / width
			hi := (i + 1) * len(series) / width
			sum := 0
			for _, m := range series[lo:hi] {
				sum += m.Count
			}
			values = append(values, sum)
		}
	}

	peak := 0
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}

	var sb strings.Builder
	for _, v := range values {
		level := 0
		if peak > 0 {
			level = v * (len(barChars) - 1) / peak
		}
		sb.WriteRune(barChars[level])
	}
	return sb.String()
}
