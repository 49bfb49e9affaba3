// Package tui is a read-only terminal viewer for jobs and their run history.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/kylemclaren/local-tasks/internal/db"
	"github.com/kylemclaren/local-tasks/internal/schedule"
)

// Store is the read side of the job store shown by the viewer
type Store interface {
	ListJobs(ctx context.Context) ([]*db.Job, error)
	ListAllSlots(ctx context.Context) (map[int64][]db.ScheduleSlot, error)
	ListRunLogs(ctx context.Context, limit, offset int) ([]*db.RunLogEntry, error)
	CountRuns(ctx context.Context) (int, error)
}

// View represents the current view
type View int

const (
	ViewJobs View = iota
	ViewRuns
	ViewDetail
)

// KeyMap defines keybindings
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Tab     key.Binding
	Enter   key.Binding
	Next    key.Binding
	Prev    key.Binding
	Refresh key.Binding
	Back    key.Binding
	Quit    key.Binding
}

var keys = KeyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Tab:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "jobs/runs")),
	Enter:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "details")),
	Next:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next page")),
	Prev:    key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "prev page")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Back:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Enter, k.Next, k.Prev, k.Refresh, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter},
		{k.Tab, k.Next, k.Prev},
		{k.Refresh, k.Back, k.Quit},
	}
}

// Layout constants
const (
	pageSize           = 20
	refreshInterval    = 5 * time.Second
	maxTableWidth      = 160
	headerHeight       = 5
	footerHeight       = 3
	minTableHeight     = 5
	detailHeaderHeight = 3
)

// Model is the main TUI model
type Model struct {
	store Store
	now   func() time.Time

	currentView View
	width       int
	height      int

	jobs      []*db.Job
	slots     map[int64][]db.ScheduleSlot
	jobsTable table.Model

	runs      []*db.RunLogEntry
	totalRuns int
	page      int
	runsTable table.Model

	selectedRun *db.RunLogEntry
	viewport    viewport.Model
	mdRenderer  *glamour.TermRenderer

	help   help.Model
	errMsg string
}

func jobColumns(width int) []table.Column {
	w := max(width-4, 80)
	w = min(w, maxTableWidth)
	rest := w - 12 - 16 - 16 - 10
	return []table.Column{
		{Title: "Name", Width: rest * 40 / 100},
		{Title: "Target", Width: 12},
		{Title: "Schedule", Width: rest * 60 / 100},
		{Title: "Next Run", Width: 16},
		{Title: "Last Run", Width: 16},
	}
}

func runColumns(width int) []table.Column {
	w := max(width-4, 80)
	w = min(w, maxTableWidth)
	rest := w - 16 - 16 - 10 - 6 - 10
	return []table.Column{
		{Title: "Job", Width: rest * 35 / 100},
		{Title: "Scheduled", Width: 16},
		{Title: "Started", Width: 16},
		{Title: "Status", Width: 10},
		{Title: "Exit", Width: 6},
		{Title: "Output", Width: rest * 65 / 100},
	}
}

func newTable(columns []table.Column) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dimTextColor).
		BorderBottom(true).
		Bold(true).
		Foreground(accentColor)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor).
		Bold(true)
	t.SetStyles(ts)
	return t
}

// NewModel creates a new TUI model
func NewModel(store Store) Model {
	h := help.New()
	h.Styles.ShortKey = helpKeyStyle
	h.Styles.ShortDesc = helpDescStyle

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return Model{
		store:      store,
		now:        time.Now,
		slots:      make(map[int64][]db.ScheduleSlot),
		jobsTable:  newTable(jobColumns(100)),
		runsTable:  newTable(runColumns(100)),
		viewport:   viewport.New(80, 20),
		mdRenderer: renderer,
		help:       h,
	}
}

// Messages
type jobsLoadedMsg struct {
	jobs  []*db.Job
	slots map[int64][]db.ScheduleSlot
}
type runsLoadedMsg struct {
	runs  []*db.RunLogEntry
	total int
	page  int
}
type errMsg struct{ err error }
type tickMsg time.Time

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadJobs(), m.loadRuns(0), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) loadJobs() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx := context.Background()
		jobs, err := store.ListJobs(ctx)
		if err != nil {
			return errMsg{err}
		}
		slots, err := store.ListAllSlots(ctx)
		if err != nil {
			return errMsg{err}
		}
		return jobsLoadedMsg{jobs: jobs, slots: slots}
	}
}

func (m Model) loadRuns(page int) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx := context.Background()
		total, err := store.CountRuns(ctx)
		if err != nil {
			return errMsg{err}
		}
		runs, err := store.ListRunLogs(ctx, pageSize, page*pageSize)
		if err != nil {
			return errMsg{err}
		}
		return runsLoadedMsg{runs: runs, total: total, page: page}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.currentView {
		case ViewDetail:
			return m.updateDetail(msg)
		default:
			return m.updateTables(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		tableWidth := min(msg.Width-4, maxTableWidth)
		tableHeight := max(msg.Height-headerHeight-footerHeight-2, minTableHeight)
		m.jobsTable.SetColumns(jobColumns(msg.Width))
		m.jobsTable.SetWidth(tableWidth)
		m.jobsTable.SetHeight(tableHeight)
		m.runsTable.SetColumns(runColumns(msg.Width))
		m.runsTable.SetWidth(tableWidth)
		m.runsTable.SetHeight(tableHeight)

		m.viewport.Width = msg.Width - 6
		m.viewport.Height = max(msg.Height-detailHeaderHeight-footerHeight-2, 5)
		m.help.Width = msg.Width

		if renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(msg.Width-10, 20)),
		); err == nil {
			m.mdRenderer = renderer
		}
		m.updateJobRows()
		m.updateRunRows()

	case tickMsg:
		return m, tea.Batch(m.loadJobs(), m.loadRuns(m.page), tickCmd())

	case jobsLoadedMsg:
		m.jobs = msg.jobs
		m.slots = msg.slots
		if m.slots == nil {
			m.slots = make(map[int64][]db.ScheduleSlot)
		}
		m.errMsg = ""
		m.updateJobRows()

	case runsLoadedMsg:
		m.runs = msg.runs
		m.totalRuns = msg.total
		m.page = msg.page
		m.errMsg = ""
		m.updateRunRows()

	case errMsg:
		m.errMsg = "Error: " + msg.err.Error()
	}

	return m, nil
}

func (m Model) updateTables(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Tab):
		if m.currentView == ViewJobs {
			m.currentView = ViewRuns
		} else {
			m.currentView = ViewJobs
		}
		return m, nil
	case key.Matches(msg, keys.Refresh):
		return m, tea.Batch(m.loadJobs(), m.loadRuns(m.page))
	}

	if m.currentView == ViewJobs {
		var cmd tea.Cmd
		m.jobsTable, cmd = m.jobsTable.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, keys.Next):
		if (m.page+1)*pageSize < m.totalRuns {
			return m, m.loadRuns(m.page + 1)
		}
		return m, nil
	case key.Matches(msg, keys.Prev):
		if m.page > 0 {
			return m, m.loadRuns(m.page - 1)
		}
		return m, nil
	case key.Matches(msg, keys.Enter):
		idx := m.runsTable.Cursor()
		if idx >= 0 && idx < len(m.runs) {
			m.selectedRun = m.runs[idx]
			m.currentView = ViewDetail
			m.viewport.SetContent(m.renderDetailContent())
			m.viewport.GotoTop()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.runsTable, cmd = m.runsTable.Update(msg)
	return m, cmd
}

func (m Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Back), msg.String() == "q":
		m.currentView = ViewRuns
		m.selectedRun = nil
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) updateJobRows() {
	columns := m.jobsTable.Columns()
	nameWidth, scheduleWidth := 18, 24
	if len(columns) >= 3 {
		nameWidth = columns[0].Width
		scheduleWidth = columns[2].Width
	}

	jobs := make([]*db.Job, len(m.jobs))
	copy(jobs, m.jobs)
	sort.SliceStable(jobs, func(i, j int) bool {
		return strings.ToLower(jobs[i].Name) < strings.ToLower(jobs[j].Name)
	})

	now := m.now()
	rows := make([]table.Row, 0, len(jobs))
	for _, job := range jobs {
		slots := m.slots[job.ID]
		nextRun := "-"
		if job.Active {
			if next, ok := schedule.NextRun(slots, now); ok {
				nextRun = formatTime(next, now)
			}
		}
		lastRun := "-"
		if job.LastRunAt != nil {
			lastRun = formatTime(*job.LastRunAt, now)
		}
		name := job.Name
		if !job.Active {
			name += " (inactive)"
		}
		rows = append(rows, table.Row{
			truncate(name, nameWidth),
			string(job.TargetKind()),
			truncate(scheduleSummary(slots), scheduleWidth),
			nextRun,
			lastRun,
		})
	}
	m.jobsTable.SetRows(rows)
}

func (m *Model) updateRunRows() {
	columns := m.runsTable.Columns()
	jobWidth, outputWidth := 18, 30
	if len(columns) >= 6 {
		jobWidth = columns[0].Width
		outputWidth = columns[5].Width
	}

	rows := make([]table.Row, 0, len(m.runs))
	for _, run := range m.runs {
		exit := "-"
		if run.ExitCode != nil {
			exit = fmt.Sprintf("%d", *run.ExitCode)
		}
		summary := run.Output
		if summary == "" {
			summary = run.Error
		}
		rows = append(rows, table.Row{
			truncate(run.JobName, jobWidth),
			run.ScheduledTime.Format("2006-01-02 15:04"),
			formatStamp(run.StartTime),
			string(run.Status),
			exit,
			truncate(firstLine(summary), outputWidth),
		})
	}
	m.runsTable.SetRows(rows)
}

func (m Model) View() string {
	var content string
	switch m.currentView {
	case ViewJobs, ViewRuns:
		content = m.renderTables()
	case ViewDetail:
		content = m.renderDetail()
	}
	return appStyle.Render(content)
}

func (m Model) renderTables() string {
	var b strings.Builder

	b.WriteString(logoStyle.Render("local-tasks"))
	b.WriteString("  ")
	jobsTab, runsTab := inactiveTabStyle, inactiveTabStyle
	if m.currentView == ViewJobs {
		jobsTab = activeTabStyle
	} else {
		runsTab = activeTabStyle
	}
	b.WriteString(jobsTab.Render(fmt.Sprintf("Jobs (%d)", len(m.jobs))))
	b.WriteString(runsTab.Render(fmt.Sprintf("Runs (%d)", m.totalRuns)))
	b.WriteString("\n\n")

	if m.currentView == ViewJobs {
		if len(m.jobs) == 0 {
			b.WriteString(emptyBoxStyle.Render("No jobs configured"))
		} else {
			b.WriteString(m.jobsTable.View())
		}
	} else {
		if len(m.runs) == 0 {
			b.WriteString(emptyBoxStyle.Render("No runs recorded yet"))
		} else {
			b.WriteString(m.runsTable.View())
			b.WriteString("\n")
			b.WriteString(subtitleStyle.Render(m.pageLabel()))
		}
	}
	b.WriteString("\n\n")

	if m.errMsg != "" {
		b.WriteString(errorMsgStyle.Render(m.errMsg))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(keys))
	return b.String()
}

func (m Model) pageLabel() string {
	pages := max((m.totalRuns+pageSize-1)/pageSize, 1)
	return fmt.Sprintf("Page %d of %d", m.page+1, pages)
}

func (m Model) renderDetail() string {
	if m.selectedRun == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(logoStyle.Render(m.selectedRun.JobName))
	b.WriteString("  ")
	b.WriteString(statusBadge(m.selectedRun.Status))
	b.WriteString("\n")
	b.WriteString(subtitleStyle.Render("Scheduled " + m.selectedRun.ScheduledTime.Format("2006-01-02 15:04")))
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n\n")
	b.WriteString(helpKeyStyle.Render("↑/↓") + helpDescStyle.Render(" scroll • ") +
		helpKeyStyle.Render("esc") + helpDescStyle.Render(" back"))
	return b.String()
}

// renderDetailContent renders the selected run as markdown
func (m Model) renderDetailContent() string {
	run := m.selectedRun
	if run == nil {
		return ""
	}
	doc := detailMarkdown(run)
	if m.mdRenderer != nil {
		if rendered, err := m.mdRenderer.Render(doc); err == nil {
			return rendered
		}
	}
	return run.Details()
}

func detailMarkdown(run *db.RunLogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", run.JobName)
	fmt.Fprintf(&b, "- **Status:** %s\n", run.Status)
	fmt.Fprintf(&b, "- **Start:** %s\n", formatStamp(run.StartTime))
	fmt.Fprintf(&b, "- **End:** %s\n", formatStamp(run.EndTime))
	if run.ExitCode != nil {
		fmt.Fprintf(&b, "- **Exit:** %d\n", *run.ExitCode)
	}
	if run.Output != "" {
		fmt.Fprintf(&b, "\n### Output\n\n```\n%s\n```\n", strings.TrimRight(run.Output, "\n"))
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "\n### Error\n\n```\n%s\n```\n", strings.TrimRight(run.Error, "\n"))
	}
	return b.String()
}

func statusBadge(status db.RunStatus) string {
	switch status {
	case db.RunStatusSuccess:
		return statusOK.Render("✓ SUCCESS")
	case db.RunStatusTimeout:
		return statusTimeout.Render("⏱ TIMEOUT")
	default:
		return statusFail.Render("✗ FAILED")
	}
}

var dayNames = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// scheduleSummary describes the slots of one job in a line
func scheduleSummary(slots []db.ScheduleSlot) string {
	if len(slots) == 0 {
		return "-"
	}
	first := slots[0]

	minutes := make([]int, 0, len(slots))
	for _, s := range slots {
		minutes = append(minutes, s.MinuteOfDay)
	}
	sort.Ints(minutes)
	times := make([]string, len(minutes))
	for i, mod := range minutes {
		times[i] = fmt.Sprintf("%02d:%02d", mod/60, mod%60)
	}

	var when string
	switch first.Kind {
	case db.KindRecurring:
		switch first.DaysMask {
		case db.AllDays:
			when = "Daily"
		case db.Weekdays:
			when = "Weekdays"
		default:
			var days []string
			for i, name := range dayNames {
				if first.DaysMask&(1<<i) != 0 {
					days = append(days, name)
				}
			}
			when = strings.Join(days, ",")
		}
	case db.KindDate:
		when = "On " + first.Date
	case db.KindMonthly:
		when = "Monthly day " + first.Date
	default:
		when = string(first.Kind)
	}

	summary := when + " " + strings.Join(times, ", ")
	if !first.Active {
		summary += " (paused)"
	}
	return summary
}

func formatTime(t, now time.Time) string {
	if t.Before(now) {
		return t.Format("Jan 02 15:04")
	}

	diff := t.Sub(now)
	if diff < time.Hour {
		return fmt.Sprintf("in %dm", int(diff.Minutes()))
	}
	if diff < 24*time.Hour {
		return fmt.Sprintf("in %dh %dm", int(diff.Hours()), int(diff.Minutes())%60)
	}
	return t.Format("Jan 02 15:04")
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if limit <= 3 || len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

// Run starts the TUI application
func Run(store Store) error {
	p := tea.NewProgram(NewModel(store), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
