package tui

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"grimm.is/ruledesk/internal/ruleset"
)

// SnapshotSource lists the live ruleset.
type SnapshotSource interface {
	Tables(ctx context.Context) ([]ruleset.TableView, []string, error)
}

// FeedEvent is one line of the server's event stream.
type FeedEvent struct {
	At      time.Time
	Topic   string
	Summary string
	// Refresh asks the view to list the ruleset again.
	Refresh bool
}

const feedLines = 6

type snapshotMsg struct {
	tables   []ruleset.TableView
	warnings []string
	at       time.Time
}

type errMsg struct{ err error }

type feedMsg FeedEvent

type feedClosedMsg struct{}

// WatchModel shows the ruleset and refreshes it whenever a submission
// finishes.
type WatchModel struct {
	ctx    context.Context
	source SnapshotSource
	feed   <-chan FeedEvent

	Table    table.Model
	Warnings []string
	Lines    []FeedEvent
	Err      error
	Fetched  time.Time
	Closed   bool
	rules    int
}

// NewWatchModel returns a model reading from source and feed. A nil feed
// disables live updates; r still refreshes by hand.
func NewWatchModel(ctx context.Context, source SnapshotSource, feed <-chan FeedEvent) WatchModel {
	columns := []table.Column{
		{Title: "Handle", Width: 7},
		{Title: "Table", Width: 16},
		{Title: "Chain", Width: 14},
		{Title: "Rule", Width: 56},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorDeep).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(ColorAccent).
		Background(ColorDark).
		Bold(false)
	t.SetStyles(s)

	return WatchModel{ctx: ctx, source: source, feed: feed, Table: t}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.waitFeed())
}

func (m WatchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		tables, warnings, err := m.source.Tables(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg{tables: tables, warnings: warnings, at: time.Now()}
	}
}

func (m WatchModel) waitFeed() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case e, ok := <-m.feed:
			if !ok {
				return feedClosedMsg{}
			}
			return feedMsg(e)
		case <-m.ctx.Done():
			return feedClosedMsg{}
		}
	}
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case snapshotMsg:
		m.Err = nil
		m.Warnings = msg.warnings
		m.Fetched = msg.at
		rows := tableRows(msg.tables)
		m.rules = len(rows)
		m.Table.SetRows(rows)

	case errMsg:
		m.Err = msg.err

	case feedMsg:
		m.Lines = append(m.Lines, FeedEvent(msg))
		if len(m.Lines) > feedLines {
			m.Lines = m.Lines[len(m.Lines)-feedLines:]
		}
		if msg.Refresh {
			cmds = append(cmds, m.refresh())
		}
		cmds = append(cmds, m.waitFeed())

	case feedClosedMsg:
		m.Closed = true

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.Table.SetHeight(max(msg.Height-feedLines-8, 3))
	}

	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m WatchModel) View() string {
	status := StyleSubtitle.Render(fmt.Sprintf("%d rules", m.rules))
	if !m.Fetched.IsZero() {
		status = StyleSubtitle.Render(fmt.Sprintf("%d rules, listed %s", m.rules, m.Fetched.Format(time.TimeOnly)))
	}
	if m.Err != nil {
		status = StyleStatusBad.Render("list failed: " + m.Err.Error())
	}

	parts := []string{
		StyleHeader.Render("RULESET (r: refresh, q: quit)"),
		StyleCard.Render(m.Table.View()),
		status,
	}
	for _, w := range m.Warnings {
		parts = append(parts, StyleStatusWarn.Render("warning: "+w))
	}

	feed := make([]string, 0, len(m.Lines)+1)
	for _, l := range m.Lines {
		feed = append(feed, StyleHandle.Render(l.At.Format(time.TimeOnly))+" "+l.Summary)
	}
	if m.Closed {
		feed = append(feed, StyleStatusWarn.Render("event stream closed"))
	}
	if len(feed) > 0 {
		parts = append(parts, StyleCard.Render(lipgloss.JoinVertical(lipgloss.Left, feed...)))
	}

	return StyleApp.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func tableRows(tables []ruleset.TableView) []table.Row {
	var rows []table.Row
	for _, t := range tables {
		for _, c := range t.Chains {
			for _, r := range c.Rules {
				text := r.Text
				if r.Comment != "" {
					text += fmt.Sprintf(" comment %q", r.Comment)
				}
				rows = append(rows, table.Row{
					strconv.FormatUint(r.Handle, 10),
					t.Family + " " + t.Name,
					c.Name,
					text,
				})
			}
		}
	}
	return rows
}
