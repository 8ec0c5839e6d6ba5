package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/openmined/mirrorbox/internal/mirror"
	"github.com/openmined/mirrorbox/internal/report"
)

const maxBarWidth = 60

var (
	titleStyle = cyan.Bold(true)
	fileStyle  = lightGray
	helpStyle  = gray
	errorStyle = red.Bold(true)
	doneStyle  = green.Bold(true)
)

type snapshotMsg mirror.Snapshot

type syncDoneMsg struct{ err error }

type progressModel struct {
	target string
	bar    progress.Model
	snap   mirror.Snapshot
	done   bool
	quit   bool
	err    error
}

func newProgressModel(target string) progressModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = maxBarWidth
	return progressModel{target: target, bar: bar}
}

func (m progressModel) Init() tea.Cmd {
	return nil
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			m.quit = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(1, min(msg.Width-4, maxBarWidth))

	case snapshotMsg:
		m.snap = mirror.Snapshot(msg)

	case syncDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Mirroring to "+m.target) + "\n\n")
	b.WriteString(m.bar.ViewAs(report.Percent(m.snap)) + "\n")
	fmt.Fprintf(&b, "%d/%d files  %s/%s\n",
		m.snap.ProcessedFiles, m.snap.TotalFiles,
		report.Bytes(m.snap.ProcessedBytes), report.Bytes(m.snap.TotalBytes),
	)
	if m.snap.CurrentFile != nil {
		b.WriteString(fileStyle.Render(m.snap.CurrentFile.FullName()) + "\n")
	}

	switch {
	case m.err != nil:
		b.WriteString("\n" + errorStyle.Render("Error: "+m.err.Error()) + "\n")
	case m.done:
		b.WriteString("\n" + doneStyle.Render("Done") + "\n")
	case m.quit:
		b.WriteString("\n" + helpStyle.Render("Stopping after the current file...") + "\n")
	default:
		b.WriteString("\n" + helpStyle.Render("Press 'q' or 'Ctrl+C' to stop.") + "\n")
	}
	return b.String()
}

// runProgressTUI runs engine under a progress bar. Quitting the TUI cancels
// the sync; a copy already in flight still completes.
func runProgressTUI(ctx context.Context, engine *mirror.Engine, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(engine.Target().FullName()),
		tea.WithContext(ctx),
		tea.WithOutput(out),
	)

	unsubscribe := engine.Subscribe(func(snap mirror.Snapshot) {
		p.Send(snapshotMsg(snap))
	})
	defer unsubscribe()

	runErr := make(chan error, 1)
	go func() {
		err := engine.Run(ctx)
		runErr <- err
		p.Send(syncDoneMsg{err: err})
	}()

	final, err := p.Run()
	cancel()
	syncErr := <-runErr
	if err != nil && syncErr == nil {
		return err
	}

	if m, ok := final.(progressModel); ok && m.quit && syncErr == nil {
		return context.Canceled
	}
	return syncErr
}
