package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/akx/pipimi/pkg/resolver"
)

// resolvedMsg is emitted for every package pinned within a round.
type resolvedMsg struct {
	round   int
	pkg     string
	version string
	done    int
	total   int
}

// finishedMsg is emitted once when the engine returns.
type finishedMsg struct {
	result *resolver.Result
	err    error
}

// progressModel is the bubbletea model for interactive resolution progress.
type progressModel struct {
	cancel context.CancelFunc

	round  int
	done   int
	total  int
	recent []string

	finished bool
	err      error
}

func newProgressModel(cancel context.CancelFunc) progressModel {
	return progressModel{cancel: cancel}
}

func (m progressModel) Init() tea.Cmd {
	return nil
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.cancel()
			return m, nil
		}
	case resolvedMsg:
		if msg.round != m.round {
			m.round = msg.round
			m.recent = m.recent[:0]
		}
		m.done = msg.done
		m.total = msg.total
		m.recent = append(m.recent, fmt.Sprintf("%s==%s", msg.pkg, msg.version))
		if len(m.recent) > 8 {
			m.recent = m.recent[len(m.recent)-8:]
		}
		return m, nil
	case finishedMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.finished {
		return ""
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render("Resolving"))
	b.WriteString("\n")
	b.WriteString(StyleDim.Render("q quit"))
	b.WriteString("\n\n")

	if m.round > 0 {
		b.WriteString(fmt.Sprintf("round %s: %s/%s packages\n",
			StyleNumber.Render(fmt.Sprint(m.round)),
			StyleNumber.Render(fmt.Sprint(m.done)),
			StyleNumber.Render(fmt.Sprint(m.total))))
		for _, line := range m.recent {
			b.WriteString("  " + StyleDim.Render(line) + "\n")
		}
	}
	return b.String()
}

// runWithProgress runs the engine while rendering per-round progress to the
// terminal. The engine's OnResolved callback feeds the model; pressing q
// cancels the run.
func runWithProgress(ctx context.Context, engine *resolver.Engine, st *resolver.State) (*resolver.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(newProgressModel(cancel), tea.WithOutput(os.Stderr), tea.WithContext(ctx))

	engine.SetOnResolved(func(round int, pkg, version string, done, total int) {
		program.Send(resolvedMsg{round: round, pkg: pkg, version: version, done: done, total: total})
	})

	var (
		result *resolver.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		result, runErr = engine.Run(ctx, st)
		close(done)
		program.Send(finishedMsg{result: result, err: runErr})
	}()

	_, teaErr := program.Run()
	<-done
	if runErr != nil {
		return nil, runErr
	}
	if teaErr != nil {
		return nil, teaErr
	}
	return result, nil
}
