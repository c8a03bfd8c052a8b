// Package ui is the terminal front end over a client.Controller.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"tododapp.mini/tdm/internal/client"
	"tododapp.mini/tdm/internal/logger"
	"tododapp.mini/tdm/internal/ui/keys"
	"tododapp.mini/tdm/internal/ui/styles"
)

// Currently active view
type View int

const (
	ViewSetup View = iota
	ViewTasks
	ViewAddTask
)

// Configurer builds a controller for a newly entered package id.
type Configurer func(packageID string) (*client.Controller, error)

type App struct {
	ctx       context.Context
	ctrl      *client.Controller
	configure Configurer
	styles    *styles.Styles
	keys      keys.KeyMap

	view   View
	state  client.State
	cursor int
	width  int
	height int

	setupInput textinput.Model
	setupErr   string

	title     textinput.Model
	desc      textarea.Model
	formFocus int // 0=title, 1=description
	formErr   string
}

type changedMsg struct {
	ctrl *client.Controller
}

type writeDoneMsg struct {
	action string
	err    error
}

// NewApp creates the application. configure may be nil, in which case an
// unconfigured controller stays on the setup screen.
func NewApp(ctx context.Context, ctrl *client.Controller, configure Configurer) *App {
	setup := textinput.New()
	setup.Placeholder = "deployed package id"
	setup.CharLimit = 128

	title := textinput.New()
	title.Placeholder = "Task title"
	title.CharLimit = client.MaxTitleLength

	desc := textarea.New()
	desc.Placeholder = "Description (optional)"
	desc.CharLimit = client.MaxDescriptionLength
	desc.SetWidth(50)
	desc.SetHeight(4)
	desc.ShowLineNumbers = false

	a := &App{
		ctx:        ctx,
		ctrl:       ctrl,
		configure:  configure,
		styles:     styles.NewStyles(),
		keys:       keys.DefaultKeyMap(),
		setupInput: setup,
		title:      title,
		desc:       desc,
		state:      ctrl.Snapshot(),
	}
	a.view = ViewTasks
	if a.state.Unconfigured {
		a.view = ViewSetup
		a.setupInput.Focus()
	}
	return a
}

func (a *App) Init() tea.Cmd {
	if a.view == ViewSetup {
		return textinput.Blink
	}
	a.ctrl.Start(a.ctx)
	return a.waitForChange()
}

func (a *App) waitForChange() tea.Cmd {
	ctrl := a.ctrl
	ctx := a.ctx
	return func() tea.Msg {
		select {
		case <-ctrl.Changes():
			return changedMsg{ctrl: ctrl}
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.desc.SetWidth(clamp(styles.ContentWidth(a.width)-10, 20, 60))
		return a, nil

	case changedMsg:
		if msg.ctrl != a.ctrl {
			return a, nil
		}
		a.state = a.ctrl.Snapshot()
		if a.cursor >= len(a.state.Tasks) {
			a.cursor = max(0, len(a.state.Tasks)-1)
		}
		return a, a.waitForChange()

	case writeDoneMsg:
		var ve *client.ValidationError
		switch {
		case errors.As(msg.err, &ve):
			a.formErr = ve.Error()
		case msg.err == nil && a.view == ViewAddTask:
			a.closeForm()
		}
		return a, nil

	case tea.KeyMsg:
		switch a.view {
		case ViewSetup:
			return a.updateSetup(msg)
		case ViewAddTask:
			return a.updateAddTask(msg)
		default:
			return a.updateTasks(msg)
		}
	}
	return a, nil
}

func (a *App) updateSetup(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.String() == "ctrl+c", key.Matches(msg, a.keys.Back):
		return a, tea.Quit
	case key.Matches(msg, a.keys.Enter):
		packageID := strings.TrimSpace(a.setupInput.Value())
		if packageID == "" {
			a.setupErr = "A package id is required."
			return a, nil
		}
		if a.configure == nil {
			a.setupErr = "Set package_id in the config file and restart."
			return a, nil
		}
		ctrl, err := a.configure(packageID)
		if err != nil {
			a.setupErr = err.Error()
			return a, nil
		}
		a.ctrl.Close()
		a.ctrl = ctrl
		a.state = ctrl.Snapshot()
		a.view = ViewTasks
		a.setupInput.Blur()
		ctrl.Start(a.ctx)
		return a, a.waitForChange()
	}

	var cmd tea.Cmd
	a.setupInput, cmd = a.setupInput.Update(msg)
	return a, cmd
}

func (a *App) updateTasks(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit

	case key.Matches(msg, a.keys.Up):
		if a.cursor > 0 {
			a.cursor--
		}

	case key.Matches(msg, a.keys.Down):
		if a.cursor < len(a.state.Tasks)-1 {
			a.cursor++
		}

	case key.Matches(msg, a.keys.NewList):
		if a.state.Loaded && a.state.List == nil && !a.state.ListPending && !a.state.Busy {
			return a, a.runWrite("create list", func(ctx context.Context) error {
				_, err := a.ctrl.CreateList(ctx)
				return err
			})
		}

	case key.Matches(msg, a.keys.New):
		if a.state.List != nil && !a.state.Busy {
			a.openForm()
			return a, textinput.Blink
		}

	case key.Matches(msg, a.keys.Complete):
		if a.state.Busy || a.cursor >= len(a.state.Tasks) {
			return a, nil
		}
		task := a.state.Tasks[a.cursor]
		if task.Completed {
			return a, nil
		}
		return a, a.runWrite("complete task", func(ctx context.Context) error {
			_, err := a.ctrl.CompleteTask(ctx, task.ID)
			return err
		})

	case key.Matches(msg, a.keys.Refresh):
		ctrl := a.ctrl
		return a, func() tea.Msg {
			ctrl.Refresh(a.ctx)
			return nil
		}

	case key.Matches(msg, a.keys.Dismiss):
		if len(a.state.Notices) > 0 {
			a.ctrl.DismissNotice(a.state.Notices[0].ID)
		}

	case key.Matches(msg, a.keys.DismissAll):
		a.ctrl.Logger().DismissAll()
	}
	return a, nil
}

func (a *App) updateAddTask(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Back):
		a.closeForm()
		return a, nil

	case key.Matches(msg, a.keys.Tab):
		a.formFocus = 1 - a.formFocus
		if a.formFocus == 0 {
			a.desc.Blur()
			return a, a.title.Focus()
		}
		a.title.Blur()
		return a, a.desc.Focus()

	case key.Matches(msg, a.keys.Submit),
		a.formFocus == 0 && key.Matches(msg, a.keys.Enter):
		if a.state.Busy {
			return a, nil
		}
		title, desc := a.title.Value(), a.desc.Value()
		if err := client.ValidateTask(title, desc); err != nil {
			a.formErr = err.Error()
			return a, nil
		}
		a.formErr = ""
		return a, a.runWrite("create task", func(ctx context.Context) error {
			_, err := a.ctrl.CreateTask(ctx, title, desc)
			return err
		})
	}

	var cmd tea.Cmd
	if a.formFocus == 0 {
		a.title, cmd = a.title.Update(msg)
	} else {
		a.desc, cmd = a.desc.Update(msg)
	}
	return a, cmd
}

// runWrite submits in the background; the result arrives as writeDoneMsg.
func (a *App) runWrite(action string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := a.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return writeDoneMsg{action: action, err: fn(ctx)}
	}
}

func (a *App) openForm() {
	a.view = ViewAddTask
	a.formFocus = 0
	a.formErr = ""
	a.title.Reset()
	a.desc.Reset()
	a.desc.Blur()
	a.title.Focus()
}

func (a *App) closeForm() {
	a.view = ViewTasks
	a.title.Blur()
	a.desc.Blur()
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(a.renderTitleBar())
	b.WriteString("\n\n")

	switch a.view {
	case ViewSetup:
		b.WriteString(a.renderSetup())
	case ViewAddTask:
		b.WriteString(a.renderForm())
	default:
		b.WriteString(a.renderTasks())
	}

	if notices := a.renderNotices(); notices != "" {
		b.WriteString("\n")
		b.WriteString(notices)
	}
	b.WriteString(a.renderHelp())
	return b.String()
}

func (a *App) renderTitleBar() string {
	s := a.styles
	parts := []string{s.Title.Render("tdm")}
	if a.state.Address != "" {
		parts = append(parts, s.TitleMuted.Render(shortAddress(string(a.state.Address))))
	}
	if a.state.PackageID != "" {
		parts = append(parts, s.TitleMuted.Render("pkg "+a.state.PackageID))
	}
	if a.state.Mode != "" && a.state.Mode != client.ModeIdle {
		parts = append(parts, s.TitleMuted.Render(string(a.state.Mode)))
	}
	if a.state.Busy {
		parts = append(parts, s.NoticeWarning.Render("submitting…"))
	}
	return s.TitleBar.Render(strings.Join(parts, " · "))
}

func (a *App) renderSetup() string {
	s := a.styles
	msg := "No deployed package is configured.\n" +
		"Enter the package id of the todo module to continue."
	out := s.Setup.Render(msg) + "\n\n" + s.InputFocused.Render(a.setupInput.View())
	if a.setupErr != "" {
		out += "\n" + s.NoticeError.Render(a.setupErr)
	}
	return out + "\n"
}

func (a *App) renderTasks() string {
	s := a.styles
	if !a.state.Loaded {
		return s.TitleMuted.Render("  Loading…") + "\n"
	}
	if a.state.List == nil && a.state.ListPending {
		return s.TitleMuted.Render("  Creating your list…") + "\n"
	}
	if a.state.List == nil {
		return s.ListItem.Render("You have no todo list yet. Press n to create one.") + "\n"
	}
	if len(a.state.Tasks) == 0 {
		return s.ListItem.Render("No tasks. Press a to add one.") + "\n"
	}

	var b strings.Builder
	for i, t := range a.state.Tasks {
		box := "[ ]"
		title := t.Title
		if t.Completed {
			box = "[x]"
			title = s.TaskDone.Render(title)
		}
		when := s.Timestamp.Render(time.UnixMilli(t.CreatedAt).Format("Jan 02 15:04"))
		line := fmt.Sprintf("%s %s  %s", box, title, when)
		if i == a.cursor {
			b.WriteString(s.ListSelected.Render(line))
		} else {
			b.WriteString(s.ListItem.Render(line))
		}
		b.WriteString("\n")
		if i == a.cursor && t.Description != "" {
			b.WriteString(s.TitleMuted.Render("      " + t.Description))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (a *App) renderForm() string {
	s := a.styles
	titleStyle, descStyle := s.InputFocused, s.Input
	if a.formFocus == 1 {
		titleStyle, descStyle = s.Input, s.InputFocused
	}
	out := s.Label.Render("New task") + "\n" +
		titleStyle.Render(a.title.View()) + "\n" +
		descStyle.Render(a.desc.View()) + "\n"
	if a.formErr != "" {
		out += s.NoticeError.Render(a.formErr) + "\n"
	}
	return out
}

func (a *App) renderNotices() string {
	s := a.styles
	var b strings.Builder
	for i, n := range a.state.Notices {
		if i == 3 {
			b.WriteString(s.TitleMuted.Render(fmt.Sprintf("  +%d more", len(a.state.Notices)-3)))
			b.WriteString("\n")
			break
		}
		style := s.NoticeInfo
		switch n.Level {
		case logger.LevelWarning:
			style = s.NoticeWarning
		case logger.LevelError:
			style = s.NoticeError
		}
		b.WriteString(style.Render("  • " + n.Text))
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) renderHelp() string {
	var bindings []key.Binding
	switch a.view {
	case ViewSetup:
		bindings = []key.Binding{a.keys.Enter, a.keys.Back}
	case ViewAddTask:
		bindings = []key.Binding{a.keys.Tab, a.keys.Submit, a.keys.Back}
	default:
		bindings = []key.Binding{a.keys.Up, a.keys.Down}
		if a.state.List == nil {
			bindings = append(bindings, a.keys.NewList)
		} else {
			bindings = append(bindings, a.keys.New, a.keys.Complete)
		}
		bindings = append(bindings, a.keys.Refresh, a.keys.Dismiss, a.keys.Quit)
	}

	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, a.styles.HelpKey.Render(h.Key)+" "+a.styles.HelpDesc.Render(h.Desc))
	}
	return a.styles.Help.Render(strings.Join(parts, "  "))
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:8] + "…" + addr[len(addr)-4:]
}

// clamp returns val clamped between minVal and maxVal
func clamp(val, minVal, maxVal int) int {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
