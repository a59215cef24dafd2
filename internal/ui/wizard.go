// Package ui implements the interactive registration wizard behind
// `stm agent`. Each step validates its answer through the registrar before
// moving on, so a rejected value is shown inline and can be corrected.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tunnelmaster/stm/internal/agent"
	"github.com/tunnelmaster/stm/internal/model"
	"github.com/tunnelmaster/stm/internal/util"
)

// ErrCancelled is returned by Run when the operator leaves the wizard.
var ErrCancelled = errors.New("registration cancelled")

// Kind selects what the wizard registers.
type Kind string

const (
	KindClient  Kind = "client"
	KindService Kind = "service"
)

// ParseKind validates the --type flag.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindClient, KindService:
		return k, nil
	default:
		return "", fmt.Errorf("unknown agent type %q (want client or service)", s)
	}
}

// Registrar is what the wizard needs from *agent.Registrar.
type Registrar interface {
	Hosts() []agent.HostRef
	UserAliases() []agent.AliasChoice
	ResolveHost(ctx context.Context, input string) (agent.HostRef, error)
	ResolveServiceHost(ctx context.Context, input string) (string, error)
	ValidateAlias(alias string) error
	ValidateUsername(host agent.HostRef, user string) error
	ValidateRemoteTunnel(alias string) error
	SuggestedPort() int
	AllocatePort(requested *int) (int, error)
	ForgetKnownHost(port int) error
	SkipPort(port int)
	AddClient(c agent.Client) error
	AddService(s agent.Service) error
}

type step int

const (
	stepHost step = iota
	stepPort
	stepKnownHosts
	stepUser
	stepAlias
	stepRemoteTunnel
	stepServiceHost
	stepServiceType
	stepServicePort
	stepSQLUser
	stepSQLPassword
	stepSQLDatabase
	stepDone
)

var (
	clientFlow  = []step{stepHost, stepPort, stepUser, stepAlias}
	serviceFlow = []step{
		stepRemoteTunnel, stepAlias, stepPort, stepServiceHost, stepServiceType,
		stepServicePort, stepSQLUser, stepSQLPassword, stepSQLDatabase,
	}
)

var prompts = map[step]string{
	stepHost:         "Host (IP or DNS name)",
	stepPort:         "Local port",
	stepUser:         "Remote user",
	stepAlias:        "Alias",
	stepRemoteTunnel: "Remote tunnel alias",
	stepServiceHost:  "Service host",
	stepServiceType:  "Service type",
	stepServicePort:  "Service port",
	stepSQLUser:      "SQL username",
	stepSQLPassword:  "SQL password",
	stepSQLDatabase:  "SQL database",
}

type wizard struct {
	ctx  context.Context
	kind Kind
	reg  Registrar
	flow []step

	step      step
	input     textinput.Model
	choices   []string
	choiceIdx int

	// conflictPort is the port waiting for the known_hosts decision.
	conflictPort int

	client  agent.Client
	service agent.Service
	answers []string

	errMsg    string
	err       error
	cancelled bool
	width     int
}

func newWizard(ctx context.Context, kind Kind, reg Registrar) (*wizard, error) {
	w := &wizard{ctx: ctx, kind: kind, reg: reg}
	switch kind {
	case KindClient:
		w.flow = clientFlow
	case KindService:
		if len(reg.UserAliases()) == 0 {
			return nil, errors.New("no user aliases registered; add a client first")
		}
		w.flow = serviceFlow
	default:
		return nil, fmt.Errorf("unknown agent type %q", kind)
	}
	ti := textinput.New()
	ti.CharLimit = 256
	ti.Width = 40
	w.input = ti
	w.enter(w.flow[0])
	return w, nil
}

// Run drives the wizard on the terminal until the entry is saved or the
// operator cancels.
func Run(ctx context.Context, kind Kind, reg Registrar) error {
	w, err := newWizard(ctx, kind, reg)
	if err != nil {
		return err
	}
	final, err := tea.NewProgram(w, tea.WithContext(ctx)).Run()
	if err != nil {
		return err
	}
	w = final.(*wizard)
	if w.cancelled {
		return ErrCancelled
	}
	return w.err
}

func (w *wizard) Init() tea.Cmd {
	return textinput.Blink
}

func (w *wizard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		w.width = msg.Width
		return w, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			w.cancelled = true
			return w, tea.Quit
		}
		if w.step == stepDone {
			return w, tea.Quit
		}
		if w.step == stepKnownHosts {
			return w, w.updateKnownHosts(msg)
		}
		switch msg.String() {
		case "up":
			w.cycle(-1)
			return w, nil
		case "down":
			w.cycle(1)
			return w, nil
		case "enter":
			if err := w.submit(strings.TrimSpace(w.input.Value())); err != nil {
				w.errMsg = err.Error()
				return w, nil
			}
			if w.step == stepDone {
				return w, tea.Quit
			}
			return w, textinput.Blink
		}
		w.errMsg = ""
	}
	var cmd tea.Cmd
	w.input, cmd = w.input.Update(msg)
	return w, cmd
}

func (w *wizard) updateKnownHosts(msg tea.KeyMsg) tea.Cmd {
	switch strings.ToLower(msg.String()) {
	case "d":
		if err := w.reg.ForgetKnownHost(w.conflictPort); err != nil {
			w.errMsg = err.Error()
			return nil
		}
		w.acceptPort(w.conflictPort)
	case "s":
		w.reg.SkipPort(w.conflictPort)
		w.enter(stepPort)
	default:
		w.errMsg = "press d to delete the stale key or s to select another port"
		return nil
	}
	if w.step == stepDone {
		return tea.Quit
	}
	return textinput.Blink
}

// enter prepares the input for s.
func (w *wizard) enter(s step) {
	w.step = s
	w.errMsg = ""
	w.choices = nil
	w.choiceIdx = -1
	w.input.Reset()
	w.input.Placeholder = ""
	w.input.EchoMode = textinput.EchoNormal

	switch s {
	case stepHost:
		for _, h := range w.reg.Hosts() {
			w.choices = append(w.choices, h.Host)
		}
	case stepRemoteTunnel:
		for _, a := range w.reg.UserAliases() {
			w.choices = append(w.choices, a.Alias)
		}
	case stepServiceType:
		for _, t := range model.KnownServiceTypes() {
			w.choices = append(w.choices, string(t))
		}
	case stepPort:
		w.input.Placeholder = strconv.Itoa(w.reg.SuggestedPort()) + " (Enter for automatic)"
	case stepServicePort:
		if p, ok := model.ServiceType(w.service.ServiceType).Profile(); ok {
			w.input.Placeholder = strconv.Itoa(p.DefaultPort) + " (Enter for default)"
		}
	case stepSQLPassword:
		w.input.EchoMode = textinput.EchoPassword
		w.input.EchoCharacter = '*'
	}
	if s != stepKnownHosts && s != stepDone {
		w.input.Focus()
	} else {
		w.input.Blur()
	}
}

// advance moves to the step after from in the current flow, or saves the
// entry when from was the last one.
func (w *wizard) advance(from step) {
	for i, s := range w.flow {
		if s != from {
			continue
		}
		if i+1 < len(w.flow) {
			next := w.flow[i+1]
			if next == stepPort && w.kind == KindClient && w.client.Host.Existing {
				w.answers = append(w.answers, fmt.Sprintf("%s: %d (existing host)", prompts[stepPort], w.client.Port))
				next = w.flow[i+2]
			}
			w.enter(next)
			return
		}
	}
	w.finish()
}

func (w *wizard) cycle(delta int) {
	if len(w.choices) == 0 {
		return
	}
	w.choiceIdx = (w.choiceIdx + delta + len(w.choices)) % len(w.choices)
	w.input.SetValue(w.choices[w.choiceIdx])
	w.input.CursorEnd()
}

func (w *wizard) record(s step, v string) {
	w.answers = append(w.answers, prompts[s]+": "+v)
}

func (w *wizard) submit(v string) error {
	switch w.step {
	case stepHost:
		ref, err := w.reg.ResolveHost(w.ctx, v)
		if err != nil {
			return err
		}
		w.client.Host = ref
		if ref.Existing {
			w.client.Port = ref.Port
		}
		w.record(stepHost, fmt.Sprintf("%s (%s)", ref.Host, ref.Alias))
	case stepPort:
		var requested *int
		if v != "" {
			p, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("port must be a number: %s", v)
			}
			requested = &p
		}
		port, err := w.reg.AllocatePort(requested)
		var conflict *model.PortConflictError
		if errors.As(err, &conflict) && conflict.Reason == model.ConflictKnownHosts {
			w.conflictPort = conflict.Port
			w.enter(stepKnownHosts)
			return nil
		}
		if err != nil {
			return err
		}
		w.acceptPort(port)
		return nil
	case stepUser:
		if err := w.reg.ValidateUsername(w.client.Host, v); err != nil {
			return err
		}
		w.client.Username = v
		w.record(stepUser, v)
	case stepAlias:
		if err := w.reg.ValidateAlias(v); err != nil {
			return err
		}
		w.client.Alias = v
		w.service.Alias = v
		w.record(stepAlias, v)
	case stepRemoteTunnel:
		if err := w.reg.ValidateRemoteTunnel(v); err != nil {
			return err
		}
		w.service.RemoteTunnelAlias = v
		w.record(stepRemoteTunnel, v)
	case stepServiceHost:
		host, err := w.reg.ResolveServiceHost(w.ctx, v)
		if err != nil {
			return err
		}
		w.service.ServiceHost = host
		w.record(stepServiceHost, host)
	case stepServiceType:
		st, ok := model.ParseServiceType(v)
		if !ok {
			return fmt.Errorf("unknown service type %q (want one of %v)", v, model.KnownServiceTypes())
		}
		w.service.ServiceType = string(st)
		w.record(stepServiceType, string(st))
	case stepServicePort:
		port := 0
		if v == "" {
			p, _ := model.ServiceType(w.service.ServiceType).Profile()
			port = p.DefaultPort
		} else {
			p, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("port must be a number: %s", v)
			}
			port = p
		}
		if err := util.ValidatePort(port); err != nil {
			return err
		}
		w.service.ServicePort = port
		w.record(stepServicePort, strconv.Itoa(port))
	case stepSQLUser, stepSQLPassword, stepSQLDatabase:
		if v == "" {
			return fmt.Errorf("empty %s is not allowed", prompts[w.step])
		}
		switch w.step {
		case stepSQLUser:
			w.service.SQLUsername = v
			w.record(w.step, v)
		case stepSQLPassword:
			w.service.SQLPassword = v
			w.record(w.step, "********")
		default:
			w.service.SQLDatabase = v
			w.record(w.step, v)
		}
	}
	w.advance(w.step)
	return nil
}

func (w *wizard) acceptPort(port int) {
	w.client.Port = port
	w.service.Port = port
	w.record(stepPort, strconv.Itoa(port))
	w.advance(stepPort)
}

func (w *wizard) finish() {
	if w.kind == KindClient {
		w.err = w.reg.AddClient(w.client)
	} else {
		w.err = w.reg.AddService(w.service)
	}
	w.enter(stepDone)
}

func (w *wizard) View() string {
	title := "Register client"
	accent := lipgloss.Color("39")
	if w.kind == KindService {
		title = "Register service"
		accent = lipgloss.Color("214")
	}

	var b strings.Builder
	for _, a := range w.answers {
		b.WriteString("  " + a + "\n")
	}
	if len(w.answers) > 0 {
		b.WriteString("\n")
	}

	switch w.step {
	case stepDone:
		if w.err != nil {
			b.WriteString(errStyle.Render("Error: "+w.err.Error()) + "\n")
		} else {
			b.WriteString(fmt.Sprintf("Registered %s. Reload your shell aliases to use it.\n", w.client.Alias))
		}
		return renderPanel(title, b.String(), w.width, accent)
	case stepKnownHosts:
		b.WriteString(fmt.Sprintf("Port %d already has a [localhost]:%d host key in known_hosts.\n\n", w.conflictPort, w.conflictPort))
		b.WriteString("  (d) delete the stale key\n  (s) select another port\n")
	default:
		b.WriteString(fmt.Sprintf("> %-20s %s\n", prompts[w.step]+":", w.input.View()))
		if len(w.choices) > 0 {
			b.WriteString("\n  " + strings.Join(w.choices, " | ") + "\n")
		}
	}

	if w.errMsg != "" {
		b.WriteString("\n" + errStyle.Render("Error: "+w.errMsg) + "\n")
	}
	if len(w.choices) > 0 {
		b.WriteString("\nUp/Down cycle choices | Enter submit | Esc cancel")
	} else {
		b.WriteString("\nEnter submit | Esc cancel")
	}
	return renderPanel(title, b.String(), w.width, accent)
}

var errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

func renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width <= 0 {
		width = 72
	}
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}
