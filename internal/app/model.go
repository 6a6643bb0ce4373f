package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jhbruhn/fart/internal/client"
	"github.com/jhbruhn/fart/internal/params"
	"github.com/jhbruhn/fart/internal/storage"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

var (
	chromeBG        = lipgloss.Color("#05090C")
	panelBorder     = lipgloss.Color("#2D6A80")
	accentPrimary   = lipgloss.Color("#50E3C2")
	accentSecondary = lipgloss.Color("#F6AE2D")
	mutedText       = lipgloss.Color("#8CA1AE")
	warningText     = lipgloss.Color("#FF6B6B")
)

var (
	headerStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Bold(true).
			Foreground(accentPrimary)

	statusStyle = lipgloss.NewStyle().
			Foreground(accentSecondary).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(warningText).
			Bold(true)

	panelTitleStyle = lipgloss.NewStyle().
			Foreground(accentPrimary).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	paramNameStyle = lipgloss.NewStyle().
			Foreground(accentSecondary).
			Bold(true)

	paramTypeStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	selectedLineStyle = lipgloss.NewStyle().
				Foreground(accentPrimary).
				Bold(true)
)

const (
	// artifactSettleDelay lets the final output flush land before the
	// cache-busted artifact fetch goes out.
	artifactSettleDelay = 50 * time.Millisecond
	logTailLines        = 40
	historyLimit        = 100
)

type streamEventMsg struct {
	streamID int64
	events   []client.StreamEvent
	ok       bool
}

type streamErrMsg struct {
	streamID int64
	err      error
	ok       bool
}

type startStreamMsg struct{}

type artifactSettleMsg struct{}

type artifactFetchedMsg struct {
	path string
	url  string
	size int
	err  error
}

type historyLoadedMsg struct {
	items []storage.GenerationSummary
	err   error
}

type snapshotSavedMsg struct {
	summary storage.GenerationSummary
	err     error
}

type snapshotLoadedMsg struct {
	snapshot *storage.GenerationSnapshot
	err      error
}

// Focus cycles through the parameter inputs first, then the log pane,
// then the history pane.
const (
	focusLogOffset = iota
	focusHistoryOffset
	extraFocusSlots
)

type ModelOptions struct {
	// Overrides are startup parameter values applied the first time a
	// matching name is declared.
	Overrides map[string]string
	// ArtifactDir receives a copy of the rendered artifact after every
	// finished generation.
	ArtifactDir string
}

type Model struct {
	client *client.Client
	store  *storage.Store
	logger *zap.Logger

	ready  bool
	width  int
	height int

	set       *params.Set
	inputs    map[string]textinput.Model
	overrides map[string]string
	focusIdx  int

	log       viewport.Model
	logText   string
	logFollow bool
	history   viewport.Model
	spinner   spinner.Model

	debounce *Debouncer

	generating bool
	disabled   bool
	statusText string
	errorText  string

	streamCancel  context.CancelFunc
	streamChan    <-chan client.StreamEvent
	streamErrChan <-chan error
	streamID      int64

	historyItems  []storage.GenerationSummary
	historyCursor int

	artifactDir  string
	lastArtifact string

	paramsW  int
	paramsH  int
	logW     int
	logH     int
	historyW int
	historyH int
}

func NewModel(c *client.Client, store *storage.Store, logger *zap.Logger) Model {
	return NewModelWithOptions(c, store, logger, ModelOptions{})
}

func NewModelWithOptions(c *client.Client, store *storage.Store, logger *zap.Logger, opts ModelOptions) Model {
	if logger == nil {
		logger = zap.NewNop()
	}

	log := viewport.New(60, 20)
	log.SetContent("Waiting for sketch output...")

	history := viewport.New(40, 8)
	history.SetContent("No saved generations yet.")

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle().Foreground(accentSecondary)

	overrides := make(map[string]string, len(opts.Overrides))
	for name, value := range opts.Overrides {
		overrides[name] = value
	}

	return Model{
		client:     c,
		store:      store,
		logger:     logger,
		set:        params.NewSet(),
		inputs:     map[string]textinput.Model{},
		overrides:  overrides,
		log:        log,
		logFollow:  true,
		history:    history,
		spinner:    spin,
		debounce:   NewDebouncer(rerunDebounceDelay),
		statusText: "Connecting to sketch server...",
		artifactDir: strings.TrimSpace(opts.ArtifactDir),
		paramsW:    40,
		paramsH:    20,
		logW:       60,
		logH:       20,
		historyW:   104,
		historyH:   8,
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.store != nil {
		cmds = append(cmds, loadHistoryCmd(m.store))
	}
	if m.client != nil {
		cmds = append(cmds, func() tea.Msg { return startStreamMsg{} })
	}
	return tea.Batch(cmds...)
}

func loadHistoryCmd(store *storage.Store) tea.Cmd {
	return func() tea.Msg {
		items, err := store.List(historyLimit)
		return historyLoadedMsg{items: items, err: err}
	}
}

func saveSnapshotCmd(store *storage.Store, records []storage.ParamRecord, logTail []string) tea.Cmd {
	return func() tea.Msg {
		summary, err := store.SaveGeneration(records, logTail)
		return snapshotSavedMsg{summary: summary, err: err}
	}
}

func loadSnapshotCmd(store *storage.Store, directory string) tea.Cmd {
	return func() tea.Msg {
		snapshot, err := store.Load(directory)
		return snapshotLoadedMsg{snapshot: snapshot, err: err}
	}
}

func artifactSettleCmd() tea.Cmd {
	return tea.Tick(artifactSettleDelay, func(time.Time) tea.Msg {
		return artifactSettleMsg{}
	})
}

func fetchArtifactCmd(c *client.Client, artifactDir string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		blob, bustedURL, err := c.FetchArtifact(ctx)
		if err != nil {
			return artifactFetchedMsg{url: bustedURL, err: err}
		}
		path := ""
		if artifactDir != "" {
			path = filepath.Join(artifactDir, "latest.svg")
			if err := os.WriteFile(path, blob, 0o644); err != nil {
				return artifactFetchedMsg{url: bustedURL, err: fmt.Errorf("write artifact: %w", err)}
			}
		}
		return artifactFetchedMsg{path: path, url: bustedURL, size: len(blob)}
	}
}

func waitForStreamEventCmd(streamID int64, ch <-chan client.StreamEvent) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return streamEventMsg{streamID: streamID, ok: false}
		}

		events := make([]client.StreamEvent, 0, 16)
		events = append(events, event)
		for len(events) < 16 {
			select {
			case next, ok := <-ch:
				if !ok {
					return streamEventMsg{streamID: streamID, events: events, ok: true}
				}
				events = append(events, next)
			default:
				return streamEventMsg{streamID: streamID, events: events, ok: true}
			}
		}
		return streamEventMsg{streamID: streamID, events: events, ok: true}
	}
}

func waitForStreamErrCmd(streamID int64, ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		err, ok := <-ch
		return streamErrMsg{streamID: streamID, err: err, ok: ok}
	}
}

func (m *Model) startStream() tea.Cmd {
	if m.streamCancel != nil {
		m.streamCancel()
	}
	m.streamID++
	currentStreamID := m.streamID

	ctx, cancel := context.WithCancel(context.Background())
	m.streamCancel = cancel
	events := make(chan client.StreamEvent, 64)
	streamErr := make(chan error, 1)
	m.streamChan = events
	m.streamErrChan = streamErr

	c := m.client
	go func() {
		err := c.Stream(ctx, events)
		streamErr <- err
		close(streamErr)
	}()

	return tea.Batch(
		waitForStreamEventCmd(currentStreamID, m.streamChan),
		waitForStreamErrCmd(currentStreamID, m.streamErrChan),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resizePanels()
		m.refreshLogView()
		m.refreshHistoryView()
		return m, nil

	case spinner.TickMsg:
		if !m.generating {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case startStreamMsg:
		if m.client == nil || m.disabled {
			return m, nil
		}
		return m, m.startStream()

	case streamEventMsg:
		if msg.streamID != m.streamID {
			return m, nil
		}
		if !msg.ok {
			m.streamChan = nil
			if m.streamErrChan == nil && !m.disabled {
				m.markDisconnected(nil)
			}
			return m, nil
		}
		cmds := []tea.Cmd{}
		for _, event := range msg.events {
			cmds = append(cmds, m.consumeStreamEvent(event)...)
		}
		if m.streamChan != nil {
			cmds = append(cmds, waitForStreamEventCmd(m.streamID, m.streamChan))
		}
		if len(cmds) == 0 {
			return m, nil
		}
		return m, tea.Batch(cmds...)

	case streamErrMsg:
		if msg.streamID != m.streamID {
			return m, nil
		}
		if !msg.ok {
			m.streamErrChan = nil
			if m.streamChan == nil && !m.disabled {
				m.markDisconnected(nil)
			}
			return m, nil
		}
		m.streamErrChan = nil
		m.markDisconnected(msg.err)
		return m, nil

	case artifactSettleMsg:
		if m.client == nil || m.disabled {
			return m, nil
		}
		return m, fetchArtifactCmd(m.client, m.artifactDir)

	case artifactFetchedMsg:
		if msg.err != nil {
			m.errorText = "Artifact refresh failed: " + msg.err.Error()
			m.logger.Warn("artifact refresh failed", zap.String("url", msg.url), zap.Error(msg.err))
			return m, nil
		}
		m.errorText = ""
		m.lastArtifact = msg.path
		if msg.path != "" {
			m.statusText = fmt.Sprintf("Artifact refreshed (%d bytes) -> %s", msg.size, msg.path)
		} else {
			m.statusText = fmt.Sprintf("Artifact refreshed (%d bytes)", msg.size)
		}
		return m, nil

	case historyLoadedMsg:
		if msg.err != nil {
			m.errorText = "Failed to load generation history: " + msg.err.Error()
			return m, nil
		}
		m.historyItems = append([]storage.GenerationSummary(nil), msg.items...)
		if m.historyCursor >= len(m.historyItems) {
			m.historyCursor = maxInt(0, len(m.historyItems)-1)
		}
		m.refreshHistoryView()
		return m, nil

	case snapshotSavedMsg:
		if msg.err != nil {
			m.errorText = "Could not save generation snapshot: " + msg.err.Error()
			return m, nil
		}
		return m, loadHistoryCmd(m.store)

	case snapshotLoadedMsg:
		if msg.err != nil {
			m.errorText = "Could not load snapshot: " + msg.err.Error()
			return m, nil
		}
		restored := m.restoreSnapshot(msg.snapshot)
		if restored == 0 {
			m.statusText = "Snapshot has no parameters matching the live set."
			return m, nil
		}
		m.statusText = fmt.Sprintf("Restored %d parameter(s) from %s", restored, filepath.Base(msg.snapshot.Summary.Directory))
		m.scheduleRerun()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		switch m.focusTarget() {
		case focusTargetLog:
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			m.logFollow = m.log.AtBottom()
			return m, cmd
		case focusTargetHistory:
			var cmd tea.Cmd
			m.history, cmd = m.history.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

// consumeStreamEvent applies one decoded server event. All parameter-set
// mutation happens here, on the program's event loop.
func (m *Model) consumeStreamEvent(event client.StreamEvent) []tea.Cmd {
	switch event.Kind {
	case client.EventStart:
		m.generating = true
		m.logText = ""
		m.logFollow = true
		m.refreshLogView()
		m.statusText = "Generation running..."
		return []tea.Cmd{m.spinner.Tick}

	case client.EventOutput:
		m.consumeChunk(event.Chunk)
		return nil

	case client.EventFinish:
		return m.finishGeneration()
	}
	return nil
}

// consumeChunk scans one output fragment for declarations, reconciles the
// parameter set, and appends the fragment verbatim to the log.
func (m *Model) consumeChunk(chunk string) {
	dirty := false
	for _, decl := range params.ScanDeclarations(chunk) {
		created := m.set.Insert(decl.Name, decl.Type, decl.Value)
		if created {
			if value, ok := m.overrides[decl.Name]; ok {
				m.set.SetValue(decl.Name, value)
				delete(m.overrides, decl.Name)
				m.scheduleRerun()
			}
		}
		dirty = true
	}
	if dirty {
		m.syncParamInputs()
	}

	m.logText += chunk
	m.refreshLogView()
}

// finishGeneration sweeps entries the generation did not redeclare, mirrors
// the artifact after a settle delay, and snapshots the parameter set.
func (m *Model) finishGeneration() []tea.Cmd {
	m.generating = false
	removed := m.set.Sweep()
	for _, name := range removed {
		delete(m.inputs, name)
	}
	if len(removed) > 0 {
		m.clampFocus()
		m.applyFocusState()
	}
	m.statusText = "Generation finished."

	cmds := []tea.Cmd{artifactSettleCmd()}
	if m.store != nil {
		records := make([]storage.ParamRecord, 0, m.set.Len())
		for _, entry := range m.set.Entries() {
			records = append(records, storage.ParamRecord{
				Name:  entry.Name,
				Type:  entry.Type,
				Value: entry.Value,
			})
		}
		cmds = append(cmds, saveSnapshotCmd(m.store, records, tailLines(m.logText, logTailLines)))
	}
	return cmds
}

// markDisconnected ends the session: the log is replaced with a disconnect
// notice and every mutating control goes inert until the program restarts.
func (m *Model) markDisconnected(err error) {
	m.disabled = true
	m.generating = false
	m.debounce.Cancel()
	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}

	host := "the sketch server"
	if m.client != nil {
		host = m.client.Host()
	}
	if err != nil {
		m.logger.Warn("event stream failed", zap.Error(err))
	} else {
		m.logger.Info("event stream closed")
	}
	m.logText = fmt.Sprintf("Disconnected from %s.\nRestart fart-tui to reconnect.", host)
	m.logFollow = true
	m.refreshLogView()
	m.statusText = ""
	m.errorText = fmt.Sprintf("Disconnected from %s", host)
	for name, input := range m.inputs {
		input.Blur()
		m.inputs[name] = input
	}
}

// scheduleRerun debounces a re-run request carrying a snapshot of the
// current non-empty parameter values. The request itself happens off the
// event loop and is fire-and-forget: failures go to the debug log only.
func (m *Model) scheduleRerun() {
	if m.disabled || m.client == nil {
		return
	}
	values := m.set.Values()
	c := m.client
	logger := m.logger
	m.debounce.Debounce(func() {
		if err := c.Rerun(context.Background(), values); err != nil {
			logger.Warn("rerun request failed", zap.Error(err))
		}
	})
}

func (m *Model) sendLike() {
	if m.disabled || m.client == nil {
		return
	}
	c := m.client
	logger := m.logger
	go func() {
		if err := c.Like(context.Background()); err != nil {
			logger.Warn("like request failed", zap.Error(err))
		}
	}()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		if m.streamCancel != nil {
			m.streamCancel()
		}
		m.debounce.Cancel()
		return m, tea.Quit
	}

	if m.disabled {
		// Session is over; only quitting remains.
		if key == "q" {
			return m, tea.Quit
		}
		return m, nil
	}

	switch key {
	case "q":
		if m.focusedEntry() == nil {
			if m.streamCancel != nil {
				m.streamCancel()
			}
			m.debounce.Cancel()
			return m, tea.Quit
		}

	case "tab":
		m.focusIdx = (m.focusIdx + 1) % m.focusableCount()
		m.applyFocusState()
		return m, nil

	case "shift+tab", "backtab":
		m.focusIdx = (m.focusIdx - 1 + m.focusableCount()) % m.focusableCount()
		m.applyFocusState()
		return m, nil

	case "ctrl+r":
		m.scheduleRerun()
		m.statusText = "Re-run requested."
		return m, nil

	case "ctrl+l":
		m.sendLike()
		m.statusText = "Liked the current artifact."
		return m, nil

	case "ctrl+g":
		entry := m.focusedEntry()
		if entry == nil || !entry.Seed() {
			m.errorText = "Randomize works on a focused seed parameter."
			return m, nil
		}
		value := params.RandomSeedValue()
		m.set.SetValue(entry.Name, value)
		if input, ok := m.inputs[entry.Name]; ok {
			input.SetValue(value)
			input.CursorEnd()
			m.inputs[entry.Name] = input
		}
		m.errorText = ""
		m.statusText = fmt.Sprintf("Randomized %s = %s", entry.Name, value)
		m.scheduleRerun()
		return m, nil

	case "up", "down":
		switch m.focusTarget() {
		case focusTargetHistory:
			delta := -1
			if key == "down" {
				delta = 1
			}
			if len(m.historyItems) > 0 {
				m.historyCursor = clampInt(m.historyCursor+delta, 0, len(m.historyItems)-1)
				m.refreshHistoryView()
			}
			return m, nil
		case focusTargetLog:
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			m.logFollow = m.log.AtBottom()
			return m, cmd
		default:
			if entry := m.focusedEntry(); entry != nil {
				if m.stepEntry(entry, key == "up") {
					return m, nil
				}
			}
		}

	case "enter":
		if m.focusTarget() == focusTargetHistory && len(m.historyItems) > 0 {
			sel := clampInt(m.historyCursor, 0, len(m.historyItems)-1)
			return m, loadSnapshotCmd(m.store, m.historyItems[sel].Directory)
		}
	}

	if entry := m.focusedEntry(); entry != nil {
		input, ok := m.inputs[entry.Name]
		if !ok {
			return m, nil
		}
		before := input.Value()
		var cmd tea.Cmd
		input, cmd = input.Update(msg)
		m.inputs[entry.Name] = input
		if input.Value() != before {
			m.set.SetValue(entry.Name, input.Value())
			m.scheduleRerun()
		}
		return m, cmd
	}

	switch m.focusTarget() {
	case focusTargetLog:
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		m.logFollow = m.log.AtBottom()
		return m, cmd
	case focusTargetHistory:
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		return m, cmd
	}
	return m, nil
}

// stepEntry nudges a numeric entry by its widget step. Returns false for
// text-kind entries so the key can fall through to the viewport handlers.
func (m *Model) stepEntry(entry *params.Entry, up bool) bool {
	step := params.Step(entry.Kind())
	if step == 0 {
		return false
	}
	current, err := strconv.ParseFloat(strings.TrimSpace(entry.Value), 64)
	if err != nil {
		current = 0
	}
	if !up {
		step = -step
	}
	next := current + step

	var value string
	if entry.Kind() == params.KindFloat {
		value = strconv.FormatFloat(next, 'f', -1, 64)
	} else {
		value = strconv.FormatInt(int64(next), 10)
	}
	m.set.SetValue(entry.Name, value)
	if input, ok := m.inputs[entry.Name]; ok {
		input.SetValue(value)
		input.CursorEnd()
		m.inputs[entry.Name] = input
	}
	m.scheduleRerun()
	return true
}

type focusTarget int

const (
	focusTargetParam focusTarget = iota
	focusTargetLog
	focusTargetHistory
)

func (m *Model) focusableCount() int {
	return m.set.Len() + extraFocusSlots
}

func (m *Model) focusTarget() focusTarget {
	switch m.focusIdx - m.set.Len() {
	case focusLogOffset:
		return focusTargetLog
	case focusHistoryOffset:
		return focusTargetHistory
	default:
		return focusTargetParam
	}
}

func (m *Model) focusedEntry() *params.Entry {
	entries := m.set.Entries()
	if m.focusIdx < 0 || m.focusIdx >= len(entries) {
		return nil
	}
	return entries[m.focusIdx]
}

func (m *Model) clampFocus() {
	m.focusIdx = clampInt(m.focusIdx, 0, m.focusableCount()-1)
}

func (m *Model) applyFocusState() {
	focused := m.focusedEntry()
	for name, input := range m.inputs {
		if focused != nil && focused.Name == name && !m.disabled {
			input.Focus()
		} else {
			input.Blur()
		}
		m.inputs[name] = input
	}
}

// syncParamInputs reconciles the per-entry editors against the set: one
// input per live name, created on first insert and refreshed with the
// scanned value unless the user is mid-edit in that very input.
func (m *Model) syncParamInputs() {
	focused := m.focusedEntry()
	for _, entry := range m.set.Entries() {
		input, ok := m.inputs[entry.Name]
		if !ok {
			m.inputs[entry.Name] = m.newParamInput(entry)
			continue
		}
		if focused != nil && focused.Name == entry.Name {
			continue
		}
		if input.Value() != entry.Value {
			input.SetValue(entry.Value)
			input.CursorEnd()
			m.inputs[entry.Name] = input
		}
	}
	m.applyFocusState()
}

func (m *Model) newParamInput(entry *params.Entry) textinput.Model {
	input := textinput.New()
	input.Prompt = "= "
	input.CharLimit = 256
	input.Width = maxInt(12, m.paramsW-8)
	input.SetValue(entry.Value)
	switch entry.Kind() {
	case params.KindInt:
		input.Validate = validateInt
	case params.KindFloat:
		input.Validate = validateFloat
	}
	return input
}

func validateInt(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return nil
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return fmt.Errorf("not an integer")
	}
	return nil
}

func validateFloat(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" || raw == "." || raw == "-." {
		return nil
	}
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return fmt.Errorf("not a number")
	}
	return nil
}

// restoreSnapshot copies saved values into matching live entries. Names the
// current generation no longer declares are skipped; used is untouched.
func (m *Model) restoreSnapshot(snapshot *storage.GenerationSnapshot) int {
	if snapshot == nil {
		return 0
	}
	restored := 0
	for _, record := range snapshot.Params {
		if !m.set.SetValue(record.Name, record.Value) {
			continue
		}
		if input, ok := m.inputs[record.Name]; ok {
			input.SetValue(record.Value)
			input.CursorEnd()
			m.inputs[record.Name] = input
		}
		restored++
	}
	return restored
}

func (m Model) View() string {
	if !m.ready {
		return "Booting fart-tui..."
	}

	innerWidth := maxInt(40, m.width-2)
	innerHeight := maxInt(12, m.height-2)

	header := headerStyle.Render("fart sketch console")

	statusPrefix := "*"
	if m.generating {
		statusPrefix = m.spinner.View()
	}
	statusBody := strings.TrimSpace(m.statusText)
	if statusBody == "" {
		statusBody = "Ready"
	}
	statusLine := statusStyle.Render(statusPrefix + " " + statusBody)
	if strings.TrimSpace(m.errorText) != "" {
		statusLine = errorStyle.Render(m.errorText)
	}

	paramsPanel := renderPanel(
		"Parameters",
		m.renderParams(),
		m.paramsW,
		m.paramsH,
		m.focusTarget() == focusTargetParam,
	)
	logPanel := renderPanel(
		"Sketch Output",
		m.log.View(),
		m.logW,
		m.logH,
		m.focusTarget() == focusTargetLog,
	)
	topRow := lipgloss.JoinHorizontal(lipgloss.Top, paramsPanel, logPanel)

	historyPanel := renderPanel(
		"Generations",
		m.history.View(),
		m.historyW,
		m.historyH,
		m.focusTarget() == focusTargetHistory,
	)

	parts := []string{header, statusLine, topRow, historyPanel}
	parts = append(parts, helpStyle.Render("tab focus | ctrl+r rerun | ctrl+g randomize seed | ctrl+l like | enter restore generation | ctrl+c quit"))

	body := strings.Join(parts, "\n")
	body = fitTextHeight(body, innerHeight)
	return lipgloss.NewStyle().
		Background(chromeBG).
		Foreground(lipgloss.Color("#E8F0F2")).
		Width(innerWidth).
		Height(innerHeight).
		Padding(0, 1).
		Render(body)
}

func (m Model) renderParams() string {
	entries := m.set.Entries()
	if len(entries) == 0 {
		return helpStyle.Render("No parameters declared yet.\nThey appear as the sketch logs them.")
	}

	lines := make([]string, 0, len(entries)*2)
	for idx, entry := range entries {
		label := paramNameStyle.Render(entry.Name) + " " + paramTypeStyle.Render(entry.Type)
		if entry.Seed() {
			label += " " + paramTypeStyle.Render("(seed, ctrl+g randomizes)")
		}
		if idx == m.focusIdx {
			label = selectedLineStyle.Render("▶ ") + label
		} else {
			label = "  " + label
		}
		lines = append(lines, label)
		if input, ok := m.inputs[entry.Name]; ok {
			lines = append(lines, "  "+input.View())
		}
	}

	maxLines := maxInt(2, m.paramsH-1)
	if len(lines) > maxLines {
		// Keep the focused entry visible.
		start := clampInt(m.focusIdx*2-(maxLines/2), 0, maxInt(0, len(lines)-maxLines))
		lines = lines[start : start+maxLines]
	}
	return strings.Join(lines, "\n")
}

func (m *Model) refreshLogView() {
	if m.logText == "" {
		m.log.SetContent("")
		m.log.SetYOffset(0)
		return
	}
	m.log.SetContent(m.logText)
	if m.logFollow {
		m.log.GotoBottom()
	}
}

func (m *Model) refreshHistoryView() {
	if len(m.historyItems) == 0 {
		m.history.SetContent("No saved generations yet.\nFinished generations are stored under ./generations")
		m.history.SetYOffset(0)
		return
	}

	m.historyCursor = clampInt(m.historyCursor, 0, len(m.historyItems)-1)
	lines := make([]string, 0, len(m.historyItems))
	for idx, item := range m.historyItems {
		cursor := " "
		line := fmt.Sprintf("%s %s | %d param(s)", cursor, trimTime(item.SavedAt), item.ParamCount)
		if idx == m.historyCursor {
			line = selectedLineStyle.Render("▶" + line[1:])
		}
		lines = append(lines, line)
	}
	m.history.SetContent(strings.Join(lines, "\n"))
}

func (m *Model) resizePanels() {
	if m.width <= 0 || m.height <= 0 {
		return
	}

	usableW := maxInt(40, m.width-6)
	innerH := maxInt(12, m.height-2)
	// Header, status, help, borders.
	panelRowsBudget := maxInt(10, innerH-5)

	historyH := clampInt(panelRowsBudget/4, 3, 8)
	topH := maxInt(6, panelRowsBudget-historyH-2)

	paramsW := clampInt(int(float64(usableW)*0.42), 28, usableW-24)
	logW := usableW - paramsW

	m.paramsW = paramsW
	m.paramsH = topH
	m.logW = logW
	m.logH = topH
	m.log.Width = maxInt(20, logW-4)
	m.log.Height = maxInt(2, topH-1)

	m.historyW = usableW
	m.historyH = historyH
	m.history.Width = maxInt(20, usableW-4)
	m.history.Height = maxInt(1, historyH-1)

	inputWidth := maxInt(12, paramsW-8)
	for name, input := range m.inputs {
		input.Width = inputWidth
		m.inputs[name] = input
	}

	m.refreshLogView()
}

func renderPanel(title, body string, width, height int, focused bool) string {
	borderColor := panelBorder
	if focused {
		borderColor = accentSecondary
	}
	style := panelStyle.
		BorderForeground(borderColor).
		Width(width).
		Height(height)

	titleLine := panelTitleStyle.Render(title)
	return style.Render(titleLine + "\n" + body)
}

func tailLines(text string, limit int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}

func fitTextHeight(text string, height int) string {
	if height <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func trimTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return parsed.Local().Format("2006-01-02 15:04:05")
	}
	return raw
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
