package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jhbruhn/fart/internal/client"
	"github.com/jhbruhn/fart/internal/storage"

	tea "github.com/charmbracelet/bubbletea"
)

func testModel(t *testing.T, c *client.Client, store *storage.Store) Model {
	t.Helper()
	m := NewModel(c, store, nil)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

func applyEvents(t *testing.T, m Model, events ...client.StreamEvent) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(streamEventMsg{streamID: m.streamID, events: events, ok: true})
	return updated.(Model), cmd
}

func outputEvent(chunk string) client.StreamEvent {
	return client.StreamEvent{Kind: client.EventOutput, Chunk: chunk}
}

// drainCmd executes a command tree synchronously and collects the messages
// it produces. Stream wait commands are never passed here because the test
// models have no live stream channel.
func drainCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var msgs []tea.Msg
		for _, sub := range batch {
			msgs = append(msgs, drainCmd(sub)...)
		}
		return msgs
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

func pressKey(t *testing.T, m Model, key string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		msg = tea.KeyMsg{Type: tea.KeyShiftTab}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+r":
		msg = tea.KeyMsg{Type: tea.KeyCtrlR}
	case "ctrl+l":
		msg = tea.KeyMsg{Type: tea.KeyCtrlL}
	case "ctrl+g":
		msg = tea.KeyMsg{Type: tea.KeyCtrlG}
	case "backspace":
		msg = tea.KeyMsg{Type: tea.KeyBackspace}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func TestStartEventClearsLog(t *testing.T) {
	t.Parallel()

	m := testModel(t, nil, nil)
	m, _ = applyEvents(t, m, outputEvent("old generation output\n"))
	if !strings.Contains(m.logText, "old generation") {
		t.Fatalf("log did not record output: %q", m.logText)
	}

	m, _ = applyEvents(t, m, client.StreamEvent{Kind: client.EventStart})
	if m.logText != "" {
		t.Fatalf("start did not clear log: %q", m.logText)
	}
	if !m.generating {
		t.Fatalf("start did not mark a running generation")
	}
}

func TestOutputEventRegistersDeclaredParameters(t *testing.T) {
	t.Parallel()

	m := testModel(t, nil, nil)
	chunk := "layer 1 ready\nfart: const SCALE: f64 = 2.5;\n"
	m, _ = applyEvents(t, m, outputEvent(chunk))

	entry, ok := m.set.Get("SCALE")
	if !ok {
		t.Fatalf("SCALE not registered")
	}
	if entry.Value != "2.5" || entry.Type != "f64" {
		t.Fatalf("entry = %#v", entry)
	}
	input, ok := m.inputs["SCALE"]
	if !ok {
		t.Fatalf("no editor created for SCALE")
	}
	if input.Value() != "2.5" {
		t.Fatalf("editor value = %q", input.Value())
	}
	if m.logText != chunk {
		t.Fatalf("log = %q, want the chunk verbatim", m.logText)
	}
}

func TestRedeclarationKeepsSingleEditor(t *testing.T) {
	t.Parallel()

	m := testModel(t, nil, nil)
	m, _ = applyEvents(t, m, outputEvent("fart: const SCALE: f64 = 2.5;\n"))
	m, _ = applyEvents(t, m, outputEvent("fart: const SCALE: f64 = 2.7;\n"))

	if m.set.Len() != 1 {
		t.Fatalf("set has %d entries, want 1", m.set.Len())
	}
	if len(m.inputs) != 1 {
		t.Fatalf("%d editors, want 1", len(m.inputs))
	}
	entry, _ := m.set.Get("SCALE")
	if entry.Value != "2.7" {
		t.Fatalf("value = %q, want refreshed", entry.Value)
	}
}

func TestFinishSweepsEntriesMissingFromGeneration(t *testing.T) {
	t.Parallel()

	m := testModel(t, nil, nil)
	m, _ = applyEvents(t, m,
		outputEvent("fart: const SCALE: f64 = 2.5;\n"),
		outputEvent("fart: const LAYERS: u32 = 7;\n"),
		client.StreamEvent{Kind: client.EventFinish},
	)
	if m.set.Len() != 2 {
		t.Fatalf("after first generation: %d entries", m.set.Len())
	}

	m, _ = applyEvents(t, m,
		client.StreamEvent{Kind: client.EventStart},
		outputEvent("fart: const SCALE: f64 = 2.5;\n"),
		client.StreamEvent{Kind: client.EventFinish},
	)

	if m.set.Len() != 1 {
		t.Fatalf("after second generation: %d entries, want 1", m.set.Len())
	}
	if _, ok := m.set.Get("LAYERS"); ok {
		t.Fatalf("LAYERS survived a generation that never declared it")
	}
	if _, ok := m.inputs["LAYERS"]; ok {
		t.Fatalf("editor for LAYERS not torn down")
	}
	if _, ok := m.inputs["SCALE"]; !ok {
		t.Fatalf("editor for SCALE torn down despite redeclaration")
	}
}

func TestUserEditSurvivesGenerationBoundary(t *testing.T) {
	t.Parallel()

	m := testModel(t, nil, nil)
	m, _ = applyEvents(t, m, outputEvent("fart: const SCALE: f64 = 2.5;\n"))

	// User edits are not "uses": only declarations keep entries alive.
	m.set.SetValue("SCALE", "9.9")
	m, _ = applyEvents(t, m, client.StreamEvent{Kind: client.EventFinish})
	if _, ok := m.set.Get("SCALE"); !ok {
		t.Fatalf("entry swept immediately after its declaring generation")
	}
	m, _ = applyEvents(t, m, client.StreamEvent{Kind: client.EventFinish})
	if _, ok := m.set.Get("SCALE"); ok {
		t.Fatalf("edited entry survived a generation without redeclaration")
	}
}

func TestDebouncedRerunSendsLatestValues(t *testing.T) {
	t.Parallel()

	requests := make(chan map[string]string, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerun" {
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode rerun body: %v", err)
		}
		requests <- body
	}))
	defer server.Close()

	c, err := client.New(server.URL, nil)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	m := testModel(t, c, nil)
	m.debounce = NewDebouncer(30 * time.Millisecond)
	m, _ = applyEvents(t, m, outputEvent("fart: const SCALE: f64 = 2.5;\n"))

	// Two quick keystrokes into the focused editor; one coalesced request.
	m, _ = pressKey(t, m, "9")
	m, _ = pressKey(t, m, "1")

	select {
	case body := <-requests:
		if body["SCALE"] != "2.591" {
			t.Fatalf("rerun body = %v, want latest value 2.591", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no rerun request arrived")
	}

	select {
	case body := <-requests:
		t.Fatalf("debounce leaked a second request: %v", body)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRerunOmitsEmptyValues(t *testing.T) {
	t.Parallel()

	requests := make(chan map[string]string, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests <- body
	}))
	defer server.Close()

	c, err := client.New(server.URL, nil)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	m := testModel(t, c, nil)
	m.debounce = NewDebouncer(10 * time.Millisecond)
	m, _ = applyEvents(t, m,
		outputEvent("fart: const SCALE: f64 = 2.5;\n"),
		outputEvent("fart: const NOTES: String = ;\n"),
	)

	m, _ = pressKey(t, m, "ctrl+r")
	select {
	case body := <-requests:
		if _, ok := body["NOTES"]; ok {
			t.Fatalf("empty value was sent: %v", body)
		}
		if body["SCALE"] != "2.5" {
			t.Fatalf("body = %v", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no rerun request arrived")
	}
}

func TestLikeKeySendsRequest(t *testing.T) {
	t.Parallel()

	likes := make(chan struct{}, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/like" && r.Method == http.MethodPost {
			likes <- struct{}{}
		}
	}))
	defer server.Close()

	c, err := client.New(server.URL, nil)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	m := testModel(t, c, nil)
	m, _ = pressKey(t, m, "ctrl+l")

	select {
	case <-likes:
	case <-time.After(2 * time.Second):
		t.Fatalf("no like request arrived")
	}
}

func TestRandomizeSeedKey(t *testing.T) {
	t.Parallel()

	m := testModel(t, nil, nil)
	m, _ = applyEvents(t, m, outputEvent("fart: const RNG_SEED_1: u64 = 42;\n"))

	m, _ = pressKey(t, m, "ctrl+g")
	entry, _ := m.set.Get("RNG_SEED_1")
	if _, err := strconv.Atoi(entry.Value); err != nil {
		t.Fatalf("randomized seed %q is not numeric", entry.Value)
	}
	if input := m.inputs["RNG_SEED_1"]; input.Value() != entry.Value {
		t.Fatalf("editor %q out of sync with entry %q", input.Value(), entry.Value)
	}
}

func TestRandomizeRejectsNonSeed(t *testing.T) {
	t.Parallel()

	m := testModel(t, nil, nil)
	m, _ = applyEvents(t, m, outputEvent("fart: const SCALE: f64 = 2.5;\n"))

	m, _ = pressKey(t, m, "ctrl+g")
	entry, _ := m.set.Get("SCALE")
	if entry.Value != "2.5" {
		t.Fatalf("non-seed value changed to %q", entry.Value)
	}
	if m.errorText == "" {
		t.Fatalf("no feedback for randomizing a non-seed entry")
	}
}

func TestStepKeysAdjustNumericValues(t *testing.T) {
	t.Parallel()

	m := testModel(t, nil, nil)
	m, _ = applyEvents(t, m,
		outputEvent("fart: const SCALE: f64 = 2.5;\n"),
		outputEvent("fart: const LAYERS: u32 = 42;\n"),
	)

	m, _ = pressKey(t, m, "up")
	entry, _ := m.set.Get("SCALE")
	if entry.Value != "2.6" {
		t.Fatalf("float step up: %q", entry.Value)
	}

	m.focusIdx = 1
	m.applyFocusState()
	m, _ = pressKey(t, m, "down")
	entry, _ = m.set.Get("LAYERS")
	if entry.Value != "41" {
		t.Fatalf("int step down: %q", entry.Value)
	}
}

func TestStreamErrorDisablesEverything(t *testing.T) {
	t.Parallel()

	c, err := client.New("http://sketchbox:3000", nil)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	m := testModel(t, c, nil)
	m, _ = applyEvents(t, m, outputEvent("fart: const SCALE: f64 = 2.5;\n"))

	updated, _ := m.Update(streamErrMsg{streamID: m.streamID, err: errors.New("connection reset"), ok: true})
	m = updated.(Model)

	if !m.disabled {
		t.Fatalf("stream error did not disable controls")
	}
	if !strings.Contains(m.logText, "sketchbox:3000") {
		t.Fatalf("disconnect notice does not name the host: %q", m.logText)
	}

	// Editing is inert now.
	before, _ := m.set.Get("SCALE")
	beforeValue := before.Value
	m, _ = pressKey(t, m, "9")
	after, _ := m.set.Get("SCALE")
	if after.Value != beforeValue {
		t.Fatalf("edit went through while disabled: %q", after.Value)
	}
}

func TestStreamCleanCloseDisables(t *testing.T) {
	t.Parallel()

	c, err := client.New("http://sketchbox:3000", nil)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	m := testModel(t, c, nil)
	updated, _ := m.Update(streamEventMsg{streamID: m.streamID, ok: false})
	m = updated.(Model)

	if !m.disabled {
		t.Fatalf("channel close did not end the session")
	}
	if !strings.Contains(m.logText, "sketchbox:3000") {
		t.Fatalf("disconnect notice = %q", m.logText)
	}
}

func TestStaleStreamMessagesIgnored(t *testing.T) {
	t.Parallel()

	m := testModel(t, nil, nil)
	m.streamID = 3
	updated, _ := m.Update(streamEventMsg{
		streamID: 2,
		events:   []client.StreamEvent{outputEvent("fart: const OLD: u32 = 1;\n")},
		ok:       true,
	})
	m = updated.(Model)
	if m.set.Len() != 0 {
		t.Fatalf("stale stream mutated the parameter set")
	}

	updated, _ = m.Update(streamErrMsg{streamID: 2, err: errors.New("old stream"), ok: true})
	m = updated.(Model)
	if m.disabled {
		t.Fatalf("stale stream error disabled the session")
	}
}

func TestOverridesApplyOnFirstDeclaration(t *testing.T) {
	t.Parallel()

	m := NewModelWithOptions(nil, nil, nil, ModelOptions{
		Overrides: map[string]string{"SCALE": "7.5"},
	})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = updated.(Model)

	m, _ = applyEvents(t, m, outputEvent("fart: const SCALE: f64 = 2.5;\n"))
	entry, _ := m.set.Get("SCALE")
	if entry.Value != "7.5" {
		t.Fatalf("override not applied: %q", entry.Value)
	}

	// Second declaration wins again; the override was one-shot.
	m, _ = applyEvents(t, m, outputEvent("fart: const SCALE: f64 = 2.5;\n"))
	entry, _ = m.set.Get("SCALE")
	if entry.Value != "2.5" {
		t.Fatalf("override reapplied: %q", entry.Value)
	}
}

func TestFinishSavesSnapshotAndReloadsHistory(t *testing.T) {
	t.Parallel()

	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	m := testModel(t, nil, store)
	m, cmd := applyEvents(t, m,
		outputEvent("fart: const SCALE: f64 = 2.5;\n"),
		client.StreamEvent{Kind: client.EventFinish},
	)

	sawSave := false
	for _, msg := range drainCmd(cmd) {
		if saved, ok := msg.(snapshotSavedMsg); ok {
			sawSave = true
			if saved.err != nil {
				t.Fatalf("save failed: %v", saved.err)
			}
			updated, followup := m.Update(saved)
			m = updated.(Model)
			for _, historyMsg := range drainCmd(followup) {
				updated, _ = m.Update(historyMsg)
				m = updated.(Model)
			}
		}
	}
	if !sawSave {
		t.Fatalf("finish did not save a snapshot")
	}
	if len(m.historyItems) != 1 {
		t.Fatalf("history has %d items, want 1", len(m.historyItems))
	}
	if m.historyItems[0].ParamCount != 1 {
		t.Fatalf("summary = %#v", m.historyItems[0])
	}
}

func TestHistoryRestoreAppliesSavedValues(t *testing.T) {
	t.Parallel()

	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	summary, err := store.SaveGeneration([]storage.ParamRecord{
		{Name: "SCALE", Type: "f64", Value: "9.9"},
		{Name: "GONE", Type: "u32", Value: "1"},
	}, nil)
	if err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}

	m := testModel(t, nil, store)
	m, _ = applyEvents(t, m, outputEvent("fart: const SCALE: f64 = 2.5;\n"))
	updated, _ := m.Update(historyLoadedMsg{items: []storage.GenerationSummary{summary}})
	m = updated.(Model)

	m.focusIdx = m.set.Len() + focusHistoryOffset
	m, cmd := pressKey(t, m, "enter")
	if cmd == nil {
		t.Fatalf("enter on history produced no load command")
	}
	for _, msg := range drainCmd(cmd) {
		updated, _ = m.Update(msg)
		m = updated.(Model)
	}

	entry, _ := m.set.Get("SCALE")
	if entry.Value != "9.9" {
		t.Fatalf("restored value = %q, want 9.9", entry.Value)
	}
	if _, ok := m.set.Get("GONE"); ok {
		t.Fatalf("restore resurrected an entry the sketch no longer declares")
	}
}

func TestFetchArtifactWritesMirror(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<svg>art</svg>"))
	}))
	defer server.Close()

	c, err := client.New(server.URL, nil)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	dir := t.TempDir()
	msg := fetchArtifactCmd(c, dir)()
	fetched, ok := msg.(artifactFetchedMsg)
	if !ok {
		t.Fatalf("msg = %#v", msg)
	}
	if fetched.err != nil {
		t.Fatalf("fetch failed: %v", fetched.err)
	}
	if fetched.size != len("<svg>art</svg>") {
		t.Fatalf("size = %d", fetched.size)
	}

	blob, err := os.ReadFile(filepath.Join(dir, "latest.svg"))
	if err != nil {
		t.Fatalf("mirror not written: %v", err)
	}
	if string(blob) != "<svg>art</svg>" {
		t.Fatalf("mirror = %q", blob)
	}
}

func TestTabCyclesFocus(t *testing.T) {
	t.Parallel()

	m := testModel(t, nil, nil)
	m, _ = applyEvents(t, m, outputEvent("fart: const SCALE: f64 = 2.5;\n"))

	if m.focusTarget() != focusTargetParam {
		t.Fatalf("initial focus = %v", m.focusTarget())
	}
	m, _ = pressKey(t, m, "tab")
	if m.focusTarget() != focusTargetLog {
		t.Fatalf("after one tab: %v", m.focusTarget())
	}
	m, _ = pressKey(t, m, "tab")
	if m.focusTarget() != focusTargetHistory {
		t.Fatalf("after two tabs: %v", m.focusTarget())
	}
	m, _ = pressKey(t, m, "tab")
	if m.focusTarget() != focusTargetParam {
		t.Fatalf("focus did not wrap: %v", m.focusTarget())
	}
	m, _ = pressKey(t, m, "shift+tab")
	if m.focusTarget() != focusTargetHistory {
		t.Fatalf("shift+tab did not wrap backwards: %v", m.focusTarget())
	}
}

func TestViewRendersPanels(t *testing.T) {
	t.Parallel()

	m := testModel(t, nil, nil)
	m, _ = applyEvents(t, m, outputEvent("fart: const SCALE: f64 = 2.5;\n"))

	view := m.View()
	for _, want := range []string{"Parameters", "Sketch Output", "Generations", "SCALE"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q", want)
		}
	}
}
