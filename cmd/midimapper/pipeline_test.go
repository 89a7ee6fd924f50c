package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/leandrodaf/midimapper/internal/config"
	"github.com/leandrodaf/midimapper/internal/logger/loggertest"
	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/leandrodaf/midimapper/sdk/mapping"
	"github.com/leandrodaf/midimapper/sdk/recorder"
	"github.com/leandrodaf/midimapper/sdk/take"
	"github.com/leandrodaf/midimapper/sdk/timeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.MappingDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	return cfg
}

func testOptions(t *testing.T) options {
	t.Helper()
	return options{configPath: filepath.Join(t.TempDir(), "config.yaml")}
}

func newTestPipeline(t *testing.T, entries ...mapping.Entry) *pipeline {
	t.Helper()
	cfg := testConfig(t)
	if len(entries) > 0 {
		doc := mapping.NewDocument("LPD8", cfg.Rig.Name, entries)
		if err := (mapping.Store{Dir: cfg.MappingDir, Ext: ".yaml"}).Save(doc); err != nil {
			t.Fatal(err)
		}
	}
	log, _ := loggertest.New()
	p, err := newPipeline(cfg, log, "LPD8", testOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func cc(id uint8, target string) mapping.Entry {
	return mapping.Entry{
		Key:     contracts.Key{Kind: contracts.ControlChange, ID: id},
		Target:  target,
		Range:   contracts.UnitRange,
		Enabled: true,
	}
}

func packet(at time.Duration, data ...byte) contracts.Packet {
	return contracts.Packet{Timestamp: at, Data: data}
}

func TestPipelineDrivesRigFromStoredMappings(t *testing.T) {
	p := newTestPipeline(t, cc(1, "Jaw.Open"))

	p.router.Feed(packet(0, 0xB0, 0x01, 0x40))
	v, _ := p.rig.Value("Jaw.Open")
	if math.Abs(v-0.504) > 0.001 {
		t.Fatalf("Jaw.Open = %v", v)
	}
	select {
	case <-p.changed:
	default:
		t.Error("monitor not signalled")
	}
}

func TestPipelineLearnBindsAndSaves(t *testing.T) {
	p := newTestPipeline(t)

	p.armLearn("Brow.Raise")
	p.router.Feed(packet(0, 0xB3, 0x02, 0x7F))
	l := <-p.learned
	if l.key != (contracts.Key{Channel: 3, Kind: contracts.ControlChange, ID: 2}) || l.target != "Brow.Raise" {
		t.Fatalf("learned = %+v", l)
	}
	if err := p.bind(l); err != nil {
		t.Fatal(err)
	}

	p.router.Feed(packet(0, 0xB3, 0x02, 0x7F))
	if v, _ := p.rig.Value("Brow.Raise"); v != 1 {
		t.Fatalf("Brow.Raise = %v", v)
	}

	path, err := p.saveMappings()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "LPD8_Face.yaml" {
		t.Errorf("saved to %s", path)
	}
	doc, err := mapping.LoadFile(path)
	if err != nil || len(doc.Mappings) != 1 || doc.Mappings[0].Target != "Brow.Raise" {
		t.Fatalf("doc = %+v err = %v", doc, err)
	}
}

func TestPipelineTransportAndRecording(t *testing.T) {
	p := newTestPipeline(t, cc(1, "Jaw.Open"))
	note := contracts.Key{Kind: contracts.NoteOn, ID: 60}
	if err := p.rig.Bind(p.table, note, timeline.TargetStepForward); err != nil {
		t.Fatal(err)
	}

	p.router.Feed(packet(0, 0x90, 60, 0x7F))
	if got := p.timeline.Playhead(); got != 5 {
		t.Fatalf("playhead = %d", got)
	}
	if _, ok := p.rig.Value(timeline.TargetStepForward); ok {
		t.Error("transport target reached the rig")
	}

	if err := p.toggleRecording(); err != nil {
		t.Fatal(err)
	}
	if p.rec.State() != recorder.Armed {
		t.Fatalf("state = %v", p.rec.State())
	}
	p.router.Feed(packet(time.Second, 0xB0, 0x01, 0x7F))
	if p.rec.State() != recorder.Recording {
		t.Fatalf("state = %v", p.rec.State())
	}
	if err := p.toggleRecording(); err != nil {
		t.Fatal(err)
	}

	keys := p.timeline.Keys("Jaw.Open")
	if len(keys) != 1 || keys[0].Frame != 5 || keys[0].Value != 1 {
		t.Fatalf("keys = %+v", keys)
	}
	if len(p.timeline.Keys(timeline.TargetStepForward)) != 0 {
		t.Error("transport target keyframed")
	}
}

func TestReplayPrintsUpdatesAndKeyframes(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	mappingPath := filepath.Join(dir, "face.yaml")
	doc := mapping.NewDocument("LPD8", cfg.Rig.Name, []mapping.Entry{cc(1, "Jaw.Open")})
	if err := doc.SaveFile(mappingPath); err != nil {
		t.Fatal(err)
	}

	takePath := filepath.Join(dir, "take.mid")
	events := []contracts.Event{
		{Kind: contracts.ControlChange, ID: 1, Value: 0, Timestamp: 0},
		{Kind: contracts.ControlChange, ID: 1, Value: 127, Timestamp: 500 * time.Millisecond},
		{Kind: contracts.ControlChange, ID: 9, Value: 127, Timestamp: time.Second},
	}
	if err := take.SaveFile(takePath, events); err != nil {
		t.Fatal(err)
	}

	log, _ := loggertest.New()
	var out bytes.Buffer
	o := testOptions(t)
	o.mappingPath, o.replay, o.record = mappingPath, takePath, true
	if err := runReplay(context.Background(), &out, cfg, log, o); err != nil {
		t.Fatal(err)
	}

	text := out.String()
	if strings.Count(text, "Jaw.Open") != 3 {
		t.Fatalf("output:\n%s", text)
	}
	if !strings.Contains(text, fmt.Sprintf("%-24s %d keyframes", "Jaw.Open", 2)) {
		t.Errorf("keyframe summary missing:\n%s", text)
	}
}

func writeMapping(t *testing.T, dir string, cfg *config.Config, entries ...mapping.Entry) string {
	t.Helper()
	path := filepath.Join(dir, "face.yaml")
	if err := mapping.NewDocument("LPD8", cfg.Rig.Name, entries).SaveFile(path); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeTake saves n CC1 events spaced every, with values starting at first.
func writeTake(t *testing.T, path string, n int, every time.Duration, first uint16) {
	t.Helper()
	events := make([]contracts.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, contracts.Event{
			Kind:      contracts.ControlChange,
			ID:        1,
			Value:     first + uint16(i)*6,
			Timestamp: time.Duration(i) * every,
		})
	}
	if err := take.SaveFile(path, events); err != nil {
		t.Fatal(err)
	}
}

func note(id uint8, target string) mapping.Entry {
	return mapping.Entry{
		Key:     contracts.Key{Kind: contracts.NoteOn, ID: id},
		Target:  target,
		Range:   contracts.UnitRange,
		Enabled: true,
	}
}

// baked lists the timelines written under the dated output folders.
func baked(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(cfg.OutputDir, "*", "*.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if _, err := time.Parse(time.DateOnly, filepath.Base(filepath.Dir(f))); err != nil {
			t.Errorf("%s is not in a dated folder", f)
		}
	}
	return files
}

func TestReplayCountdownRecordsKeyframes(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Record.Countdown = 200 * time.Millisecond
	takePath := filepath.Join(dir, "take.mid")
	writeTake(t, takePath, 20, 500*time.Millisecond, 0)

	log, logs := loggertest.New()
	var out bytes.Buffer
	o := testOptions(t)
	o.mappingPath = writeMapping(t, dir, cfg, cc(1, "Jaw.Open"))
	o.replay, o.record = takePath, true
	if err := runReplay(context.Background(), &out, cfg, log, o); err != nil {
		t.Fatal(err)
	}

	text := out.String()
	if !strings.Contains(text, fmt.Sprintf("%-24s %d keyframes", "Jaw.Open", 19)) {
		t.Fatalf("keyframe summary missing:\n%s", text)
	}
	if n := len(loggertest.Warnings(logs, "parameter update dropped; no active recording session")); n != 1 {
		t.Errorf("dropped during countdown = %d, want 1", n)
	}
	if !strings.Contains(text, "timeline baked to ") || len(baked(t, cfg)) != 1 {
		t.Errorf("timeline not baked on exit:\n%s", text)
	}
}

func TestPipelineBakeSave(t *testing.T) {
	p := newTestPipeline(t, cc(1, "Jaw.Open"), note(40, timeline.TargetBakeSave))

	if _, err := p.handle(timeline.TargetBakeSave); !errors.Is(err, errNothingRecorded) {
		t.Fatalf("empty bake: err = %v", err)
	}

	if err := p.rec.Start(); err != nil {
		t.Fatal(err)
	}
	p.router.Feed(packet(0, 0xB0, 0x01, 0x20))
	p.router.Feed(packet(time.Second, 0xB0, 0x01, 0x7F))
	p.router.Feed(packet(2*time.Second, 0x90, 40, 0x7F))
	p.drain()

	if p.rec.State() != recorder.Idle {
		t.Fatalf("state after bake = %v", p.rec.State())
	}
	files := baked(t, p.cfg)
	if len(files) != 1 || !strings.HasPrefix(filepath.Base(files[0]), "session-") {
		t.Fatalf("baked = %v", files)
	}
	tl, err := timeline.LoadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	keys := tl.Keys("Jaw.Open")
	if len(keys) != 2 || keys[0].Frame != 0 || keys[1] != (timeline.Key{Frame: 30, Value: 1}) {
		t.Fatalf("baked keys = %+v", keys)
	}
	if _, ok := tl.Lookup(timeline.TargetBakeSave); ok {
		t.Error("queue target keyframed")
	}

	if path, err := p.bakeOnExit(); path != "" || err != nil {
		t.Fatalf("exit bake without changes = %q, %v", path, err)
	}
	p.timeline.Track("Jaw.Open").SetKey(90, 0.5)
	path, err := p.bakeOnExit()
	if err != nil || path == "" {
		t.Fatalf("exit bake = %q, %v", path, err)
	}
	tl, err = timeline.LoadFile(path)
	if err != nil || len(tl.Keys("Jaw.Open")) != 3 {
		t.Fatalf("exit bake keys = %+v err = %v", tl, err)
	}
}

func TestPipelineLoadNextPlaysQueuedTakes(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.mid"), filepath.Join(dir, "b.mid")
	writeTake(t, a, 2, 100*time.Millisecond, 0)
	writeTake(t, b, 3, 100*time.Millisecond, 0)

	cfg := testConfig(t)
	o := testOptions(t)
	o.enqueue = []string{a, b, a}
	log, _ := loggertest.New()
	p, err := newPipeline(cfg, log, "LPD8", o)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.rig.Bind(p.table, contracts.Key{Kind: contracts.NoteOn, ID: 41}, timeline.TargetLoadNext); err != nil {
		t.Fatal(err)
	}
	var played []string
	var sizes []int
	p.play = func(path string, ps []contracts.Packet) {
		played = append(played, path)
		sizes = append(sizes, len(ps))
	}

	for i := 0; i < 3; i++ {
		p.router.Feed(packet(0, 0x90, 41, 0x7F))
		p.drain()
	}
	if len(played) != 3 || played[0] != a || played[1] != b || played[2] != a {
		t.Fatalf("played = %v", played)
	}
	if sizes[0] != 2 || sizes[1] != 3 {
		t.Fatalf("packets = %v", sizes)
	}
	if p.queue.CurrentIndex() != 0 || p.current != a {
		t.Fatalf("current = %d %q", p.queue.CurrentIndex(), p.current)
	}

	saved, err := config.Load(o.configPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Queue.Takes) != 2 || saved.Queue.Takes[1] != b || saved.Queue.Current != 0 {
		t.Fatalf("persisted queue = %+v", saved.Queue)
	}

	o.enqueue, o.restartQueue = nil, true
	p, err = newPipeline(saved, log, "LPD8", o)
	if err != nil {
		t.Fatal(err)
	}
	if p.queue.Len() != 2 || p.queue.CurrentIndex() != -1 {
		t.Fatalf("restarted queue: len %d current %d", p.queue.Len(), p.queue.CurrentIndex())
	}
}

func TestLoadNextOnEmptyQueue(t *testing.T) {
	p := newTestPipeline(t)
	if _, err := p.handle(timeline.TargetLoadNext); !errors.Is(err, errQueueEmpty) {
		t.Fatalf("err = %v", err)
	}
	if _, err := p.handle("Queue.Unknown"); err == nil {
		t.Fatal("unknown action accepted")
	}
}

func TestReplayFeedsTakeLoadedFromQueue(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	first, second := filepath.Join(dir, "first.mid"), filepath.Join(dir, "second.mid")
	events := []contracts.Event{
		{Kind: contracts.ControlChange, ID: 1, Value: 10, Timestamp: 0},
		{Kind: contracts.ControlChange, ID: 1, Value: 20, Timestamp: 100 * time.Millisecond},
		{Kind: contracts.NoteOn, ID: 41, Value: 127, Timestamp: 200 * time.Millisecond},
	}
	if err := take.SaveFile(first, events); err != nil {
		t.Fatal(err)
	}
	writeTake(t, second, 3, 100*time.Millisecond, 100)
	cfg.Queue = config.QueueConfig{Takes: []string{second, first}, Current: -1}

	log, _ := loggertest.New()
	var out bytes.Buffer
	o := testOptions(t)
	o.mappingPath = writeMapping(t, dir, cfg, cc(1, "Jaw.Open"), note(41, timeline.TargetLoadNext))
	o.replay = first
	if err := runReplay(context.Background(), &out, cfg, log, o); err != nil {
		t.Fatal(err)
	}

	text := out.String()
	if n := strings.Count(text, "Jaw.Open"); n != 5 {
		t.Fatalf("Jaw.Open updates = %d:\n%s", n, text)
	}
	if !strings.Contains(text, fmt.Sprintf("%-24s %8.4f", "Jaw.Open", 112.0/127)) {
		t.Errorf("second take not replayed:\n%s", text)
	}
	if cfg.Queue.Current != 0 {
		t.Errorf("queue index = %d", cfg.Queue.Current)
	}
}

func TestMonitorSessionKeys(t *testing.T) {
	dir := t.TempDir()
	takePath := filepath.Join(dir, "a.mid")
	writeTake(t, takePath, 2, 100*time.Millisecond, 0)

	cfg := testConfig(t)
	o := testOptions(t)
	o.enqueue = []string{takePath}
	log, _ := loggertest.New()
	p, err := newPipeline(cfg, log, "LPD8", o)
	if err != nil {
		t.Fatal(err)
	}
	var played int
	p.play = func(string, []contracts.Packet) { played++ }
	var m tea.Model = newModel(p)

	if !strings.Contains(m.View(), "queue 1 takes") {
		t.Fatalf("queue line missing:\n%s", m.View())
	}
	m, _ = press(m, "n")
	if played != 1 || !strings.Contains(m.View(), "loaded "+takePath) || !strings.Contains(m.View(), "queue 1/1") {
		t.Fatalf("after n: played %d\n%s", played, m.View())
	}

	m, _ = press(m, "b")
	if !strings.Contains(m.View(), errNothingRecorded.Error()) {
		t.Fatalf("after b on empty timeline:\n%s", m.View())
	}
	p.timeline.Track("Jaw.Open").SetKey(3, 0.25)
	m, _ = press(m, "b")
	if !strings.Contains(m.View(), "timeline baked to ") || len(baked(t, cfg)) != 1 {
		t.Fatalf("after b:\n%s", m.View())
	}
	if name := filepath.Base(baked(t, cfg)[0]); !strings.HasPrefix(name, "a-") {
		t.Errorf("baked file %s not named after the take", name)
	}

	m, _ = m.Update(requestMsg(timeline.TargetLoadNext))
	if played != 2 {
		t.Fatalf("requested load: played %d", played)
	}

	m, _ = press(m, "x")
	if p.queue.Len() != 0 || !strings.Contains(m.View(), "removed take 1") {
		t.Fatalf("after x: len %d\n%s", p.queue.Len(), m.View())
	}
	m, _ = press(m, "x")
	if !strings.Contains(m.View(), "no take loaded") {
		t.Fatalf("second x:\n%s", m.View())
	}
}

func press(m tea.Model, key string) (tea.Model, tea.Cmd) {
	switch key {
	case "down":
		return m.Update(tea.KeyMsg{Type: tea.KeyDown})
	case "up":
		return m.Update(tea.KeyMsg{Type: tea.KeyUp})
	}
	return m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
}

func TestMonitorKeys(t *testing.T) {
	p := newTestPipeline(t)
	var m tea.Model = newModel(p)

	m, _ = press(m, "r")
	if p.rec.State() != recorder.Armed || !strings.Contains(m.View(), "ARMED") {
		t.Fatalf("after r: state %v\n%s", p.rec.State(), m.View())
	}
	m, _ = press(m, "r")
	if p.rec.State() != recorder.Idle {
		t.Fatalf("after second r: state %v", p.rec.State())
	}

	m, _ = press(m, "down")
	m, _ = press(m, "l")
	if !p.engine.Learning() || !strings.Contains(m.View(), "LEARN") {
		t.Fatal("learn not armed")
	}
	p.router.Feed(packet(0, 0xB0, 0x05, 0x10))
	m, _ = m.Update(learnedMsg(<-p.learned))
	if !strings.Contains(m.View(), "bound ch1/control_change/5 to Brow.Raise") {
		t.Fatalf("view:\n%s", m.View())
	}
	if e, ok := p.table.Lookup(0, contracts.ControlChange, 5); !ok || e.Target != "Brow.Raise" {
		t.Fatalf("entry = %+v", e)
	}

	m, _ = press(m, "l")
	m, _ = press(m, "l")
	if p.engine.Learning() {
		t.Fatal("second l did not cancel learn")
	}

	_, cmd := press(m, "q")
	if cmd == nil {
		t.Fatal("q did not quit")
	}
}

func TestBar(t *testing.T) {
	tests := []struct {
		v, lo, hi float64
		full      int
	}{
		{0, 0, 1, 0},
		{1, 0, 1, barWidth},
		{0, -1, 1, barWidth / 2},
		{5, 0, 1, barWidth},
		{-5, 0, 1, 0},
	}
	for _, tt := range tests {
		if got := strings.Count(bar(tt.v, tt.lo, tt.hi), "█"); got != tt.full {
			t.Errorf("bar(%v, %v, %v) = %d cells, want %d", tt.v, tt.lo, tt.hi, got, tt.full)
		}
	}
}
