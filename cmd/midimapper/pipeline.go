package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/leandrodaf/midimapper/internal/config"
	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/leandrodaf/midimapper/sdk/engine"
	"github.com/leandrodaf/midimapper/sdk/mapping"
	"github.com/leandrodaf/midimapper/sdk/queue"
	"github.com/leandrodaf/midimapper/sdk/recorder"
	"github.com/leandrodaf/midimapper/sdk/rig"
	"github.com/leandrodaf/midimapper/sdk/take"
	"github.com/leandrodaf/midimapper/sdk/timeline"
	"github.com/leandrodaf/midimapper/sdk/wire"
)

// learned is a key reported by MIDI learn together with the target it was armed for.
type learned struct {
	key    contracts.Key
	target string
}

// pipeline wires decoder, engine, rig, timeline and recorders for one device.
type pipeline struct {
	log    contracts.Logger
	cfg    *config.Config
	device string

	rig       *rig.Rig
	table     *mapping.Table
	engine    *engine.Engine
	router    *engine.Router
	timeline  *timeline.Timeline
	transport *timeline.Transport
	live      *recorder.Recorder
	rec       *recorder.Recorder
	take      *take.Recorder
	queue     *queue.Queue

	mappingPath string // Explicit mapping file; empty means the store.
	configPath  string // Where queue changes are persisted; empty means the default location.

	// play receives the packets of a take loaded from the queue.
	play    func(path string, packets []contracts.Packet)
	current string // Take loaded last, names baked timelines.
	baked   uint64 // Timeline revision at the last bake.

	changed  chan struct{}
	learned  chan learned
	requests chan string
}

var (
	errNothingRecorded = errors.New("no keyframes to bake")
	errQueueEmpty      = errors.New("session queue is empty")
)

func notTransport(target string) bool {
	return !timeline.IsTransportTarget(target)
}

// recordPolicy picks when a recording session starts. A replayed take counts
// its countdown on packet timestamps.
func recordPolicy(cfg *config.Config, replay bool) recorder.StartPolicy {
	switch {
	case cfg.Record.Countdown <= 0:
		return recorder.StartOnFirstUpdate()
	case replay:
		return recorder.StartAfterUpdate(cfg.Record.Countdown)
	}
	return recorder.StartAfter(cfg.Record.Countdown)
}

func newPipeline(cfg *config.Config, log contracts.Logger, device string, o options) (*pipeline, error) {
	r, err := cfg.BuildRig()
	if err != nil {
		return nil, fmt.Errorf("build rig: %w", err)
	}
	tl, err := timeline.New(timeline.WithFrameRate(cfg.Record.FrameRate))
	if err != nil {
		return nil, fmt.Errorf("build timeline: %w", err)
	}

	p := &pipeline{
		log:         log,
		cfg:         cfg,
		device:      device,
		rig:         r,
		timeline:    tl,
		mappingPath: o.mappingPath,
		configPath:  o.configPath,
		changed:     make(chan struct{}, 1),
		learned:     make(chan learned, 1),
		requests:    make(chan string, 4),
	}
	p.queue = queue.New(cfg.Queue.Takes, cfg.Queue.Current,
		queue.WithLogger(log),
		queue.WithChangeHook(p.persistQueue))
	for _, path := range o.enqueue {
		p.queue.Add(path)
	}
	if o.restartQueue {
		if err := p.queue.SetCurrentIndex(queue.IndexNone); err != nil {
			return nil, err
		}
	}

	p.table = mapping.NewTable(mapping.WithLogger(log))
	if err := p.loadMappings(); err != nil {
		return nil, err
	}
	p.engine = engine.New(p.table, engine.WithLogger(log))

	p.live, err = recorder.New(
		recorder.WithLogger(log),
		recorder.WithMode(recorder.ModeLive),
		recorder.WithRig(r),
		recorder.WithTargetFilter(notTransport),
	)
	if err != nil {
		return nil, err
	}

	policy := recordPolicy(cfg, o.replay != "")
	p.rec, err = recorder.New(
		recorder.WithLogger(log),
		recorder.WithMode(recorder.ModeRecord),
		recorder.WithTimeline(tl),
		recorder.WithStartPolicy(policy),
		recorder.WithTargetFilter(notTransport),
		recorder.WithStateHook(func(from, to recorder.State) {
			log.Info("recording session state changed",
				log.Field().String("from", from.String()),
				log.Field().String("to", to.String()))
			p.signal()
		}),
	)
	if err != nil {
		return nil, err
	}

	p.transport = timeline.NewTransport(tl,
		timeline.WithTransportLogger(log),
		timeline.WithRigState(r),
		timeline.WithBakeSave(func() { p.request(timeline.TargetBakeSave) }),
		timeline.WithLoadNext(func() { p.request(timeline.TargetLoadNext) }))

	p.router = engine.NewRouter(p.engine, wire.NewDecoder(wire.WithLogger(log)),
		p.live, p.rec, p.transport,
		contracts.UpdateSinkFunc(func(contracts.ParameterUpdate) { p.signal() }))
	p.take = take.NewRecorder()
	return p, nil
}

// signal wakes the monitor without blocking the router.
func (p *pipeline) signal() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

// request hands a session action to the goroutine that owns the pipeline.
func (p *pipeline) request(action string) {
	select {
	case p.requests <- action:
	default:
		p.log.Warn("session action dropped; previous actions still pending", p.log.Field().String("action", action))
	}
}

// handle runs a session action and returns a status line.
func (p *pipeline) handle(action string) (string, error) {
	switch action {
	case timeline.TargetBakeSave:
		path, err := p.bake()
		return "timeline baked to " + path, err
	case timeline.TargetLoadNext:
		path, err := p.loadNext()
		return "loaded " + path, err
	}
	return "", fmt.Errorf("unknown session action %q", action)
}

// drain runs the pending session actions without blocking.
func (p *pipeline) drain() {
	for {
		select {
		case action := <-p.requests:
			if _, err := p.handle(action); err != nil {
				p.log.Warn("session action failed",
					p.log.Field().String("action", action),
					p.log.Field().Error("error", err))
			}
		default:
			return
		}
	}
}

func (p *pipeline) persistQueue(items []string, current int) {
	p.cfg.Queue = config.QueueConfig{Takes: items, Current: current}
	if err := p.cfg.Save(p.configPath); err != nil {
		p.log.Warn("failed to persist session queue", p.log.Field().Error("error", err))
	}
}

// loadNext advances the queue and plays the take it lands on.
func (p *pipeline) loadNext() (string, error) {
	path, ok := p.queue.Next()
	if !ok {
		return "", errQueueEmpty
	}
	packets, err := take.LoadFile(path)
	if err != nil {
		return path, fmt.Errorf("load take %s: %w", path, err)
	}
	p.current = path
	p.log.Info("take loaded",
		p.log.Field().String("path", path),
		p.log.Field().Int("index", p.queue.CurrentIndex()),
		p.log.Field().Int("packets", len(packets)))
	if p.play != nil {
		p.play(path, packets)
	}
	return path, nil
}

// bake ends the recording session and writes the timeline to the dated
// output folder.
func (p *pipeline) bake() (string, error) {
	p.rec.Stop()
	if p.timeline.KeyCount() == 0 {
		return "", errNothingRecorded
	}
	now := time.Now()
	dir, err := p.cfg.DatedOutputDir(now)
	if err != nil {
		return "", err
	}
	name := "session"
	if p.current != "" {
		name = strings.TrimSuffix(filepath.Base(p.current), filepath.Ext(p.current))
	}
	path := filepath.Join(dir, name+"-"+now.Format("150405")+".yaml")

	rev := p.timeline.Revision()
	if err := p.timeline.SaveFile(path); err != nil {
		return "", err
	}
	p.baked = rev
	p.log.Info("timeline baked",
		p.log.Field().String("path", path),
		p.log.Field().Int("keyframes", p.timeline.KeyCount()))
	return path, nil
}

// bakeOnExit bakes keyframes set since the last bake. It returns an empty
// path when there is nothing new.
func (p *pipeline) bakeOnExit() (string, error) {
	p.rec.Stop()
	if p.timeline.Revision() == p.baked {
		return "", nil
	}
	return p.bake()
}

// rebase shifts packets so the first one lands at start.
func rebase(packets []contracts.Packet, start time.Duration) []contracts.Packet {
	if len(packets) == 0 {
		return nil
	}
	shift := start - packets[0].Timestamp
	out := make([]contracts.Packet, len(packets))
	for i, pk := range packets {
		out[i] = contracts.Packet{Timestamp: pk.Timestamp + shift, Data: pk.Data}
	}
	return out
}

func (p *pipeline) store() mapping.Store {
	return mapping.Store{Dir: p.cfg.MappingDir, Ext: ".yaml"}
}

func (p *pipeline) loadMappings() error {
	var (
		doc mapping.Document
		err error
	)
	if p.mappingPath != "" {
		doc, err = mapping.LoadFile(p.mappingPath)
	} else {
		doc, err = p.store().Load(p.device, p.cfg.Rig.Name)
	}
	if err != nil {
		return err
	}
	entries, err := doc.Entries()
	if err != nil {
		return fmt.Errorf("invalid mapping document: %w", err)
	}
	if err := p.table.Load(entries); err != nil {
		return err
	}
	p.log.Info("mappings loaded",
		p.log.Field().String("device", p.device),
		p.log.Field().String("rig", p.cfg.Rig.Name),
		p.log.Field().Int("entries", len(entries)))
	if unbound := p.rig.Unbound(p.table.Snapshot()); len(unbound) > 0 {
		p.log.Debug("rig controls without a mapping", p.log.Field().String("controls", strings.Join(unbound, ",")))
	}
	return nil
}

func (p *pipeline) saveMappings() (string, error) {
	doc := mapping.NewDocument(p.device, p.cfg.Rig.Name, p.table.Entries())
	if p.mappingPath != "" {
		return p.mappingPath, doc.SaveFile(p.mappingPath)
	}
	s := p.store()
	return s.Path(p.device, p.cfg.Rig.Name), s.Save(doc)
}

// learnTargets lists what can be bound: rig controls, then transport actions.
func (p *pipeline) learnTargets() []string {
	return append(p.rig.Controls(), timeline.Targets...)
}

// armLearn binds the next incoming control to target.
func (p *pipeline) armLearn(target string) {
	p.engine.ArmLearn(func(key contracts.Key) {
		select {
		case p.learned <- learned{key: key, target: target}:
		default:
		}
	})
}

func (p *pipeline) bind(l learned) error {
	if err := p.rig.Bind(p.table, l.key, l.target); err != nil {
		return err
	}
	p.log.Info("control learned",
		p.log.Field().String("source", l.key.String()),
		p.log.Field().String("target", l.target))
	return nil
}

// toggleRecording starts a session when idle and stops it otherwise.
func (p *pipeline) toggleRecording() error {
	if p.rec.State() == recorder.Idle {
		return p.rec.Start()
	}
	p.rec.Stop()
	return nil
}

func (p *pipeline) saveTake(path string) error {
	if path == "" || p.take.Len() == 0 {
		return nil
	}
	if err := p.take.SaveFile(path); err != nil {
		return err
	}
	p.log.Info("take saved",
		p.log.Field().String("path", path),
		p.log.Field().Int("events", p.take.Len()))
	return nil
}

func defaultTakePath(cfg *config.Config) string {
	if cfg.Record.TakeDir == "" {
		return ""
	}
	return filepath.Join(cfg.Record.TakeDir, "take-"+time.Now().Format("20060102-150405")+".mid")
}
