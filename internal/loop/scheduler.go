package loop

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"presenced/internal/bus"
	"presenced/internal/clock"
	"presenced/internal/config"
	"presenced/internal/engine"
	"presenced/internal/metrics"
)

// Publisher sends a rendered payload to a topic. Satisfied by
// *bus.Client.Publish in production and a recording stub in tests.
type Publisher func(ctx context.Context, topic, payload string) error

// Recorder is the optional replay sink: every inbound event it
// receives is appended, fire-and-forget, to a durable log.
type Recorder interface {
	RecordSensor(instant time.Time, topic string, on bool)
	RecordSwitch(instant time.Time, topic string, on bool)
	RecordScene(scene string)
}

// Scheduler is the single-goroutine event loop driving one Engine. It
// owns the inbound queue and a bounded outbound queue; all outbound
// publishing happens on a separate goroutine so a slow broker never
// stalls decision-making.
type Scheduler struct {
	eng    *engine.Engine
	cfg    *config.Config
	clk    clock.Clock
	logger *zap.Logger
	mx     *metrics.Registry
	pub    Publisher
	rec    Recorder

	switchByTopic map[string]config.Switch

	inbound  chan Event
	outbound chan outboundCommand
}

type outboundCommand struct {
	topic   string
	payload string
}

// New builds a Scheduler. inboundCapacity bounds the event queue;
// outboundCapacity bounds the command queue (drop-oldest past
// capacity).
func New(eng *engine.Engine, cfg *config.Config, clk clock.Clock, logger *zap.Logger, mx *metrics.Registry, pub Publisher, rec Recorder, inboundCapacity, outboundCapacity int) *Scheduler {
	switchByTopic := make(map[string]config.Switch, len(cfg.Switches))
	for _, sw := range cfg.Switches {
		switchByTopic[sw.Topic] = sw
	}

	return &Scheduler{
		eng:           eng,
		cfg:           cfg,
		clk:           clk,
		logger:        logger,
		mx:            mx,
		pub:           pub,
		rec:           rec,
		switchByTopic: switchByTopic,
		inbound:       make(chan Event, inboundCapacity),
		outbound:      make(chan outboundCommand, outboundCapacity),
	}
}

// Enqueue submits an event to the inbound queue. It blocks only if the
// queue is full; producers (the bus subscriber, ticker, takeover
// timer) are expected to be slower than this drains.
func (s *Scheduler) Enqueue(ctx context.Context, ev Event) {
	select {
	case s.inbound <- ev:
	case <-ctx.Done():
	}
}

// Run drains the inbound queue until ctx is cancelled, processing each
// event to completion before dequeuing the next. It also starts the
// outbound publisher goroutine and blocks until both have exited.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runPublisher(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case ev := <-s.inbound:
			s.process(ev)
		}
	}
}

func (s *Scheduler) process(ev Event) {
	switch ev.Kind {
	case SensorChange:
		if ok := s.eng.HandleSensorEvent(ev.Instant, ev.Topic, rawState(ev.On)); !ok {
			s.logger.Warn("sensor event for unknown topic", zap.String("topic", ev.Topic))
			s.mx.PayloadErrors.WithLabelValues("unknown_topic").Inc()
			return
		}
		if s.rec != nil {
			s.rec.RecordSensor(ev.Instant, ev.Topic, ev.On)
		}
		s.runPlan(false)

	case SwitchChange:
		state := engine.SwitchOff
		if ev.On {
			state = engine.SwitchOn
		}
		if ok := s.eng.HandleSwitchEcho(ev.Topic, state); !ok {
			s.logger.Warn("switch echo for unknown topic", zap.String("topic", ev.Topic))
			s.mx.PayloadErrors.WithLabelValues("unknown_topic").Inc()
			return
		}
		if s.rec != nil {
			s.rec.RecordSwitch(ev.Instant, ev.Topic, ev.On)
		}
		s.runPlan(false)

	case SceneChangeEvent:
		scene, ok := s.cfg.Scenes[ev.Scene]
		if !ok {
			s.logger.Warn("scene change references unknown scene", zap.String("scene", ev.Scene))
			s.mx.PayloadErrors.WithLabelValues("unknown_scene").Inc()
			return
		}
		s.eng.ApplyScene(engine.SceneOverlay{
			Name:                scene.Name,
			Brightness:          scene.Brightness,
			DisabledSwitches:    scene.DisabledSwitches,
			EnabledSwitches:     scene.EnabledSwitches,
			IgnoredSwitches:     scene.IgnoredSwitches,
			IgnoredSensors:      scene.IgnoredSensors,
			RoomTrackingEnabled: scene.RoomTrackingEnabled,
		})
		if s.rec != nil {
			s.rec.RecordScene(ev.Scene)
		}
		s.runPlan(true)

	case Tick:
		s.runPlan(false)

	case TakeoverEvent:
		s.eng.Takeover(ev.Instant)
		s.runPlan(false)
	}
}

func rawState(on bool) engine.RawState {
	if on {
		return engine.RawPresent
	}
	return engine.RawAbsent
}

func (s *Scheduler) runPlan(ignoreCurrentState bool) {
	beforeRoom, beforeOK := s.eng.CurrentRoom()
	commands, trace := s.eng.TriggerCommands(ignoreCurrentState)
	afterRoom, afterOK := s.eng.CurrentRoom()
	if afterOK != beforeOK || afterRoom != beforeRoom {
		s.mx.CurrentRoomChange.Inc()
	}
	s.logger.Debug("planner run", zap.Int("commands", len(commands)), zap.Int("switches_considered", len(trace.Entries)))

	for _, cmd := range commands {
		sw, ok := s.switchByTopic[cmd.Topic]
		if !ok {
			continue // planner only ever names configured switches
		}
		payload, err := bus.Render(sw.Command.Template, sw.Command.OnString, sw.Command.OffString, cmd.Desired == engine.SwitchOn, cmd.Brightness)
		if err != nil {
			s.logger.Error("template render failed", zap.String("topic", cmd.Topic), zap.Error(err))
			s.mx.PayloadErrors.WithLabelValues("template_render_failure").Inc()
			continue
		}
		label := "off"
		if cmd.Desired == engine.SwitchOn {
			label = "on"
		}
		s.mx.CommandsEmitted.WithLabelValues(label).Inc()
		s.enqueueOutbound(sw.Command.SetTopic, payload)
	}
}

// enqueueOutbound drops the oldest queued command if the outbound
// channel is full, to make room for the newest.
func (s *Scheduler) enqueueOutbound(topic, payload string) {
	cmd := outboundCommand{topic: topic, payload: payload}
	select {
	case s.outbound <- cmd:
		s.mx.OutboundQueueSize.Set(float64(len(s.outbound)))
		return
	default:
	}

	select {
	case <-s.outbound:
		s.mx.OutboundQueueFull.Inc()
	default:
	}
	select {
	case s.outbound <- cmd:
	default:
	}
	s.mx.OutboundQueueSize.Set(float64(len(s.outbound)))
}

func (s *Scheduler) runPublisher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.outbound:
			s.mx.OutboundQueueSize.Set(float64(len(s.outbound)))
			if err := s.pub(ctx, cmd.topic, cmd.payload); err != nil {
				s.logger.Error("publish failed", zap.String("topic", cmd.topic), zap.Error(err))
			}
		}
	}
}

// RunInit publishes each switch's init_command once, before the
// main loop starts.
func (s *Scheduler) RunInit(ctx context.Context) {
	for _, sw := range s.cfg.Switches {
		if sw.Command.InitCommand == "" {
			continue
		}
		if err := s.pub(ctx, sw.Command.SetTopic, sw.Command.InitCommand); err != nil {
			s.logger.Error("init command publish failed", zap.String("topic", sw.Topic), zap.Error(err))
		}
	}
}
