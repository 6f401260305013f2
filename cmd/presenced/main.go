package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"presenced/internal/bus"
	"presenced/internal/clock"
	"presenced/internal/config"
	"presenced/internal/engine"
	"presenced/internal/loop"
	"presenced/internal/metrics"
	"presenced/internal/replay"
)

const tickInterval = 3 * time.Second

func main() {
	replayScript := flag.String("replay-script", "", "write every inbound message to this mosquitto_pub replay script")
	replayConfig := flag.String("replay-config", "", "write the frozen, validated configuration here (required with --replay-script)")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics and /healthz on this address, e.g. :9090")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: presenced [flags] config.json")
		os.Exit(1)
	}
	configPath := flag.Arg(0)

	logger, err := buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file found, using environment variables")
	}

	brokerURL := os.Getenv("MQTT_BROKER_URL")
	if brokerURL == "" {
		logger.Fatal("MQTT_BROKER_URL environment variable must be set")
	}
	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = "presenced-" + uuid.NewString()
	}

	cfg, err := config.NewLoader(configPath, logger).Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if (*replayScript == "") != (*replayConfig == "") {
		logger.Fatal("--replay-script and --replay-config must be set together")
	}

	clk := clock.NewRealClock()
	eng := buildEngine(cfg, clk)
	reg := prometheus.NewRegistry()
	mx := metrics.NewRegistry(reg)

	client := bus.NewClient(bus.Config{
		BrokerURL: brokerURL,
		ClientID:  clientID,
		Username:  os.Getenv("MQTT_USERNAME"),
		Password:  os.Getenv("MQTT_PASSWORD"),
	}, logger)

	var recorder *replay.Recorder
	if *replayScript != "" {
		replayHost := brokerURL
		if u, err := url.Parse(brokerURL); err == nil && u.Hostname() != "" {
			replayHost = u.Hostname()
		}
		recorder, err = replay.New(*replayScript, *replayConfig, cfg, replayHost, os.Getenv("MQTT_USERNAME"), os.Getenv("MQTT_PASSWORD"))
		if err != nil {
			logger.Fatal("failed to start replay recorder", zap.Error(err))
		}
		defer recorder.Close()
		logger.Info("replay recording enabled", zap.String("script", *replayScript), zap.String("config", *replayConfig))
	}

	sched := loop.New(eng, cfg, clk, logger, mx, client.Publish, recorderOrNil(recorder), 256, 256)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topics := subscriptionTopics(cfg)
	client.Subscribe(topics, routeInbound(ctx, sched, cfg, logger, mx))

	go func() {
		if err := client.Start(ctx); err != nil {
			logger.Error("mqtt client stopped", zap.Error(err))
		}
	}()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connectCancel()
	if err := client.AwaitConnection(connectCtx); err != nil {
		logger.Fatal("failed to connect to mqtt broker", zap.Error(err))
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: metrics.Handler(reg)}
		go func() {
			logger.Info("metrics endpoint listening", zap.String("addr", *metricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	sched.RunInit(ctx)

	go sched.Run(ctx)

	go runTicker(ctx, sched, clk)
	scheduleTakeover(ctx, sched, eng, cfg, clk)

	logger.Info("presenced running",
		zap.Int("sensors", len(cfg.Sensors)),
		zap.Int("switches", len(cfg.Switches)),
		zap.Duration("max_sensor_delay", eng.MaxSensorDelay()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	if err := client.Stop(shutdownCtx); err != nil {
		logger.Warn("error disconnecting from mqtt broker", zap.Error(err))
	}
}

func buildLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", raw, err)
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func buildEngine(cfg *config.Config, clk clock.Clock) *engine.Engine {
	sensors := make([]engine.SensorSpec, 0, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		sensors = append(sensors, engine.SensorSpec{Topic: s.Topic, Room: s.Room, Delay: s.Delay})
	}
	switches := make([]engine.SwitchSpec, 0, len(cfg.Switches))
	for _, sw := range cfg.Switches {
		switches = append(switches, engine.SwitchSpec{Topic: sw.Topic, Rooms: sw.Rooms, Delay: sw.Delay})
	}
	return engine.New(sensors, switches, clk)
}

func subscriptionTopics(cfg *config.Config) []string {
	topics := make([]string, 0, len(cfg.Sensors)+len(cfg.Switches)+1)
	for _, s := range cfg.Sensors {
		topics = append(topics, s.Topic)
	}
	for _, sw := range cfg.Switches {
		if sw.Command.ReportTopic != "" {
			topics = append(topics, sw.Command.ReportTopic)
		}
	}
	if cfg.ControlTopic != "" {
		topics = append(topics, cfg.ControlTopic)
	}
	return topics
}

// routeInbound builds the bus.Handler that classifies an inbound
// message by topic and turns it into the matching loop.Event.
func routeInbound(ctx context.Context, sched *loop.Scheduler, cfg *config.Config, logger *zap.Logger, mx *metrics.Registry) bus.Handler {
	sensorByTopic := make(map[string]config.Sensor, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		sensorByTopic[s.Topic] = s
	}
	switchByReportTopic := make(map[string]config.Switch, len(cfg.Switches))
	for _, sw := range cfg.Switches {
		if sw.Command.ReportTopic != "" {
			switchByReportTopic[sw.Command.ReportTopic] = sw
		}
	}

	return func(topic string, payload []byte) {
		now := time.Now()

		if sensor, ok := sensorByTopic[topic]; ok {
			on, err := bus.Decode(payload, sensor.Key, sensor.InvertState)
			if err != nil {
				logger.Warn("sensor payload decode failed", zap.String("topic", topic), zap.Error(err))
				mx.PayloadErrors.WithLabelValues("decode_failure").Inc()
				return
			}
			sched.Enqueue(ctx, loop.Event{Kind: loop.SensorChange, Instant: now, Topic: topic, On: on})
			return
		}

		if sw, ok := switchByReportTopic[topic]; ok {
			on, err := bus.Decode(payload, sw.Key, false)
			if err != nil {
				logger.Warn("switch echo decode failed", zap.String("topic", topic), zap.Error(err))
				mx.PayloadErrors.WithLabelValues("decode_failure").Inc()
				return
			}
			sched.Enqueue(ctx, loop.Event{Kind: loop.SwitchChange, Instant: now, Topic: sw.Topic, On: on})
			return
		}

		if topic == cfg.ControlTopic {
			scene, err := bus.DecodeSceneChange(payload)
			if err != nil {
				logger.Warn("scene change decode failed", zap.Error(err))
				mx.PayloadErrors.WithLabelValues("decode_failure").Inc()
				return
			}
			if scene == "" {
				return
			}
			sched.Enqueue(ctx, loop.Event{Kind: loop.SceneChangeEvent, Instant: now, Scene: scene})
		}
	}
}

func runTicker(ctx context.Context, sched *loop.Scheduler, clk clock.Clock) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sched.Enqueue(ctx, loop.Event{Kind: loop.Tick, Instant: clk.Now()})
		}
	}
}

// scheduleTakeover fires exactly once, max_sensor_delay + takeover
// grace after startup, converting any sensor that never reported in
// to absent.
func scheduleTakeover(ctx context.Context, sched *loop.Scheduler, eng *engine.Engine, cfg *config.Config, clk clock.Clock) {
	delay := eng.MaxSensorDelay() + cfg.TakeoverGrace
	clk.AfterFunc(delay, func() {
		sched.Enqueue(ctx, loop.Event{Kind: loop.TakeoverEvent, Instant: clk.Now()})
	})
}

func recorderOrNil(r *replay.Recorder) loop.Recorder {
	if r == nil {
		return nil
	}
	return r
}
