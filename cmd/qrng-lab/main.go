package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	labconfig "qrng-lab/internal/config"
	"qrng-lab/internal/export"
	labmqtt "qrng-lab/internal/mqtt"
	"qrng-lab/internal/metrics"
	"qrng-lab/internal/oracle"
	"qrng-lab/internal/run"
	"qrng-lab/internal/server"

	"github.com/joho/godotenv"
)

// warmupBitWidth and warmupSamples size the startup self-check: a tiny
// generation that proves the backend produces well-formed frequency maps
// before the API reports ready.
const (
	warmupBitWidth = 2
	warmupSamples  = 16
)

var (
	loadConfigFunc   = labconfig.Load
	newAPIServerFunc = func(addr string, runner *run.Runner, store *run.Store, opts server.Options) (apiServer, error) {
		return server.NewHTTPServer(addr, runner, store, opts)
	}
	newMetricsServerFunc = func(addr string) metricsServer {
		return metrics.NewServer(addr)
	}
	newPublisherFunc = func(cfg labmqtt.Config) (summaryPublisher, error) {
		return labmqtt.NewPublisher(cfg)
	}
	signalNotifyFunc    = signal.Notify
	logFatalfFunc       = log.Fatalf
	waitForShutdownFunc = waitForShutdown
)

type apiServer interface {
	Start() error
	SetReady(bool)
	Shutdown(context.Context) error
}

type metricsServer interface {
	Start() error
	Shutdown(context.Context) error
}

type summaryPublisher interface {
	Connect() error
	Close()
	PublishRun(record run.Record)
}

func main() {
	os.Exit(runMain(os.Args[1:], os.Stdout, os.Stderr))
}

func runMain(args []string, stdout io.Writer, stderr io.Writer) int {
	if err := godotenv.Overload(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("dotenv: %v", err)
	}

	flags := flag.NewFlagSet("qrng-lab", flag.ContinueOnError)
	flags.SetOutput(stderr)
	oneShot := flags.Bool("generate", false, "run one generation, write the export to stdout, and exit")
	bits := flags.Int("bits", 0, "bit width for -generate (defaults to LAB_DEFAULT_BITS)")
	samples := flags.Int("samples", 0, "sample count for -generate (defaults to LAB_DEFAULT_SAMPLES)")
	format := flags.String("format", "txt", "export format for -generate: txt or csv")
	flags.Usage = func() {
		_, _ = fmt.Fprintf(stdout, "Usage of %s:\n", flags.Name())
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flags.Usage()
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "parse flags: %v\n", err)
		return 2
	}

	if flags.NArg() > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", flags.Args())
		flags.Usage()
		return 2
	}

	config, err := loadConfigFunc()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	log.Printf("environment: %s", config.Environment)

	backend := oracle.NewSimulator(config.Oracle.Seed)
	store := run.NewStore()
	bounds := run.Bounds{
		MinBitWidth: config.Lab.MinBitWidth,
		MaxBitWidth: config.Lab.MaxBitWidth,
		MinSamples:  config.Lab.MinSamples,
		MaxSamples:  config.Lab.MaxSamples,
	}

	if *oneShot {
		runner := run.NewRunner(backend, store, bounds)
		return runOneShot(runner, config, *bits, *samples, *format, stdout, stderr)
	}

	var metricsSrv metricsServer
	if config.Metrics.Enabled {
		metricsSrv = newMetricsServerFunc(config.Metrics.Bind)
		go func() {
			if err := metricsSrv.Start(); err != nil {
				logFatalfFunc("metrics: failed to start server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics: shutdown error: %v", err)
			}
		}()
	}

	runnerOpts := []run.Option{}
	var publisher summaryPublisher
	if config.MQTT.Enabled {
		publisher, err = newPublisherFunc(labmqtt.Config{
			BrokerURL: config.MQTT.BrokerURL,
			Topic:     config.MQTT.Topic,
			ClientID:  config.MQTT.ClientID,
			QoS:       config.MQTT.QoS,
			Username:  config.MQTT.Username,
			Password:  config.MQTT.Password,
			TLSCAFile: config.MQTT.TLSCAFile,
		})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "mqtt init: %v\n", err)
			return 1
		}
		if err := publisher.Connect(); err != nil {
			// Auto-reconnect recovers once the broker returns; runs completed
			// in the meantime are simply not mirrored.
			log.Printf("mqtt: initial connect failed: %v (continuing, will retry)", err)
		}
		defer publisher.Close()
		runnerOpts = append(runnerOpts, run.WithPublisher(publisher))
	}

	runner := run.NewRunner(backend, store, bounds, runnerOpts...)

	apiSrv, err := newAPIServerFunc(config.API.Addr, runner, store, server.Options{
		DefaultBitWidth:   config.Lab.DefaultBitWidth,
		DefaultSamples:    config.Lab.DefaultSamples,
		AllowPublic:       config.API.AllowPublic,
		RateLimitRPS:      config.API.RateLimitRPS,
		RateLimitBurst:    config.API.RateLimitBurst,
		RetryAfterSeconds: config.API.RetryAfterSec,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "start api server: %v\n", err)
		return 1
	}

	if err := apiSrv.Start(); err != nil {
		_, _ = fmt.Fprintf(stderr, "start api server: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("api: shutdown error: %v", err)
		}
	}()

	if err := warmup(backend); err != nil {
		_, _ = fmt.Fprintf(stderr, "oracle self-check: %v\n", err)
		return 1
	}
	apiSrv.SetReady(true)
	log.Println("qrng-lab: ready, accepting generation requests...")

	waitForShutdownFunc()
	return 0
}

// runOneShot executes a single pipeline run and writes the chosen export to
// stdout, for scripted use without the HTTP server.
func runOneShot(runner *run.Runner, config labconfig.Config, bits, samples int, format string, stdout, stderr io.Writer) int {
	if bits == 0 {
		bits = config.Lab.DefaultBitWidth
	}
	if samples == 0 {
		samples = config.Lab.DefaultSamples
	}

	record, err := runner.Generate(context.Background(), bits, samples)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "generate: %v\n", err)
		return 1
	}

	var body string
	switch format {
	case "txt":
		body = export.Text(record.Sequence)
	case "csv":
		body = export.CSV(record.Sequence)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown format %q (want txt or csv)\n", format)
		return 2
	}

	if _, err := fmt.Fprintln(stdout, body); err != nil {
		_, _ = fmt.Fprintf(stderr, "write export: %v\n", err)
		return 1
	}
	return 0
}

// warmup runs a tiny generation against the backend and validates the
// frequency map invariant (counts sum to the requested shots) before the
// service reports ready.
func warmup(backend oracle.Oracle) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	frequencies, err := backend.Generate(ctx, warmupBitWidth, warmupSamples)
	if err != nil {
		return err
	}

	if total := frequencies.Total(); total != warmupSamples {
		return fmt.Errorf("frequency counts sum to %d, want %d", total, warmupSamples)
	}
	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM is received. Subsystem
// teardown happens in the callers' deferred shutdown calls.
func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signalNotifyFunc(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutting down gracefully...")
}
