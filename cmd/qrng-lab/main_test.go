package main

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	labconfig "qrng-lab/internal/config"
	labmqtt "qrng-lab/internal/mqtt"
	"qrng-lab/internal/run"
	"qrng-lab/internal/server"
	"qrng-lab/testutil"
)

type stubAPIServer struct {
	startErr  error
	started   bool
	ready     bool
	shutdowns int
}

func (s *stubAPIServer) Start() error {
	s.started = true
	return s.startErr
}

func (s *stubAPIServer) SetReady(ready bool) {
	s.ready = ready
}

func (s *stubAPIServer) Shutdown(context.Context) error {
	s.shutdowns++
	return nil
}

type stubMetricsServer struct {
	startErr  error
	started   bool
	shutdowns int
	startedCh chan struct{}
}

func (s *stubMetricsServer) Start() error {
	s.started = true
	if s.startedCh != nil {
		select {
		case s.startedCh <- struct{}{}:
		default:
		}
	}
	return s.startErr
}

func (s *stubMetricsServer) Shutdown(context.Context) error {
	s.shutdowns++
	return nil
}

type stubPublisher struct {
	connectErr   error
	connectCalls int
	closeCalls   int
	published    int
}

func (s *stubPublisher) Connect() error {
	s.connectCalls++
	return s.connectErr
}

func (s *stubPublisher) Close() {
	s.closeCalls++
}

func (s *stubPublisher) PublishRun(run.Record) {
	s.published++
}

func withStubbedDeps(t *testing.T) {
	t.Helper()
	testutil.ResetRegistryForTest(t)

	origLoadConfig := loadConfigFunc
	origNewAPIServer := newAPIServerFunc
	origNewMetricsServer := newMetricsServerFunc
	origNewPublisher := newPublisherFunc
	origSignalNotify := signalNotifyFunc
	origLogFatalf := logFatalfFunc
	origWaitForShutdown := waitForShutdownFunc

	t.Cleanup(func() {
		loadConfigFunc = origLoadConfig
		newAPIServerFunc = origNewAPIServer
		newMetricsServerFunc = origNewMetricsServer
		newPublisherFunc = origNewPublisher
		signalNotifyFunc = origSignalNotify
		logFatalfFunc = origLogFatalf
		waitForShutdownFunc = origWaitForShutdown
	})

	waitForShutdownFunc = func() {}
}

func testConfig() labconfig.Config {
	return labconfig.Config{
		Oracle: labconfig.Oracle{Backend: "sim", Seed: 1},
		Lab: labconfig.Lab{
			DefaultBitWidth: 4,
			MinBitWidth:     2,
			MaxBitWidth:     8,
			DefaultSamples:  1000,
			MinSamples:      500,
			MaxSamples:      5000,
		},
		API:         labconfig.API{Addr: "127.0.0.1:0", RateLimitRPS: 10, RateLimitBurst: 10, RetryAfterSec: 1},
		Metrics:     labconfig.Metrics{Bind: "127.0.0.1:0", Enabled: true},
		Environment: labconfig.EnvironmentDevelopment,
	}
}

func TestRunMain_HelpFlag(t *testing.T) {
	withStubbedDeps(t)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	if code := runMain([]string{"-h"}, stdout, stderr); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), "Usage of qrng-lab") {
		t.Fatalf("expected usage text in stdout, got %q", stdout.String())
	}
}

func TestRunMain_UnexpectedArgs(t *testing.T) {
	withStubbedDeps(t)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	if code := runMain([]string{"extra"}, stdout, stderr); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "unexpected arguments") {
		t.Fatalf("expected arg error in stderr, got %q", stderr.String())
	}
}

func TestRunMain_ConfigError(t *testing.T) {
	withStubbedDeps(t)

	loadConfigFunc = func() (labconfig.Config, error) {
		return labconfig.Config{}, errors.New("load failed")
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if code := runMain(nil, stdout, stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "load failed") {
		t.Fatalf("expected config error in stderr, got %q", stderr.String())
	}
}

func TestRunMain_SuccessPath(t *testing.T) {
	withStubbedDeps(t)

	cfg := testConfig()
	loadConfigFunc = func() (labconfig.Config, error) {
		return cfg, nil
	}

	metricsSrv := &stubMetricsServer{startedCh: make(chan struct{}, 1)}
	newMetricsServerFunc = func(addr string) metricsServer {
		if addr != cfg.Metrics.Bind {
			t.Fatalf("unexpected metrics bind address %q", addr)
		}
		return metricsSrv
	}

	apiSrv := &stubAPIServer{}
	newAPIServerFunc = func(addr string, runner *run.Runner, store *run.Store, opts server.Options) (apiServer, error) {
		if addr != cfg.API.Addr {
			t.Fatalf("unexpected api addr %q", addr)
		}
		if opts.DefaultBitWidth != cfg.Lab.DefaultBitWidth {
			t.Fatalf("unexpected default bit width %d", opts.DefaultBitWidth)
		}
		if runner == nil || store == nil {
			t.Fatal("runner or store is nil")
		}
		return apiSrv, nil
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if code := runMain(nil, stdout, stderr); code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", code, stderr.String())
	}

	if !apiSrv.started {
		t.Fatal("api server never started")
	}
	if !apiSrv.ready {
		t.Fatal("api server never marked ready after self-check")
	}
	if apiSrv.shutdowns != 1 {
		t.Fatalf("api server shutdowns = %d, want 1", apiSrv.shutdowns)
	}
	if metricsSrv.shutdowns != 1 {
		t.Fatalf("metrics server shutdowns = %d, want 1", metricsSrv.shutdowns)
	}
}

func TestRunMain_MetricsDisabled(t *testing.T) {
	withStubbedDeps(t)

	cfg := testConfig()
	cfg.Metrics.Enabled = false
	loadConfigFunc = func() (labconfig.Config, error) {
		return cfg, nil
	}

	newMetricsServerFunc = func(addr string) metricsServer {
		t.Fatal("metrics server constructed while disabled")
		return nil
	}
	newAPIServerFunc = func(string, *run.Runner, *run.Store, server.Options) (apiServer, error) {
		return &stubAPIServer{}, nil
	}

	if code := runMain(nil, &bytes.Buffer{}, &bytes.Buffer{}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRunMain_MQTTEnabled(t *testing.T) {
	withStubbedDeps(t)

	cfg := testConfig()
	cfg.MQTT = labconfig.MQTT{
		Enabled:   true,
		BrokerURL: "tcp://127.0.0.1:1883",
		Topic:     "qrng/runs",
	}
	loadConfigFunc = func() (labconfig.Config, error) {
		return cfg, nil
	}

	publisher := &stubPublisher{}
	newPublisherFunc = func(mc labmqtt.Config) (summaryPublisher, error) {
		if mc.BrokerURL != cfg.MQTT.BrokerURL {
			t.Fatalf("unexpected broker URL %q", mc.BrokerURL)
		}
		if mc.Topic != cfg.MQTT.Topic {
			t.Fatalf("unexpected topic %q", mc.Topic)
		}
		return publisher, nil
	}
	newAPIServerFunc = func(string, *run.Runner, *run.Store, server.Options) (apiServer, error) {
		return &stubAPIServer{}, nil
	}

	if code := runMain(nil, &bytes.Buffer{}, &bytes.Buffer{}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if publisher.connectCalls != 1 {
		t.Fatalf("publisher connects = %d, want 1", publisher.connectCalls)
	}
	if publisher.closeCalls != 1 {
		t.Fatalf("publisher closes = %d, want 1", publisher.closeCalls)
	}
}

func TestRunMain_MQTTConnectFailureIsNonFatal(t *testing.T) {
	withStubbedDeps(t)

	cfg := testConfig()
	cfg.MQTT = labconfig.MQTT{Enabled: true, BrokerURL: "tcp://127.0.0.1:1883", Topic: "qrng/runs"}
	loadConfigFunc = func() (labconfig.Config, error) {
		return cfg, nil
	}

	newPublisherFunc = func(labmqtt.Config) (summaryPublisher, error) {
		return &stubPublisher{connectErr: errors.New("broker down")}, nil
	}
	newAPIServerFunc = func(string, *run.Runner, *run.Store, server.Options) (apiServer, error) {
		return &stubAPIServer{}, nil
	}

	if code := runMain(nil, &bytes.Buffer{}, &bytes.Buffer{}); code != 0 {
		t.Fatalf("broker outage at startup must not be fatal, got exit code %d", code)
	}
}

func TestRunMain_APIStartError(t *testing.T) {
	withStubbedDeps(t)

	loadConfigFunc = func() (labconfig.Config, error) {
		return testConfig(), nil
	}
	newAPIServerFunc = func(string, *run.Runner, *run.Store, server.Options) (apiServer, error) {
		return &stubAPIServer{startErr: errors.New("port busy")}, nil
	}

	stderr := &bytes.Buffer{}
	if code := runMain(nil, &bytes.Buffer{}, stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "port busy") {
		t.Fatalf("expected start error in stderr, got %q", stderr.String())
	}
}

func TestRunMain_OneShotText(t *testing.T) {
	withStubbedDeps(t)

	loadConfigFunc = func() (labconfig.Config, error) {
		return testConfig(), nil
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if code := runMain([]string{"-generate", "-bits", "3", "-samples", "600"}, stdout, stderr); code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", code, stderr.String())
	}

	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	if len(lines) != 600 {
		t.Fatalf("one-shot txt output has %d lines, want 600", len(lines))
	}
	for _, line := range lines[:10] {
		value, err := strconv.Atoi(line)
		if err != nil {
			t.Fatalf("non-numeric output line %q", line)
		}
		if value < 0 || value > 7 {
			t.Fatalf("value %d outside 3-bit range", value)
		}
	}
}

func TestRunMain_OneShotCSV(t *testing.T) {
	withStubbedDeps(t)

	loadConfigFunc = func() (labconfig.Config, error) {
		return testConfig(), nil
	}

	stdout := &bytes.Buffer{}
	if code := runMain([]string{"-generate", "-format", "csv"}, stdout, &bytes.Buffer{}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.HasPrefix(stdout.String(), "index,value\n") {
		t.Fatalf("csv output missing header, got %q", stdout.String()[:20])
	}
}

func TestRunMain_OneShotUnknownFormat(t *testing.T) {
	withStubbedDeps(t)

	loadConfigFunc = func() (labconfig.Config, error) {
		return testConfig(), nil
	}

	stderr := &bytes.Buffer{}
	if code := runMain([]string{"-generate", "-format", "xml"}, &bytes.Buffer{}, stderr); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown format") {
		t.Fatalf("expected format error, got %q", stderr.String())
	}
}

func TestRunMain_OneShotOutOfBounds(t *testing.T) {
	withStubbedDeps(t)

	loadConfigFunc = func() (labconfig.Config, error) {
		return testConfig(), nil
	}

	stderr := &bytes.Buffer{}
	if code := runMain([]string{"-generate", "-bits", "40"}, &bytes.Buffer{}, stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "out of bounds") {
		t.Fatalf("expected bounds error, got %q", stderr.String())
	}
}
