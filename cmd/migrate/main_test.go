package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"tracketl/internal/loader"
	"tracketl/internal/metrics"
	"tracketl/internal/metrics/datadog"
	"tracketl/internal/migrate"
	"tracketl/internal/schema"
)

// fakeMigrator records the migration config it received and returns a
// canned summary or error. Concurrency-safe so tests can run with -race.
type fakeMigrator struct {
	sum   migrate.Summary
	err   error
	calls atomic.Int64

	mu     sync.Mutex
	lastM  migrate.Migration
	gotCfg bool
}

func (f *fakeMigrator) Run(ctx context.Context, m migrate.Migration) (migrate.Summary, error) {
	_ = ctx
	f.calls.Add(1)
	f.mu.Lock()
	f.lastM = m
	f.gotCfg = true
	f.mu.Unlock()
	if f.err != nil {
		return migrate.Summary{}, f.err
	}
	return f.sum, nil
}

// fakeDDBackend satisfies ddBackend without touching the network.
type fakeDDBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeDDBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *fakeDDBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *fakeDDBackend) Flush() error                                     { return nil }
func (b *fakeDDBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

func noopInitMetrics(context.Context, string, string) (func(), error) {
	return func() {}, nil
}

func TestRunMain_UsageErrors(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{
			name:          "no_source",
			args:          []string{},
			wantStderrSub: "either -csv or -src-kind is required",
		},
		{
			name:          "both_sources",
			args:          []string{"-csv", "tracks.csv", "-src-kind", "sqlite"},
			wantStderrSub: "mutually exclusive",
		},
		{
			name:          "unknown_flag",
			args:          []string{"-nope"},
			wantStderrSub: "flag provided but not defined",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer

			code := runMain(context.Background(), tc.args, &stdout, &stderr, appDeps{
				runMigration: func(context.Context, migrate.Migration) (migrate.Summary, error) {
					t.Fatalf("runMigration must not be called on usage errors")
					return migrate.Summary{}, nil
				},
				initMetrics: func(context.Context, string, string) (func(), error) {
					t.Fatalf("initMetrics must not be called on usage errors")
					return func() {}, nil
				},
			})

			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_FullFlow(t *testing.T) {
	sum := migrate.Summary{
		Source: "csv:tracks.csv",
		Table:  "tracks",
		Schema: schema.Schema{Columns: []schema.Column{
			{Name: "track_name", Type: schema.Text},
			{Name: "popularity", Type: schema.Integer},
		}},
		Load: loader.Result{Attempted: 10, Succeeded: 9, Failed: 1, Errors: []*loader.RowError{
			{Row: 4, Column: "popularity", Err: errors.New("not an integer")},
		}},
	}

	tests := []struct {
		name             string
		initMetricsErr   error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdoutSub    string
		wantRunCalls     int64
		wantCleanupCalls int64
	}{
		{
			name:             "init_metrics_error",
			initMetricsErr:   errors.New("metrics unavailable"),
			wantCode:         1,
			wantStderrSub:    "init metrics:",
			wantRunCalls:     0,
			wantCleanupCalls: 0,
		},
		{
			name:             "migration_error_runs_cleanup",
			runErr:           errors.New("provision failed"),
			wantCode:         1,
			wantStderrSub:    "migrate:",
			wantRunCalls:     1,
			wantCleanupCalls: 1,
		},
		{
			name:             "success",
			wantCode:         0,
			wantStdoutSub:    "succeeded: 9",
			wantRunCalls:     1,
			wantCleanupCalls: 1,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			fm := &fakeMigrator{sum: sum, err: tc.runErr}

			var cleanupCalls atomic.Int64
			deps := appDeps{
				runMigration: fm.Run,
				initMetrics: func(_ context.Context, jobName, backendName string) (func(), error) {
					if jobName != "track_migrate" {
						t.Fatalf("jobName=%q, want %q", jobName, "track_migrate")
					}
					if backendName != "none" {
						t.Fatalf("backendName=%q, want %q", backendName, "none")
					}
					if tc.initMetricsErr != nil {
						return func() {}, tc.initMetricsErr
					}
					return func() { cleanupCalls.Add(1) }, nil
				},
			}

			args := []string{
				"-csv", "tracks.csv",
				"-dest-kind", "sqlite",
				"-dest-dsn", "out.db",
				"-dest-table", "tracks",
				"-batch-size", "500",
				"-metrics-backend", "none",
			}
			code := runMain(context.Background(), args, &stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if tc.wantStdoutSub != "" && !strings.Contains(stdout.String(), tc.wantStdoutSub) {
				t.Fatalf("stdout=%q, want contains %q", stdout.String(), tc.wantStdoutSub)
			}
			if got := fm.calls.Load(); got != tc.wantRunCalls {
				t.Fatalf("runMigration calls=%d, want %d", got, tc.wantRunCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}

			if tc.wantCode == 0 {
				fm.mu.Lock()
				m := fm.lastM
				fm.mu.Unlock()
				if m.Dest.Kind != "sqlite" || m.Dest.DSN != "out.db" {
					t.Fatalf("dest=%+v, want sqlite/out.db", m.Dest)
				}
				if m.Table != "tracks" || m.BatchSize != 500 {
					t.Fatalf("table=%q batch=%d, want tracks/500", m.Table, m.BatchSize)
				}
				if got := stdout.String(); !strings.Contains(got, "skipped row 4: column popularity") {
					t.Fatalf("stdout=%q, want row error report", got)
				}
			}
		})
	}
}

func TestRunMain_PrintsSchemaAndSource(t *testing.T) {
	var stdout, stderr bytes.Buffer
	fm := &fakeMigrator{sum: migrate.Summary{
		Source: "sqlite:tracks",
		Table:  "tracks_copy",
		Schema: schema.Schema{Columns: []schema.Column{
			{Name: "track_id", Type: schema.Text},
			{Name: "explicit", Type: schema.Bool},
		}},
	}}

	code := runMain(context.Background(),
		[]string{"-src-kind", "sqlite", "-src-dsn", "in.db", "-metrics-backend", "none"},
		&stdout, &stderr,
		appDeps{runMigration: fm.Run, initMetrics: noopInitMetrics})
	if code != 0 {
		t.Fatalf("exit code=%d, stderr=%q", code, stderr.String())
	}

	out := stdout.String()
	for _, want := range []string{
		"source:    sqlite:tracks",
		"table:     tracks_copy",
		"schema:    track_id:text, explicit:boolean",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout=%q, want contains %q", out, want)
		}
	}
}

func TestBuildSource(t *testing.T) {
	t.Run("csv", func(t *testing.T) {
		src, err := buildSource("tracks.csv", "", "", "tracks")
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got := src.Describe(); got != "csv:tracks.csv" {
			t.Fatalf("Describe()=%q, want %q", got, "csv:tracks.csv")
		}
	})

	t.Run("table", func(t *testing.T) {
		src, err := buildSource("", "mysql", "user@/spotify", "tracks")
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got := src.Describe(); got != "mysql:tracks" {
			t.Fatalf("Describe()=%q, want %q", got, "mysql:tracks")
		}
	})
}

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()

	setMetricsBackend = func(metrics.Backend) {
		t.Fatalf("setMetricsBackend must not be called for none")
	}

	cleanup, err := initMetrics(context.Background(), "job", "")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	b := &fakeDDBackend{}

	var (
		newCalls atomic.Int64
		setCalls atomic.Int64
		gotOpts  datadog.Options
	)

	oldNew := newDatadogBackend
	oldSet := setMetricsBackend
	oldLog := logPrintf
	defer func() {
		newDatadogBackend = oldNew
		setMetricsBackend = oldSet
		logPrintf = oldLog
	}()

	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (ddBackend, error) {
		_ = ctx
		newCalls.Add(1)
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(metrics.Backend) { setCalls.Add(1) }

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) {
		fmt.Fprintf(&logged, format, v...)
	}

	cleanup, err := initMetrics(context.Background(), "jobA", "datadog")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}

	if gotOpts.JobName != "jobA" {
		t.Fatalf("datadog options JobName=%q, want %q", gotOpts.JobName, "jobA")
	}
	if newCalls.Load() != 1 {
		t.Fatalf("newDatadogBackend calls=%d, want 1", newCalls.Load())
	}
	if setCalls.Load() != 1 {
		t.Fatalf("setMetricsBackend calls=%d, want 1", setCalls.Load())
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	b := &fakeDDBackend{closeErr: errors.New("flush failed")}

	oldNew := newDatadogBackend
	oldSet := setMetricsBackend
	oldLog := logPrintf
	defer func() {
		newDatadogBackend = oldNew
		setMetricsBackend = oldSet
		logPrintf = oldLog
	}()

	newDatadogBackend = func(context.Context, datadog.Options) (ddBackend, error) { return b, nil }
	setMetricsBackend = func(metrics.Backend) {}

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) {
		fmt.Fprintf(&logged, format, v...)
	}

	cleanup, err := initMetrics(context.Background(), "job", "datadog")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	cleanup()

	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if !strings.Contains(logged.String(), "metrics: datadog close error") {
		t.Fatalf("log=%q, want contains close error prefix", logged.String())
	}
	if !strings.Contains(logged.String(), "flush failed") {
		t.Fatalf("log=%q, want contains underlying error", logged.String())
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), "job", "nope")
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()

	if !strings.Contains(err.Error(), "unknown metrics backend") {
		t.Fatalf("err=%q, want contains %q", err.Error(), "unknown metrics backend")
	}
}
