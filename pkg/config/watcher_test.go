package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CollapsesBursts(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger(func() { calls.Add(1) })
	}

	time.Sleep(200 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("Expected 1 callback, got %d", calls.Load())
	}
}

func TestDebouncer_Stop(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Trigger(func() { calls.Add(1) })

	time.Sleep(150 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("Expected no callbacks after Stop, got %d", calls.Load())
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	defer SetConfig(nil)

	path := writeConfig(t, minimalYAML)
	reloaded := make(chan *Config, 4)

	w, err := NewWatcher(path, 20*time.Millisecond, func(cfg *Config) { reloaded <- cfg }, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()
	defer w.Stop()

	// Give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	updated := minimalYAML + "telemetry:\n  logging:\n    level: debug\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Telemetry.Logging.Level != "debug" {
			t.Errorf("Expected reloaded level debug, got %q", cfg.Telemetry.Logging.Level)
		}
		if GetConfig() != cfg {
			t.Error("Expected reloaded config to become global")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}

func TestWatcher_InvalidReloadKeepsConfig(t *testing.T) {
	defer SetConfig(nil)

	path := writeConfig(t, minimalYAML)
	reloaded := make(chan *Config, 4)

	w, err := NewWatcher(path, 20*time.Millisecond, func(cfg *Config) { reloaded <- cfg }, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("policies: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
		t.Fatal("Expected invalid configuration not to be applied")
	case <-time.After(300 * time.Millisecond):
	}
}
