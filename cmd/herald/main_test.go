package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/xraph/herald/config"
)

func TestRootCmd_HasCommands(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"serve"}, {"migrate"}, {"purge"}, {"dlq", "list"}, {"dlq", "replay"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd == root {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestDLQReplay_RequiresOneArg(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"dlq", "replay"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an argument error")
	}
}

func TestDLQReplay_RejectsBadID(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"dlq", "replay", "job_not_a_dlq_id"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid entry id") {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenBackend_Memory(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{"HERALD_QUEUE_BACKEND": "memory"})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	be, err := openBackend(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer be.Close() //nolint:errcheck // test

	if err := be.migrate(context.Background()); err != nil {
		t.Errorf("migrate: %v", err)
	}
	if err := be.ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}
