package obslog

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceRestores(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := Replace(zap.New(core))
	L().Info("game_created", zap.String("game_id", "g1"))
	restore()
	L().Info("dropped")
	if logs.Len() != 1 {
		t.Fatalf("expected 1 captured entry, got %d", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["game_id"]; got != "g1" {
		t.Fatalf("game_id field = %v", got)
	}
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "test.log")
	restore := Replace(L())
	defer restore()
	if err := Init(Options{Level: "debug", Format: "json", File: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	L().Debug("hello")
	Sync()
	if L() == nil {
		t.Fatalf("logger not installed")
	}
}
