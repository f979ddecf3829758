package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("BRIDGE_BUFFER_MAX_SIZE")
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Buffer.MaxSize != 10000 {
		t.Fatalf("expected default max_size 10000, got %d", cfg.Buffer.MaxSize)
	}
	if cfg.PubSub.URL == "" {
		t.Fatalf("expected default pubsub url")
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Buffer.MaxSize = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for buffer.max_size <= 0")
	}

	cfg = defaultConfig()
	cfg.Buffer.WorkerThreads = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for buffer.worker_threads <= 0")
	}

	cfg = defaultConfig()
	cfg.Monitoring.ArchiveBackend = "tape"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown archive_backend")
	}
}

func TestValidateRejectsUnknownMappingEnums(t *testing.T) {
	cfg := defaultConfig()
	cfg.Mappings = []MappingEntry{{
		ID: "m1", SourceSide: "pubsub", SourceAddress: "sensors/a",
		DestinationSide: "variable", DestinationAddress: "ns=2;s=A",
		DataType: "Flaot", Direction: "A->B", Priority: "normal",
	}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown data_type")
	}

	cfg.Mappings[0].DataType = "Float"
	cfg.Mappings[0].Direction = "sideways"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown direction")
	}
}

func TestValidateAllowsDuplicateMappingAddresses(t *testing.T) {
	cfg := defaultConfig()
	cfg.Mappings = []MappingEntry{
		{ID: "m1", SourceSide: "pubsub", SourceAddress: "a/b", DestinationSide: "variable", DestinationAddress: "n1", DataType: "Float", Direction: "A->B", Priority: "normal"},
		{ID: "m2", SourceSide: "pubsub", SourceAddress: "a/b", DestinationSide: "enterprise", DestinationAddress: "/res", DataType: "Float", Direction: "A->B", Priority: "normal"},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("duplicate mapping addresses must only warn, got error: %v", err)
	}
}
