package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pondcore/internal/core"
	"pondcore/pkg/domain"
)

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := core.NewExpvarMetricsRecorder("")
	ctx := context.Background()

	rec.Observe(ctx, "generate_snapshots", true, 250*time.Millisecond)
	rec.Observe(ctx, "generate_snapshots", true, 150*time.Millisecond)
	rec.Observe(ctx, "generate_snapshots", false, 50*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second) // ignored

	snap := rec.Snapshot()
	if snap.DurationsMS["generate_snapshots"] != 450 {
		t.Fatalf("expected 450 ms total, got %v", snap.DurationsMS["generate_snapshots"])
	}
	results := snap.Results["generate_snapshots"]
	if results["success"] != 2 || results["error"] != 1 {
		t.Fatalf("unexpected result counters: %v", results)
	}
	if rec.Name() == "" {
		t.Fatalf("expected generated expvar name")
	}
}

func TestJSONTracerRecordsSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := core.NewJSONTracer(&buf)

	_, span := tracer.Start(context.Background(), "record_sample_session")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "generate_snapshots")
	span.End(errors.New("store down"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(entries))
	}
	if entries[0].Operation != "record_sample_session" || entries[0].Status != "success" {
		t.Fatalf("unexpected first span: %+v", entries[0])
	}
	if entries[1].Status != "error" || entries[1].Error != "store down" {
		t.Fatalf("unexpected second span: %+v", entries[1])
	}

	dec := json.NewDecoder(&buf)
	var lines int
	for dec.More() {
		var entry core.JSONTraceEntry
		if err := dec.Decode(&entry); err != nil {
			t.Fatalf("decode trace line: %v", err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 encoded lines, got %d", lines)
	}
}

func TestServiceObservesOperations(t *testing.T) {
	rec := core.NewExpvarMetricsRecorder("")
	tracer := core.NewJSONTracer(nil)
	svc, _ := newServiceHarness(t, core.WithMetricsRecorder(rec), core.WithTracer(tracer))
	ctx := context.Background()

	if _, _, err := svc.CreatePond(ctx, domain.Pond{Name: "Pond 7", AreaM2: 540, Active: true}); err != nil {
		t.Fatalf("create pond: %v", err)
	}
	if _, _, err := svc.CreatePond(ctx, domain.Pond{Name: "Bad", AreaM2: -1}); err == nil {
		t.Fatalf("expected validation failure")
	}

	snap := rec.Snapshot()
	results := snap.Results["create_pond"]
	if results["success"] != 1 || results["error"] != 1 {
		t.Fatalf("expected one success and one error observed, got %v", results)
	}

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Operation != "create_pond" {
			t.Fatalf("unexpected span operation %q", entry.Operation)
		}
	}
}
