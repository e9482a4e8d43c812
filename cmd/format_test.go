package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/governor/internal/model"
)

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("12345678-abcd-efgh"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatJobsList(t *testing.T) {
	var buf bytes.Buffer
	formatJobsList(&buf, []model.GenerationJob{
		{
			ID:                 "aaaaaaaa-1111",
			State:              model.JobStateCompleted,
			RetryCount:         1,
			MaxRetries:         3,
			AccumulatedCostUSD: 0.0123,
			UpdatedAt:          time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		},
	})

	out := buf.String()
	assert.Contains(t, out, "STATE")
	assert.Contains(t, out, "aaaaaaaa")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "1/3")
	assert.Contains(t, out, "0.0123")
}

func TestFormatAuditList(t *testing.T) {
	var buf bytes.Buffer
	formatAuditList(&buf, []model.AuditEvent{
		{
			Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
			EventType: model.AuditStateTransition,
			Actor:     "engine",
			Outcome:   "applied",
			JobID:     "bbbbbbbb-2222",
		},
	})

	out := buf.String()
	assert.Contains(t, out, "state_transition")
	assert.Contains(t, out, "engine")
	assert.Contains(t, out, "bbbbbbbb")
}

func TestFormatSiloList(t *testing.T) {
	var buf bytes.Buffer
	formatSiloList(&buf, []model.Silo{
		{ID: "cccccccc-3333", Name: "services", Topic: "heating", CreatedAt: time.Now()},
	})

	out := buf.String()
	assert.Contains(t, out, "services")
	assert.Contains(t, out, "heating")
}

func TestCollectSignals(t *testing.T) {
	artifacts := []model.Artifact{
		{
			ID:              "a1",
			Path:            "/complete",
			Body:            "# Heading\n\nbody",
			MetaDescription: "meta",
			Status:          model.StatusPublished,
			AuthorityScore:  0.9,
		},
		{
			ID:   "a2",
			Path: "/bare",
			Body: "no heading here",
		},
	}

	issues, bonuses := collectSignals(artifacts)

	kinds := make(map[string]int)
	for _, i := range issues {
		kinds[i.Kind]++
	}
	// Both bodies are thin; only the bare one misses its H1 and meta.
	assert.Equal(t, 2, kinds["thin_content"])
	assert.Equal(t, 1, kinds["missing_h1"])
	assert.Equal(t, 1, kinds["missing_meta_description"])

	require.Len(t, bonuses, 1)
	assert.Equal(t, "high_authority:/complete", bonuses[0].Name)
}

func TestReadArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"site_id":"site-1","path":"/guides/x","title":"X"}`), 0o600))

	a, err := readArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, "site-1", a.SiteID)
	assert.Equal(t, "/guides/x", a.Path)

	_, err = readArtifact(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
