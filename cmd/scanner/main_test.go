package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbguard-appscan/internal/domain/models"
)

const snapshot = `{
  "device": "pixel-test",
  "packages": [
    {
      "package_name": "com.example.chatter",
      "display_name": "Chatter Social",
      "requested_permissions": [
        "android.permission.CAMERA",
        "android.permission.ACCESS_FINE_LOCATION",
        "android.permission.RECORD_AUDIO",
        "android.permission.READ_CONTACTS"
      ],
      "is_enabled": true,
      "has_launcher_activity": true
    },
    {
      "package_name": "com.example.notes",
      "display_name": "Notes",
      "requested_permissions": ["android.permission.INTERNET"],
      "is_enabled": true,
      "has_launcher_activity": true
    },
    {
      "package_name": "com.google.android.gms",
      "display_name": "Google Play services",
      "is_system_app": true,
      "is_enabled": true,
      "has_launcher_activity": true
    }
  ]
}`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// useFlags sets the persistent flag values for one test
func useFlags(t *testing.T, fixture, output string) {
	t.Helper()
	configFile, fixturePath, logLevel, outputFormat = "", fixture, "error", output
	t.Cleanup(func() {
		configFile, fixturePath, logLevel, outputFormat = "", "", "warn", "table"
	})
}

func TestScanCommand_JSON(t *testing.T) {
	useFlags(t, writeTemp(t, "apps.json", snapshot), "json")

	cmd := scanCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	var result models.ScanResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, models.ScanTriggerManual, result.Trigger)
	assert.Equal(t, 3, result.Counts.Total)
	assert.Equal(t, 2, result.Counts.Analyzed)
	assert.Equal(t, 1, result.Counts.Dropped[models.DropSystemBackground])

	require.Len(t, result.Apps, 2)
	assert.Equal(t, "com.example.chatter", result.Apps[0].PackageName)
	assert.Equal(t, models.RiskTierCritical, result.Apps[0].Assessment.Tier)
	assert.Equal(t, "com.example.notes", result.Apps[1].PackageName)
}

func TestScanCommand_FeedbackAndMinTier(t *testing.T) {
	useFlags(t, writeTemp(t, "apps.json", snapshot), "json")
	legacy := writeTemp(t, "feedback.txt", "com.example.chatter:TRUSTED:25:0.9:1700000000000\n")

	cmd := scanCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--feedback", legacy, "--min-tier", "high"})
	require.NoError(t, cmd.Execute())

	var result models.ScanResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	require.Len(t, result.Apps, 1)

	app := result.Apps[0]
	assert.Equal(t, 75, app.Assessment.Score)
	assert.Equal(t, models.RiskTierHigh, app.Assessment.Tier)
	require.NotNil(t, app.Feedback)
	assert.Equal(t, models.FeedbackTrusted, app.Feedback.Type)
}

func TestScanCommand_InvalidTier(t *testing.T) {
	useFlags(t, writeTemp(t, "apps.json", snapshot), "json")

	cmd := scanCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--min-tier", "severe"})
	assert.ErrorContains(t, cmd.Execute(), `invalid tier "severe"`)
}

func TestScanCommand_RequiresSnapshot(t *testing.T) {
	useFlags(t, "", "table")

	cmd := scanCmd()
	cmd.SetArgs([]string{})
	assert.ErrorContains(t, cmd.Execute(), "no snapshot given")
}

func TestAnalyzeCommand_Table(t *testing.T) {
	useFlags(t, writeTemp(t, "apps.json", snapshot), "table")

	cmd := analyzeCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"com.example.notes"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "SCORE")
	assert.Contains(t, out.String(), "com.example.notes")
	assert.Contains(t, out.String(), string(models.RiskTierMinimal))
}

func TestAnalyzeCommand_UnknownPackage(t *testing.T) {
	useFlags(t, writeTemp(t, "apps.json", snapshot), "table")

	cmd := analyzeCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"com.example.missing"})
	assert.ErrorContains(t, cmd.Execute(), "package com.example.missing is not in the snapshot")
}
