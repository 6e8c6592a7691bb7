package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAutosaveSetOption(t *testing.T) {
	data := `
[debounce]
min_threshold_us: 100
max_threshold_us: 50000
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	ac := NewAutosaveConfig(cfg, "")

	// Set new option
	err = ac.SetOption("debounce", "default_threshold_us", "742")
	if err != nil {
		t.Fatalf("SetOption failed: %v", err)
	}

	// Verify change tracked
	if !ac.HasChanges() {
		t.Error("expected HasChanges to return true")
	}

	modified := ac.GetModifiedSections()
	if len(modified) != 1 || modified[0] != "debounce" {
		t.Errorf("expected ['debounce'], got %v", modified)
	}

	// Verify value accessible
	sec, _ := ac.GetSection("debounce")
	val, _ := sec.GetInt("default_threshold_us")
	if val != 742 {
		t.Errorf("expected 742, got %d", val)
	}
}

func TestAutosaveNewSection(t *testing.T) {
	data := `
[pulse]
pin: 17
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	ac := NewAutosaveConfig(cfg, "")

	// Add option to new section
	err = ac.SetOption("debounce", "default_threshold_us", "1000")
	if err != nil {
		t.Fatalf("SetOption failed: %v", err)
	}

	// Verify new section exists
	if !ac.HasSection("debounce") {
		t.Error("expected debounce section to exist")
	}

	sec, _ := ac.GetSection("debounce")
	val, _ := sec.Get("default_threshold_us")
	if val != "1000" {
		t.Errorf("expected '1000', got %q", val)
	}
}

func TestAutosaveDeleteSection(t *testing.T) {
	data := `
[pulse]
pin: 17

[auto_reset]
interval: 60
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	ac := NewAutosaveConfig(cfg, "")

	// Delete section
	ac.DeleteSection("auto_reset")

	if !ac.HasChanges() {
		t.Error("expected HasChanges to return true")
	}

	deleted := ac.GetDeletedSections()
	if len(deleted) != 1 || deleted[0] != "auto_reset" {
		t.Errorf("expected ['auto_reset'], got %v", deleted)
	}
}

func TestAutosaveClearChanges(t *testing.T) {
	data := `
[pulse]
pin: 17
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	ac := NewAutosaveConfig(cfg, "")

	// Make changes
	ac.SetOption("pulse", "new_key", "value")
	ac.DeleteSection("pulse")

	if !ac.HasChanges() {
		t.Error("expected changes before clear")
	}

	// Clear changes
	ac.ClearChanges()

	if ac.HasChanges() {
		t.Error("expected no changes after clear")
	}
}

func TestAutosaveSaveChanges(t *testing.T) {
	data := `
[pulse]
pin: ^17

[debounce]
min_threshold_us: 100
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	// Create temp file
	tmpDir := t.TempDir()
	tmpPath := filepath.Join(tmpDir, "test.cfg")

	ac := NewAutosaveConfig(cfg, tmpPath)

	// Modify and save
	ac.SetOption("debounce", "default_threshold_us", "742")
	err = ac.SaveChanges("")
	if err != nil {
		t.Fatalf("SaveChanges failed: %v", err)
	}

	// Verify changes cleared
	if ac.HasChanges() {
		t.Error("expected no changes after save")
	}

	// Read saved file and verify content
	content, err := os.ReadFile(tmpPath)
	if err != nil {
		t.Fatalf("failed to read saved file: %v", err)
	}

	if !strings.Contains(string(content), "default_threshold_us: 742") {
		t.Error("expected saved file to contain the learned threshold")
	}
	if !strings.Contains(string(content), "pin: ^17") {
		t.Error("expected saved file to contain the pin spec")
	}
}

func TestAutosaveBackup(t *testing.T) {
	// Create initial file
	tmpDir := t.TempDir()
	tmpPath := filepath.Join(tmpDir, "pulsemeter.cfg")

	initialContent := `[pulse]
pin: 17
`
	if err := os.WriteFile(tmpPath, []byte(initialContent), 0644); err != nil {
		t.Fatalf("failed to write initial file: %v", err)
	}

	// Load and modify
	ac, err := LoadAutosave(tmpPath)
	if err != nil {
		t.Fatalf("LoadAutosave failed: %v", err)
	}

	ac.SetOption("pulse", "new_key", "value")
	err = ac.SaveChanges("")
	if err != nil {
		t.Fatalf("SaveChanges failed: %v", err)
	}

	// Check backup was created
	files, err := filepath.Glob(filepath.Join(tmpDir, "pulsemeter-*.cfg"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}

	if len(files) == 0 {
		t.Error("expected backup file to be created")
	}

	// Verify backup contains original content
	if len(files) > 0 {
		backup, err := os.ReadFile(files[0])
		if err != nil {
			t.Fatalf("failed to read backup: %v", err)
		}
		if string(backup) != initialContent {
			t.Error("backup should contain original content")
		}
	}
}

func TestAutosaveReloadFromDisk(t *testing.T) {
	// Create initial file
	tmpDir := t.TempDir()
	tmpPath := filepath.Join(tmpDir, "test.cfg")

	initialContent := `[report]
format: text
`
	if err := os.WriteFile(tmpPath, []byte(initialContent), 0644); err != nil {
		t.Fatalf("failed to write initial file: %v", err)
	}

	// Load
	ac, err := LoadAutosave(tmpPath)
	if err != nil {
		t.Fatalf("LoadAutosave failed: %v", err)
	}

	// Make changes
	ac.SetOption("report", "new_key", "value")

	// Write different content to file
	newContent := `[report]
format: json
`
	if err := os.WriteFile(tmpPath, []byte(newContent), 0644); err != nil {
		t.Fatalf("failed to write new content: %v", err)
	}

	// Reload
	err = ac.ReloadFromDisk()
	if err != nil {
		t.Fatalf("ReloadFromDisk failed: %v", err)
	}

	// Verify changes discarded and new content loaded
	if ac.HasChanges() {
		t.Error("expected no changes after reload")
	}

	sec, _ := ac.GetSection("report")
	val, _ := sec.Get("format")
	if val != "json" {
		t.Errorf("expected 'json' after reload, got %q", val)
	}
}

func TestBuildConfigContent(t *testing.T) {
	data := `
[pulse]
pin: ^17

[report]
interval: 1.0
format: text
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	ac := NewAutosaveConfig(cfg, "")
	content := ac.buildConfigContent()

	// Verify sections present
	if !strings.Contains(content, "[pulse]") {
		t.Error("expected [pulse] section")
	}
	if !strings.Contains(content, "[report]") {
		t.Error("expected [report] section")
	}

	// Verify options present
	if !strings.Contains(content, "pin: ^17") {
		t.Error("expected pin option")
	}
	if !strings.Contains(content, "format: text") {
		t.Error("expected format option")
	}
}
