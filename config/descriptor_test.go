package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	d, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if d.ListenPort != 8080 || d.LogLevel != "DEBUG" {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}

func TestLoadUnknownLogLevelDefaultsToDebug(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "listen_ip: 127.0.0.1\nlisten_port: 9000\nlog_level: WARN\nlog_file_name: svc\nlog_file_path: ./log\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.LogLevel != "DEBUG" {
		t.Fatalf("LogLevel = %q, want DEBUG (unrecognized value must default, not reject)", d.LogLevel)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "listen_ip: 127.0.0.1\nlisten_port: 0\nlog_file_name: svc\nlog_file_path: ./log\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for listen_port=0")
	}
}
