package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flightsession.yaml")
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	s := c.Session
	if s.MinGPSSignalForMission != 2 || s.VirtualStickTimeout() != 400*time.Millisecond ||
		s.CommandDeadline() != 10*time.Second || s.PendingQueueCapacity != 16 {
		t.Errorf("Unexpected defaults %+v", s)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Defaults must be valid: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
session:
  minGpsSignalForMission: 4
  pendingQueueCapacity: 8
link:
  type: serial
  serialPort: /dev/ttyUSB0
  baudRate: 115200
journal:
  path: /var/lib/flightsession/journal.db
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Session.MinGPSSignalForMission != 4 || c.Session.PendingQueueCapacity != 8 {
		t.Errorf("Session overrides not applied: %+v", c.Session)
	}
	if c.Session.CommandDeadlineMs != 10000 {
		t.Errorf("Unset values must keep defaults, got %d", c.Session.CommandDeadlineMs)
	}
	if c.Link.Type != LinkSerial || c.Link.BaudRate != 115200 || c.Journal.Path == "" {
		t.Errorf("Unexpected config %+v", c)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"gps":      "session:\n  minGpsSignalForMission: 6\n",
		"capacity": "session:\n  pendingQueueCapacity: 0\n",
		"tick":     "session:\n  tickIntervalMs: 0\n",
		"stats":    "session:\n  statsIntervalMs: 0\n",
		"link":     "link:\n  type: carrier-pigeon\n",
		"serial":   "link:\n  type: serial\n",
		"yaml":     "session: [",
	}

	for name, content := range tests {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Expected error for missing file")
	}
}
