package tui

import (
	"testing"

	"dexabsorption/internal/config"
)

func TestNewConfigModal(t *testing.T) {
	cfg := &config.Manager{}
	cm := NewConfigModal(cfg)

	if len(cm.Fields) != 6 {
		t.Errorf("expected 6 fields, got %d", len(cm.Fields))
	}
	if len(cm.Descriptions) != len(cm.Fields) {
		t.Errorf("mismatch between fields count (%d) and descriptions count (%d)", len(cm.Fields), len(cm.Descriptions))
	}

	expected := "Minimum fraction of pool reserves a single sell must represent to open a tracked window"
	if cm.Descriptions[0] != expected {
		t.Errorf("expected description[0] to be %q, got %q", expected, cm.Descriptions[0])
	}
}
