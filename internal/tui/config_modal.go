package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"dexabsorption/internal/config"
)

// ConfigModal is a read-only view of the live Detection/Scoring
// thresholds. Adapted from the teacher's ConfigModal (same Fields/
// Descriptions/Selected navigation shape), but this config reloads via
// viper's file watcher (internal/config.Manager) rather than an
// operator editing values in the TUI — a hot-reloaded YAML file is the
// single source of truth, so the modal only ever displays it.
type ConfigModal struct {
	Cfg          *config.Manager
	Fields       []string
	Descriptions []string
	Selected     int
}

var configFieldDescriptions = []string{
	"Minimum fraction of pool reserves a single sell must represent to open a tracked window",
	"Maximum fraction of pool reserves a sell may represent before it's treated as a liquidity event, not a sell",
	"Number of slots the absorption window stays open after a qualifying sell",
	"Number of slots the stabilization window observes after the absorption window closes",
	"Minimum stabilization success rate required before a wallet can be classified infrastructure",
	"Minimum aggregate confidence score required before a wallet can be classified infrastructure",
}

// NewConfigModal creates a ConfigModal bound to cfg.
func NewConfigModal(cfg *config.Manager) ConfigModal {
	return ConfigModal{
		Cfg: cfg,
		Fields: []string{
			"MinSellFraction", "MaxSellFraction", "AbsorptionWindowSlots",
			"StabilizationWindowSlots", "MinStabilizationRate", "MinConfidence",
		},
		Descriptions: configFieldDescriptions,
		Selected:     0,
	}
}

// GetDescription returns the field description at index, or "" if out
// of range.
func (cm ConfigModal) GetDescription(index int) string {
	if index < 0 || index >= len(cm.Descriptions) {
		return ""
	}
	return cm.Descriptions[index]
}

func (cm ConfigModal) Update(msg tea.KeyMsg, m *Model) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Escape), key.Matches(msg, keys.Enter):
		m.CurrentScreen = ScreenDashboard
	case key.Matches(msg, keys.Up):
		if cm.Selected > 0 {
			m.ConfigModal.Selected--
		}
	case key.Matches(msg, keys.Down):
		if cm.Selected < len(cm.Fields)-1 {
			m.ConfigModal.Selected++
		}
	}
	return *m, nil
}

func (cm ConfigModal) Render(w, h int) string {
	if cm.Cfg == nil || cm.Cfg.Get() == nil {
		return StyleModal.Render("config unavailable")
	}
	c := cm.Cfg.Get()

	rows := []string{
		fmt.Sprintf("Min Sell Fraction:   %.4f", c.Detection.MinSellFraction),
		fmt.Sprintf("Max Sell Fraction:   %.4f", c.Detection.MaxSellFraction),
		fmt.Sprintf("Absorption Window:   %d slots", c.Detection.AbsorptionWindowSlots),
		fmt.Sprintf("Stabilization Window:%d slots", c.Stabilization.StabilizationWindowSlots),
		fmt.Sprintf("Min Stabilization %%: %.1f%%", c.Scoring.MinStabilizationRate*100),
		fmt.Sprintf("Min Confidence:      %.1f", c.Scoring.MinConfidence),
	}

	s := "CONFIG (read-only; edit the YAML file to change)\n\n"
	for i, r := range rows {
		cursor := "  "
		if i == cm.Selected {
			cursor = "> "
		}
		s += cursor + r + "\n"
	}
	s += "\n" + cm.GetDescription(cm.Selected)
	s += "\n\n[Esc] Back"
	return StyleModal.Width(w).Render(s)
}
