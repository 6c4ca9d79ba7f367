package config

import (
	"github.com/codex-k8s/ucirelay/internal/engine"
	"github.com/codex-k8s/ucirelay/internal/uci"
)

// defaultEngine is looked up in PATH unless a profile or override says otherwise.
var defaultEngine = engine.Source{Path: "stockfish"}

// Presets returns the built-in profiles. Each call returns fresh values.
func Presets() map[string]Profile {
	return map[string]Profile{
		"grinder": {
			Description: "Maximum contempt, full strength, three principal variations",
			Engine:      defaultEngine,
			Options: uci.Batch{
				{Name: "Contempt", Value: "100"},
				{Name: "Ponder", Value: "true"},
				{Name: "Skill Level", Value: "20"},
				{Name: "MultiPV", Value: "3"},
			},
		},
		"mittens": {
			Description: "Grinder settings with a larger hash on a single thread; announces readyok once loaded",
			Engine:      defaultEngine,
			Options: uci.Batch{
				{Name: "Hash", Value: "64"},
				{Name: "Contempt", Value: "100"},
				{Name: "Threads", Value: "1"},
				{Name: "Skill Level", Value: "20"},
				{Name: "Ponder", Value: "true"},
				{Name: "MultiPV", Value: "3"},
			},
			AliveMessage: uci.ReadyOK,
		},
		"steady": {
			Description: "Moderate contempt with a minimum thinking time",
			Engine:      defaultEngine,
			Options: uci.Batch{
				{Name: "Contempt", Value: "50"},
				{Name: "Skill Level", Value: "20"},
				{Name: "MultiPV", Value: "3"},
				{Name: "Minimum Thinking Time", Value: "50"},
			},
		},
		"pressure": {
			Description: "Raised contempt with pondering",
			Engine:      defaultEngine,
			Options: uci.Batch{
				{Name: "Contempt", Value: "55"},
				{Name: "Ponder", Value: "true"},
				{Name: "Skill Level", Value: "20"},
				{Name: "MultiPV", Value: "3"},
			},
		},
		"attacker": {
			Description: "High contempt, single thread, small hash",
			Engine:      defaultEngine,
			Options: uci.Batch{
				{Name: "Contempt", Value: "60"},
				{Name: "Threads", Value: "1"},
				{Name: "Hash", Value: "64"},
				{Name: "Skill Level", Value: "20"},
				{Name: "Ponder", Value: "true"},
				{Name: "MultiPV", Value: "3"},
			},
		},
	}
}
