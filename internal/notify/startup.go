package notify

import (
	"fmt"
	"strings"
)

// StartupInfo describes the running configuration for the startup notice.
type StartupInfo struct {
	Monitors       []string
	Model          string
	ReasoningModel string
	ScreeningModel string
	SearchLimit    int
}

// StartupNotice renders the title and body sent when the service starts.
func StartupNotice(info StartupInfo) (string, string) {
	monitors := "none"
	if len(info.Monitors) > 0 {
		monitors = strings.Join(info.Monitors, ", ")
	}
	lines := []string{
		"Monitors: " + monitors,
		"Model: " + info.Model,
	}
	if info.ReasoningModel != "" && info.ReasoningModel != info.Model {
		lines = append(lines, "Reasoning model: "+info.ReasoningModel)
	}
	if info.ScreeningModel != "" && info.ScreeningModel != info.Model {
		lines = append(lines, "Screening model: "+info.ScreeningModel)
	}
	lines = append(lines, fmt.Sprintf("Search budget: %d/day", info.SearchLimit))
	return "Post Sentinel started", strings.Join(lines, "\n")
}
