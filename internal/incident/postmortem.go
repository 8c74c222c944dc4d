package incident

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Postmortem is the generated retrospective document for a resolved
// incident.
type Postmortem struct {
	IncidentID           string
	Title                string
	Severity             Severity
	AgentID              string
	DetectedAt           time.Time
	ResolvedAt           time.Time
	TimeToDetectSec      float64
	TimeToResolveSec     float64
	Summary              string
	Timeline             []TimelineEntry
	ContributingSignals  []signalSummary
	DistinctSignalKinds  []string
	ActionItems          []string
	ActionsTaken         []Action
	Markdown             string
}

// actionItemsFor seeds recommended follow-up items from the distinct
// signal kinds that contributed to the incident.
func actionItemsFor(kinds []string) []string {
	catalog := map[string]string{
		"slo_breach":             "review the burning SLI's target and recent deploys for regressions",
		"error_budget_exhausted": "freeze non-critical deployments until the error budget recovers",
		"cost_anomaly":           "audit recent cost breakdown for the affected agent for runaway loops",
		"policy_violation":       "review the violated policy rule and the agent's recent tool calls",
		"trust_revocation":       "rotate the agent's credentials and audit its recent actions",
		"latency_spike":          "profile the affected agent's slow path and check downstream dependencies",
		"tool_failure_spike":     "check the failing tool's upstream health and circuit breaker state",
	}
	items := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if item, ok := catalog[k]; ok {
			items = append(items, item)
		}
	}
	return items
}

type signalSummary struct {
	Kind    string
	Agent   string
	Message string
}

// Generate builds a Postmortem from a resolved incident's snapshot. It is
// valid to call on an incident in any state, but TimeToResolveSec is only
// meaningful once the incident has reached RESOLVED.
func Generate(inc Incident) Postmortem {
	pm := Postmortem{
		IncidentID:   inc.ID,
		Title:        inc.Title,
		Severity:     inc.Severity,
		AgentID:      inc.AgentID,
		DetectedAt:   inc.CreatedAt,
		ResolvedAt:   inc.UpdatedAt,
		Timeline:     inc.Timeline,
		ActionsTaken: inc.Actions,
	}
	if len(inc.Signals) > 0 {
		pm.TimeToDetectSec = inc.Signals[0].Timestamp.Sub(inc.CreatedAt).Seconds()
	}
	if inc.State == Resolved {
		pm.TimeToResolveSec = inc.UpdatedAt.Sub(inc.CreatedAt).Seconds()
	}
	pm.ContributingSignals = summarizeSignals(inc)
	pm.DistinctSignalKinds = distinctKinds(pm.ContributingSignals)
	pm.ActionItems = actionItemsFor(pm.DistinctSignalKinds)
	pm.Summary = buildSummary(inc, pm)
	pm.Markdown = renderMarkdown(inc, pm)
	return pm
}

func distinctKinds(signals []signalSummary) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range signals {
		if !seen[s.Kind] {
			seen[s.Kind] = true
			out = append(out, s.Kind)
		}
	}
	return out
}

func summarizeSignals(inc Incident) []signalSummary {
	out := make([]signalSummary, 0, len(inc.Signals))
	for _, s := range inc.Signals {
		out = append(out, signalSummary{Kind: s.Kind.String(), Agent: s.SourceAgent, Message: s.Message})
	}
	return out
}

func buildSummary(inc Incident, pm Postmortem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s incident on agent %s, severity %s, correlated from %d signal(s).",
		inc.Title, inc.AgentID, inc.Severity, len(inc.Signals))
	if inc.State == Resolved {
		fmt.Fprintf(&b, " Resolved after %.0fs.", pm.TimeToResolveSec)
	} else {
		fmt.Fprintf(&b, " Currently %s.", inc.State)
	}
	return b.String()
}

// renderMarkdown produces the human-facing postmortem document.
func renderMarkdown(inc Incident, pm Postmortem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Postmortem: %s\n\n", inc.Title)
	fmt.Fprintf(&b, "- Incident ID: %s\n", inc.ID)
	fmt.Fprintf(&b, "- Agent: %s\n", inc.AgentID)
	fmt.Fprintf(&b, "- Severity: %s\n", inc.Severity)
	fmt.Fprintf(&b, "- Detected: %s\n", inc.CreatedAt.Format(time.RFC3339))
	if inc.State == Resolved {
		fmt.Fprintf(&b, "- Resolved: %s (%.0fs total)\n", inc.UpdatedAt.Format(time.RFC3339), pm.TimeToResolveSec)
	} else {
		fmt.Fprintf(&b, "- State: %s\n", inc.State)
	}
	b.WriteString("\n## Summary\n\n")
	b.WriteString(pm.Summary)
	b.WriteString("\n\n## Contributing Signals\n\n")
	for _, s := range pm.ContributingSignals {
		fmt.Fprintf(&b, "- [%s] agent=%s: %s\n", s.Kind, s.Agent, s.Message)
	}
	b.WriteString("\n## Timeline\n\n")
	entries := append([]TimelineEntry(nil), pm.Timeline...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	for _, t := range entries {
		fmt.Fprintf(&b, "- %s %s", t.Timestamp.Format(time.RFC3339), t.Event)
		if t.Details != "" {
			fmt.Fprintf(&b, ": %s", t.Details)
		}
		b.WriteString("\n")
	}
	if len(pm.ActionsTaken) > 0 {
		b.WriteString("\n## Automated Actions\n\n")
		for _, a := range pm.ActionsTaken {
			fmt.Fprintf(&b, "- %s at %s\n", a.ActionType, a.Timestamp.Format(time.RFC3339))
		}
	}
	if len(pm.ActionItems) > 0 {
		b.WriteString("\n## Recommended Action Items\n\n")
		for _, item := range pm.ActionItems {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	return b.String()
}
