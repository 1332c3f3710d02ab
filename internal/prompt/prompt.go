// Package prompt assembles review prompts: mode normalization, code
// sanitization, token budgeting, and the final prompt text.
package prompt

import (
	"fmt"
	"strings"
)

// Mode selects the kind of review performed.
type Mode string

const (
	ModeBugs         Mode = "bugs"
	ModeImprovements Mode = "improvements"
	ModeRefactor     Mode = "refactor"
	ModeExplain      Mode = "explain"
	ModePerformance  Mode = "performance"
	ModeSecurity     Mode = "security"
	ModeOverview     Mode = "overview"
	ModeArchitecture Mode = "architecture"
)

const basePersona = "You are CodeSage.ai, an expert code reviewer. Your audience is a junior developer. " +
	"Use simple English. Use short sentences. Be clear and actionable."

var tasks = map[Mode]string{
	ModeBugs:         "Explain each bug: what, why, and how to fix. Include a tiny code example.",
	ModeImprovements: "Suggest improvements. One-line reason each. Include small before/after when helpful.",
	ModeRefactor:     "Give a small refactor plan. List steps. Name functions/modules. Include a short example.",
	ModeExplain:      "Explain what the code does. Summarize modules and key functions in simple terms.",
	ModePerformance:  "Identify performance bottlenecks. Mention complexity and concrete optimizations.",
	ModeSecurity:     "Identify security risks and misuse patterns. Provide safe fixes and best practices.",
	ModeOverview:     "Provide a high-level overview and key strengths/risks.",
	ModeArchitecture: "Assess architecture, module boundaries, and coupling. Suggest improvements.",
}

// Output skeletons keep the modes visibly distinct from each other.
var skeletons = map[Mode]string{
	ModeBugs: "Answer with: TL;DR (3-5 bullets), Findings (one bug per bullet, file/line if possible), " +
		"Fix Steps (ordered, concrete), and a tiny code example showing the fix. Keep examples minimal.",
	ModeImprovements: "Answer with: TL;DR (3-5 bullets), Improvements (each with one-line rationale), " +
		"Before/After snippets when helpful, and optional trade-offs. Avoid rewriting whole files.",
	ModeRefactor: "Answer with: Summary, High-level refactor plan (ordered steps), list of functions/modules to change, " +
		"estimated effort, and a short example showing a refactored function. Emphasize small, safe refactors.",
	ModeExplain: "Answer with: Short summary, what each major function does, and a brief line-by-line explanation " +
		"for the top 10 lines or the most complex function. Keep it educational.",
	ModePerformance: "Answer with: TL;DR, list of performance hotspots (with Big-O or complexity notes), concrete optimizations, and " +
		"one small code change example to improve speed or memory. Include estimated impact.",
	ModeSecurity: "Answer with: TL;DR, list of security issues (severity: low/medium/high), exploit example (short), " +
		"and secure fix steps. Mention input validation and secrets handling.",
	ModeOverview: "Answer with: Short project overview, main responsibilities of files, strengths, weaknesses, " +
		"and recommended next steps.",
	ModeArchitecture: "Answer with: High-level architecture review, coupling/cohesion notes, suggested module boundaries, " +
		"and migration steps for large changes.",
}

// NormalizeMode maps arbitrary client input onto a supported Mode. Common
// shorthands are folded in; anything unrecognized becomes ModeBugs.
func NormalizeMode(raw string) Mode {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := tasks[m]; ok {
		return m
	}
	switch m {
	case "perf", "speed", "latency":
		return ModePerformance
	case "sec", "vuln", "vulnerability":
		return ModeSecurity
	default:
		return ModeBugs
	}
}

// Build produces the full prompt for a review of code under the given mode.
// The mode is normalized first, so any string input is safe to pass.
func Build(mode string, code string) string {
	m := NormalizeMode(mode)
	return fmt.Sprintf(`%s

Mode: %s

Task instruction:
%s

Required output style:
%s

Respond in markdown. Use the following headings where relevant: TL;DR, Findings, Fix Steps, Code Examples, Notes.

Code to review:
---------------------------------
%s
---------------------------------
`, basePersona, strings.ToUpper(string(m)), tasks[m], skeletons[m], code)
}
