// Package router implements the Execution Router (C6): a deterministic,
// per-user-turn decision between the skill, sandboxed-code and reasoning
// execution paths, modeled directly on the original implementation's
// ExecutionRouter (backend/app/routing/router.py) — its keyword/pattern
// battery, threshold defaults and decision ordering are reproduced in Go,
// generalized to spec.md's RoutingDecision tuple (path, confidence, reason,
// fallback).
package router

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// Path is one of the three execution strategies a Routing Decision selects.
type Path string

const (
	PathSkill         Path = "skill"
	PathSandboxedCode Path = "sandboxed_code"
	PathReasoning     Path = "reasoning"
)

// Decision is spec.md's Routing Decision tuple.
type Decision struct {
	Path       Path
	Confidence float64
	Reason     string
	Fallback   Path // "" if none
}

// SkillMatch is the outcome of a skill-matcher lookup.
type SkillMatch struct {
	SkillID string
	Score   float64
}

// SkillMatcher scores user turn text against the registered skill table.
type SkillMatcher interface {
	Match(ctx context.Context, userMessage string) (SkillMatch, bool)
}

// SkillExecutability reports whether a matched skill is verified executable
// (has a runnable implementation bound, not just a registry entry).
type SkillExecutability interface {
	CanExecute(skillID string) bool
}

// Thresholds holds the router's two mutable gates (spec.md §6.6), kept
// separate from Router so callers can mutate them at runtime for A/B
// evaluation without touching the router's other state.
type Thresholds struct {
	SkillConfidence   float64
	StructuredTask    float64
}

// DefaultThresholds matches spec.md §6.6's documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{SkillConfidence: 0.85, StructuredTask: 0.70}
}

// Stats counts decisions per path for observability.
type Stats struct {
	Total         int64
	Skill         int64
	SandboxedCode int64
	Reasoning     int64
}

// Router is the deterministic path-selection engine. It never executes the
// chosen path itself — only produces a Decision for the caller (spec.md §4.5).
type Router struct {
	matcher      SkillMatcher
	executable   SkillExecutability

	mu         sync.RWMutex
	thresholds Thresholds

	total, skill, sandboxed, reasoning atomic.Int64
}

// New constructs a Router. matcher may be nil, in which case the router
// skips straight to structured-task detection (no skill table). A nil
// executable treats every matched skill as executable.
func New(matcher SkillMatcher, executable SkillExecutability, thresholds Thresholds) *Router {
	return &Router{matcher: matcher, executable: executable, thresholds: thresholds}
}

// SetThresholds mutates the router's gates at runtime, enabling A/B
// evaluation of routing behavior without restarting the process.
func (r *Router) SetThresholds(t Thresholds) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thresholds = t
}

func (r *Router) currentThresholds() Thresholds {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.thresholds
}

// Route applies the deterministic three-step decision procedure (spec.md
// §4.5): skill match, then structured-task detection, then reasoning.
func (r *Router) Route(ctx context.Context, userMessage string) Decision {
	r.total.Add(1)
	th := r.currentThresholds()

	if r.matcher != nil {
		if match, ok := r.matcher.Match(ctx, userMessage); ok && match.Score >= th.SkillConfidence {
			if r.executable == nil || r.executable.CanExecute(match.SkillID) {
				r.skill.Add(1)
				return Decision{
					Path:       PathSkill,
					Confidence: capOne(match.Score),
					Reason:     "high-confidence skill match: " + match.SkillID,
					Fallback:   PathSandboxedCode,
				}
			}
		}
	}

	if score := structuredTaskScore(userMessage); score >= th.StructuredTask {
		r.sandboxed.Add(1)
		return Decision{
			Path:       PathSandboxedCode,
			Confidence: score,
			Reason:     "structured task detected",
			Fallback:   PathReasoning,
		}
	}

	r.reasoning.Add(1)
	return Decision{
		Path:       PathReasoning,
		Confidence: 1.0,
		Reason:     "unstructured task or no skill match",
	}
}

// Stats returns a point-in-time snapshot of per-path decision counts.
func (r *Router) Stats() Stats {
	return Stats{
		Total:         r.total.Load(),
		Skill:         r.skill.Load(),
		SandboxedCode: r.sandboxed.Load(),
		Reasoning:     r.reasoning.Load(),
	}
}

func capOne(f float64) float64 {
	if f > 1.0 {
		return 1.0
	}
	return f
}

// structuredKeywords trigger the sandboxed-code path (data query/transform
// verbs, file formats, code-execution asks), mirroring STRUCTURED_KEYWORDS.
var structuredKeywords = map[string]bool{
	"query": true, "select": true, "filter": true, "search": true, "find": true, "match": true,
	"extract": true, "fetch": true, "retrieve": true, "get": true,
	"transform": true, "convert": true, "parse": true, "format": true, "process": true,
	"aggregate": true, "group": true, "sort": true, "rank": true, "order": true,
	"calculate": true, "compute": true, "sum": true, "count": true, "average": true, "mean": true,
	"median": true, "std": true, "variance": true, "statistics": true, "analyze": true,
	"csv": true, "json": true, "xml": true, "yaml": true, "dataframe": true, "excel": true,
	"read": true, "write": true, "export": true, "import": true, "save": true,
	"code": true, "script": true, "program": true, "execute": true, "run": true,
	"implement": true, "algorithm": true, "function": true,
	"database": true, "sql": true, "table": true, "record": true,
	"analysis": true, "report": true, "trend": true, "visualization": true,
	"chart": true, "graph": true, "plot": true,
}

// unstructuredKeywords bias toward the reasoning path (discursive verbs).
var unstructuredKeywords = map[string]bool{
	"think": true, "consider": true, "discuss": true, "explain": true, "describe": true,
	"write": true, "compose": true, "draft": true, "summarize": true, "abstract": true,
	"brainstorm": true, "ideate": true, "plan": true, "advice": true, "suggest": true,
}

var (
	dataFileExt  = regexp.MustCompile(`\.(csv|json|xlsx|xml|yaml|txt|parquet)\b`)
	dataStruct   = regexp.MustCompile(`\b(dataframe|table|list|dict|array|series|record)\b`)
	mathOp       = regexp.MustCompile(`\b(sum|count|average|mean|median|max|min|total|percentage)\s*\(`)
	sqlKeywords  = regexp.MustCompile(`\b(sql|where|join|group by|order by)\b`)
	codeBlock    = regexp.MustCompile("```")
)

// structuredTaskScore scores user text against the fixed keyword + regex
// battery (spec.md §4.5 step 2). The precise weighting is intentionally an
// Open Question spec.md leaves free (§9) so long as (T14)/(T15) hold; this
// implementation ratios keyword hits, falling back to pattern detection
// when no keyword from either list appears.
func structuredTaskScore(userMessage string) float64 {
	lower := strings.ToLower(userMessage)

	structuredCount, unstructuredCount := 0, 0
	for kw := range structuredKeywords {
		if containsWord(lower, kw) {
			structuredCount++
		}
	}
	for kw := range unstructuredKeywords {
		if containsWord(lower, kw) {
			unstructuredCount++
		}
	}

	total := structuredCount + unstructuredCount
	if total == 0 {
		return patternScore(lower)
	}
	return float64(structuredCount) / float64(total)
}

func patternScore(lower string) float64 {
	switch {
	case dataFileExt.MatchString(lower):
		return 0.8
	case mathOp.MatchString(lower):
		return 0.8
	case dataStruct.MatchString(lower):
		return 0.7
	case sqlKeywords.MatchString(lower):
		return 0.75
	case codeBlock.MatchString(lower):
		return 0.75
	default:
		return 0.0
	}
}

func containsWord(haystack, word string) bool {
	return strings.Contains(haystack, word)
}
