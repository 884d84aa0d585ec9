// Package memory implements the Working Memory subsystem (C1): three
// persistent markdown documents per session — task_plan.md, findings.md and
// progress.md — serving as the agent's durable memory instead of the
// model's context window, modeled directly on the original implementation's
// ThreeFilesManager (backend/app/agent/working_memory/three_files.py).
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"goatomic.dev/runtime/runtime/agent/agenterr"
)

const (
	// TaskPlanFile is the session-relative path of the task plan document.
	TaskPlanFile = "task_plan.md"
	// FindingsFile is the session-relative path of the findings document.
	FindingsFile = "findings.md"
	// ProgressFile is the session-relative path of the progress log.
	ProgressFile = "progress.md"

	// ActionThreshold is the 2-Action Rule counter threshold: every N
	// research-class actions (web_search, read_url, ...) force a findings
	// write before the agent may continue reasoning.
	ActionThreshold = 2

	// ErrorThreshold is the 3-Strike Protocol threshold: once the same error
	// type has been recorded N times in the session, RecordError signals that
	// the agent must re-read its task plan before retrying. Counts accumulate
	// per type and are never reset, so every later failure of that type
	// signals again.
	ErrorThreshold = 3
)

// researchActions are the action types counted toward the 2-Action Rule.
var researchActions = map[string]bool{
	"web_search": true,
	"read_url":   true,
}

// Document is a working-memory file: YAML frontmatter metadata plus a
// markdown body.
type Document struct {
	Metadata map[string]any
	Content  string
}

// StrikeResult reports the outcome of recording a tool failure against the
// 3-Strike Protocol.
type StrikeResult struct {
	ShouldRereadPlan bool
	ErrorType        string
	Count            int
}

// WorkingMemory manages the three documents for a single session, rooted at
// a sandbox-scoped directory. All paths are resolved and checked against
// root to satisfy the path-safety invariant: no read or write may escape
// the session's sandboxed root.
type WorkingMemory struct {
	root      string
	sessionID string

	mu            sync.Mutex
	actionCounter int
	errorCounts   map[string]int
}

// New creates a WorkingMemory rooted at root/sessions/sessionID, creating
// the three documents with their initial templates if they do not exist.
func New(root, sessionID string) (*WorkingMemory, error) {
	wm := &WorkingMemory{
		root:        root,
		sessionID:   sessionID,
		errorCounts: make(map[string]int),
	}
	if err := wm.ensureFiles(); err != nil {
		return nil, err
	}
	return wm, nil
}

func (wm *WorkingMemory) sessionDir() string {
	return filepath.Join(wm.root, "sessions", wm.sessionID)
}

// resolve returns the absolute path for a session-relative file name,
// rejecting any path that would escape the session directory.
func (wm *WorkingMemory) resolve(name string) (string, error) {
	dir := wm.sessionDir()
	joined := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", agenterr.Errorf(agenterr.KindPathEscape, "memory: path %q escapes session root", name)
	}
	return joined, nil
}

func (wm *WorkingMemory) ensureFiles() error {
	if err := os.MkdirAll(wm.sessionDir(), 0o755); err != nil {
		return agenterr.NewWithCause(agenterr.KindInternal, "memory: create session dir", err)
	}
	for _, f := range []struct {
		name     string
		title    string
		content  string
		extra    map[string]any
	}{
		{TaskPlanFile, "Task Plan", initialTaskPlan, map[string]any{"status": "in_progress"}},
		{FindingsFile, "Findings", initialFindings, nil},
		{ProgressFile, "Progress Log", initialProgress, nil},
	} {
		path, err := wm.resolve(f.name)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}
		meta := map[string]any{"title": f.title, "session_id": wm.sessionID}
		for k, v := range f.extra {
			meta[k] = v
		}
		if err := wm.write(f.name, Document{Metadata: meta, Content: f.content}); err != nil {
			return err
		}
	}
	return nil
}

// ReadTaskPlan reads task_plan.md.
func (wm *WorkingMemory) ReadTaskPlan() (Document, error) { return wm.read(TaskPlanFile) }

// ReadFindings reads findings.md.
func (wm *WorkingMemory) ReadFindings() (Document, error) { return wm.read(FindingsFile) }

// ReadProgress reads progress.md.
func (wm *WorkingMemory) ReadProgress() (Document, error) { return wm.read(ProgressFile) }

func (wm *WorkingMemory) read(name string) (Document, error) {
	path, err := wm.resolve(name)
	if err != nil {
		return Document{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, agenterr.NewWithCause(agenterr.KindInternal, "memory: read "+name, err)
	}
	return parseFrontmatter(raw), nil
}

func (wm *WorkingMemory) write(name string, doc Document) error {
	path, err := wm.resolve(name)
	if err != nil {
		return err
	}
	meta := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["updated_at"] = time.Now().Format(time.RFC3339)
	doc.Metadata = meta
	raw, err := renderFrontmatter(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return agenterr.NewWithCause(agenterr.KindInternal, "memory: write "+name, err)
	}
	return nil
}

// UpdateTaskPlan overwrites (or appends to, when append is true) task_plan.md.
func (wm *WorkingMemory) UpdateTaskPlan(content string, append bool) error {
	if append {
		old, err := wm.ReadTaskPlan()
		if err != nil {
			return err
		}
		content = old.Content + "\n\n" + content
	}
	return wm.write(TaskPlanFile, Document{Metadata: map[string]any{"status": "in_progress"}, Content: content})
}

// UpdateFindings appends a timestamped finding to findings.md and, once the
// append is written, resets the 2-Action Rule counter.
func (wm *WorkingMemory) UpdateFindings(finding string) error {
	old, err := wm.ReadFindings()
	if err != nil {
		return err
	}
	entry := fmt.Sprintf("\n\n### [%s]\n%s", timestamp(), finding)
	if err := wm.write(FindingsFile, Document{Metadata: old.Metadata, Content: old.Content + entry}); err != nil {
		return err
	}
	wm.mu.Lock()
	wm.actionCounter = 0
	wm.mu.Unlock()
	return nil
}

// UpdateProgress appends a timestamped log entry to progress.md.
func (wm *WorkingMemory) UpdateProgress(entry string, isError bool) error {
	old, err := wm.ReadProgress()
	if err != nil {
		return err
	}
	prefix := "OK"
	if isError {
		prefix = "ERROR"
	}
	line := fmt.Sprintf("\n\n### [%s] %s\n%s", timestamp(), prefix, entry)
	return wm.write(ProgressFile, Document{Metadata: old.Metadata, Content: old.Content + line})
}

// RecordAction counts a research-class action toward the 2-Action Rule,
// resetting the counter and returning true when the threshold is reached —
// the caller must then force a findings write before continuing to reason.
func (wm *WorkingMemory) RecordAction(actionType string) bool {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if researchActions[actionType] {
		wm.actionCounter++
	}
	if wm.actionCounter >= ActionThreshold {
		wm.actionCounter = 0
		return true
	}
	return false
}

// RecordError logs a tool failure to progress.md and counts it per error
// type toward the 3-Strike Protocol.
func (wm *WorkingMemory) RecordError(errorType, message string) (StrikeResult, error) {
	wm.mu.Lock()
	wm.errorCounts[errorType]++
	count := wm.errorCounts[errorType]
	wm.mu.Unlock()

	if err := wm.UpdateProgress(fmt.Sprintf("**Error Type**: %s\n**Message**: %s", errorType, message), true); err != nil {
		return StrikeResult{}, err
	}

	if count >= ErrorThreshold {
		return StrikeResult{ShouldRereadPlan: true, ErrorType: errorType, Count: count}, nil
	}
	return StrikeResult{ErrorType: errorType, Count: count}, nil
}

// ContextSummary renders a short preview of all three documents for
// injection into the model's context, directing the model to the file tools
// for full content.
func (wm *WorkingMemory) ContextSummary() (string, error) {
	plan, err := wm.ReadTaskPlan()
	if err != nil {
		return "", err
	}
	findings, err := wm.ReadFindings()
	if err != nil {
		return "", err
	}
	progress, err := wm.ReadProgress()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`# Working Memory

## Task Plan
%s...

## Findings
%s...

## Progress
%s...

Use the file tools to read the full content of any document above.
`, preview(plan.Content, 500), preview(findings.Content, 300), preview(progress.Content, 300)), nil
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func timestamp() string { return time.Now().Format("2006-01-02 15:04:05") }

const frontmatterDelim = "---\n"

func renderFrontmatter(doc Document) ([]byte, error) {
	meta, err := yaml.Marshal(doc.Metadata)
	if err != nil {
		return nil, agenterr.NewWithCause(agenterr.KindInternal, "memory: marshal frontmatter", err)
	}
	var b strings.Builder
	b.WriteString(frontmatterDelim)
	b.Write(meta)
	b.WriteString(frontmatterDelim)
	b.WriteString(doc.Content)
	return []byte(b.String()), nil
}

func parseFrontmatter(raw []byte) Document {
	s := string(raw)
	if !strings.HasPrefix(s, frontmatterDelim) {
		return Document{Content: s}
	}
	rest := s[len(frontmatterDelim):]
	idx := strings.Index(rest, frontmatterDelim)
	if idx < 0 {
		return Document{Content: s}
	}
	metaRaw := rest[:idx]
	body := rest[idx+len(frontmatterDelim):]
	var meta map[string]any
	_ = yaml.Unmarshal([]byte(metaRaw), &meta)
	return Document{Metadata: meta, Content: body}
}

const initialTaskPlan = `# Task Plan

## Goal
(the agent fills in the task goal here)

## Current Progress
- [ ] Phase 1: ...
- [ ] Phase 2: ...

## Decisions
(important decisions are recorded here)

## Notes
(the agent's working notes)
`

const initialFindings = `# Findings

## Research Findings

(the agent records search/browse discoveries here)

## Technical Decisions

(technology choices and their rationale)

## Key Facts

(important facts and data)
`

const initialProgress = `# Progress Log

## Execution Record

(the agent's step-by-step execution log)

## Error Log

(every error must be recorded here to prevent repeated failures)

## Successful Patterns

(approaches that worked)
`
