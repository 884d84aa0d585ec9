package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) *WorkingMemory {
	t.Helper()
	wm, err := New(t.TempDir(), "session-1")
	require.NoError(t, err)
	return wm
}

func TestNew_CreatesAllThreeDocumentsWithFrontmatter(t *testing.T) {
	wm := newTestMemory(t)

	plan, err := wm.ReadTaskPlan()
	require.NoError(t, err)
	require.Equal(t, "in_progress", plan.Metadata["status"])

	findings, err := wm.ReadFindings()
	require.NoError(t, err)
	require.Equal(t, "session-1", findings.Metadata["session_id"])

	_, err = wm.ReadProgress()
	require.NoError(t, err)
}

func TestResolve_RejectsPathEscape(t *testing.T) {
	wm := newTestMemory(t)
	_, err := wm.resolve("../../etc/passwd")
	require.Error(t, err)
}

func TestUpdateFindings_AppendsTimestampedEntry(t *testing.T) {
	wm := newTestMemory(t)
	require.NoError(t, wm.UpdateFindings("discovered the bug is in the retry path"))

	doc, err := wm.ReadFindings()
	require.NoError(t, err)
	require.Contains(t, doc.Content, "discovered the bug is in the retry path")
}

func TestUpdateProgress_RecordsOKOrErrorPrefix(t *testing.T) {
	wm := newTestMemory(t)
	require.NoError(t, wm.UpdateProgress("wrote greeting.txt", false))
	require.NoError(t, wm.UpdateProgress("tool call failed", true))

	doc, err := wm.ReadProgress()
	require.NoError(t, err)
	require.Contains(t, doc.Content, "OK")
	require.Contains(t, doc.Content, "ERROR")
}

func TestRecordAction_TriggersTwoActionRuleAtThreshold(t *testing.T) {
	wm := newTestMemory(t)

	require.False(t, wm.RecordAction("web_search"))
	require.True(t, wm.RecordAction("read_url"))
	// Counter resets after crossing the threshold.
	require.False(t, wm.RecordAction("web_search"))
}

func TestRecordAction_IgnoresNonResearchActions(t *testing.T) {
	wm := newTestMemory(t)
	require.False(t, wm.RecordAction("write_file"))
	require.False(t, wm.RecordAction("write_file"))
	require.False(t, wm.RecordAction("write_file"))
}

func TestRecordError_TriggersThreeStrikeProtocolAtThreshold(t *testing.T) {
	wm := newTestMemory(t)

	for i := 0; i < 2; i++ {
		res, err := wm.RecordError("tool_transient", "boom")
		require.NoError(t, err)
		require.False(t, res.ShouldRereadPlan)
	}

	res, err := wm.RecordError("tool_transient", "boom again")
	require.NoError(t, err)
	require.True(t, res.ShouldRereadPlan)
	require.Equal(t, 3, res.Count)
}

func TestRecordError_CountsAreIndependentPerErrorType(t *testing.T) {
	wm := newTestMemory(t)

	_, err := wm.RecordError("tool_transient", "a")
	require.NoError(t, err)
	res, err := wm.RecordError("sandbox_timeout", "b")
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
}

func TestWrite_SetsUpdatedAtMetadata(t *testing.T) {
	wm := newTestMemory(t)
	require.NoError(t, wm.UpdateFindings("first finding"))

	doc, err := wm.ReadFindings()
	require.NoError(t, err)
	raw, ok := doc.Metadata["updated_at"].(string)
	require.True(t, ok, "updated_at must be present and string-valued")
	_, err = time.Parse(time.RFC3339, raw)
	require.NoError(t, err, "updated_at must be RFC3339-formatted")
}

func TestWrite_RefreshesUpdatedAtOnEachWrite(t *testing.T) {
	wm := newTestMemory(t)
	require.NoError(t, wm.UpdateProgress("first entry", false))

	first, err := wm.ReadProgress()
	require.NoError(t, err)
	firstStamp, err := time.Parse(time.RFC3339, first.Metadata["updated_at"].(string))
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, wm.UpdateProgress("second entry", false))

	second, err := wm.ReadProgress()
	require.NoError(t, err)
	secondStamp, err := time.Parse(time.RFC3339, second.Metadata["updated_at"].(string))
	require.NoError(t, err)

	require.True(t, secondStamp.After(firstStamp), "updated_at must be refreshed by a later write")
}

func TestContextSummary_IncludesAllThreeDocuments(t *testing.T) {
	wm := newTestMemory(t)
	require.NoError(t, wm.UpdateFindings("the cause was X"))

	summary, err := wm.ContextSummary()
	require.NoError(t, err)
	require.Contains(t, summary, "## Task Plan")
	require.Contains(t, summary, "## Findings")
	require.Contains(t, summary, "## Progress")
	require.Contains(t, summary, "the cause was X")
}
