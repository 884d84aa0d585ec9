package anthropic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeToolName_KeepsFinalSegmentOfServiceToolsetTool(t *testing.T) {
	require.Equal(t, "write_file", sanitizeToolName("fs.files.write_file"))
}

func TestSanitizeToolName_KeepsFinalSegmentEvenWhenItRepeatsToolset(t *testing.T) {
	require.Equal(t, "search_search", sanitizeToolName("web.search.search_search"))
}

func TestSanitizeToolName_SingleSegmentPassesThrough(t *testing.T) {
	require.Equal(t, "search", sanitizeToolName("search"))
}

func TestSanitizeToolName_TwoSegmentsKeepsSecond(t *testing.T) {
	require.Equal(t, "write_file", sanitizeToolName("files.write_file"))
}

func TestSanitizeToolName_EmptyStringPassesThrough(t *testing.T) {
	require.Equal(t, "", sanitizeToolName(""))
}

func TestSanitizeToolName_ReplacesDisallowedRunes(t *testing.T) {
	require.Equal(t, "write_file", sanitizeToolName("fs.files.write file"))
}

func TestNewFromAPIKey_RejectsEmptyKey(t *testing.T) {
	_, err := NewFromAPIKey("", "claude-sonnet-4-5")
	require.Error(t, err)
}

func TestNew_RejectsNilMessagesClient(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "claude-sonnet-4-5"})
	require.Error(t, err)
}
