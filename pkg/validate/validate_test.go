package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasklab/fanin/pkg/core"
)

func TestValidateJobID(t *testing.T) {
	assert.NoError(t, ValidateJobID("job-123"))
	assert.NoError(t, ValidateJobID("550e8400-e29b-41d4-a716-446655440000"))
	assert.NoError(t, ValidateJobID("report:2024.q3"))

	assert.ErrorIs(t, ValidateJobID(""), core.ErrEmptyJobID)
	assert.ErrorIs(t, ValidateJobID(strings.Repeat("x", MaxIDLength+1)), core.ErrIDTooLong)
	assert.ErrorIs(t, ValidateJobID("has space"), core.ErrInvalidID)
	assert.ErrorIs(t, ValidateJobID("-leading"), core.ErrInvalidID)
}

func TestValidateSubtaskIDs(t *testing.T) {
	assert.NoError(t, ValidateSubtaskIDs([]string{"a", "b"}))
	assert.ErrorIs(t, ValidateSubtaskIDs(nil), core.ErrNoSubtasks)
	assert.ErrorIs(t, ValidateSubtaskIDs([]string{"a", ""}), core.ErrEmptySubtaskID)

	many := make([]string, MaxSubtasksPerJob+1)
	for i := range many {
		many[i] = "s"
	}
	assert.ErrorIs(t, ValidateSubtaskIDs(many), core.ErrTooManySubtasks)
}

func TestValidateMetadata(t *testing.T) {
	assert.NoError(t, ValidateMetadata(nil))
	assert.NoError(t, ValidateMetadata(map[string]string{"source": "api"}))

	big := map[string]string{"payload": strings.Repeat("x", MaxMetadataSize)}
	assert.ErrorIs(t, ValidateMetadata(big), core.ErrMetadataTooLarge)
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", SanitizeErrorMessage(""))
	assert.Equal(t, "plain message", SanitizeErrorMessage("plain message"))
	assert.Equal(t, "keeps\nnewlines\tand tabs", SanitizeErrorMessage("keeps\nnewlines\tand tabs"))
	assert.Equal(t, "stripped", SanitizeErrorMessage("strip\x00ped"))

	long := strings.Repeat("a", MaxErrorMessageLength+100)
	got := SanitizeErrorMessage(long)
	require.LessOrEqual(t, len(got), MaxErrorMessageLength)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestClampRetryCount(t *testing.T) {
	assert.Equal(t, 0, ClampRetryCount(-5))
	assert.Equal(t, 3, ClampRetryCount(3))
	assert.Equal(t, MaxRetryCount, ClampRetryCount(1000))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Dedupe([]string{"a", "b", "a", "c", "b"}))
	assert.Empty(t, Dedupe(nil))
}
