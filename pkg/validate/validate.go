// Package validate provides boundary validation and sanitization for the
// fanin package.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tasklab/fanin/pkg/core"
)

// Limits applied at the creation and reporting boundaries.
const (
	// MaxIDLength is the maximum length for job and subtask ids.
	MaxIDLength = 255

	// MaxSubtasksPerJob is the maximum number of subtasks in one job.
	MaxSubtasksPerJob = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages.
	MaxErrorMessageLength = 4096

	// MaxRetryCount is the hard limit for reported retry counts.
	MaxRetryCount = 100

	// MaxMetadataSize is the maximum total size of job metadata in bytes,
	// counting keys and values.
	MaxMetadataSize = 64 * 1024
)

// validID matches alphanumeric, hyphens, underscores, dots, and colons.
var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.:]*$`)

// ValidateJobID validates a job id.
func ValidateJobID(id string) error {
	if id == "" {
		return core.ErrEmptyJobID
	}
	if len(id) > MaxIDLength {
		return core.ErrIDTooLong
	}
	if !validID.MatchString(id) {
		return core.ErrInvalidID
	}
	return nil
}

// ValidateSubtaskID validates a subtask id.
func ValidateSubtaskID(id string) error {
	if id == "" {
		return core.ErrEmptySubtaskID
	}
	if len(id) > MaxIDLength {
		return core.ErrIDTooLong
	}
	if !validID.MatchString(id) {
		return core.ErrInvalidID
	}
	return nil
}

// ValidateSubtaskIDs validates the subtask list for job creation.
func ValidateSubtaskIDs(ids []string) error {
	if len(ids) == 0 {
		return core.ErrNoSubtasks
	}
	if len(ids) > MaxSubtasksPerJob {
		return core.ErrTooManySubtasks
	}
	for _, id := range ids {
		if err := ValidateSubtaskID(id); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMetadata bounds the total metadata size.
func ValidateMetadata(metadata map[string]string) error {
	size := 0
	for k, v := range metadata {
		size += len(k) + len(v)
	}
	if size > MaxMetadataSize {
		return core.ErrMetadataTooLarge
	}
	return nil
}

// SanitizeErrorMessage strips control characters and truncates the message
// for storage.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampRetryCount ensures a reported retry count is within limits.
func ClampRetryCount(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetryCount {
		return MaxRetryCount
	}
	return n
}

// Dedupe returns ids with duplicates removed, preserving first-seen order.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
