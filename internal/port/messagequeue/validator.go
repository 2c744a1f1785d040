package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch {
	case strings.HasPrefix(subject, SubjectHITL+"."):
		target = &HITLEventPayload{}
	case subject == SubjectActionsReleased:
		target = &ActionReleasedPayload{}
	case subject == SubjectPhaseAdvanced:
		target = &PhaseAdvancedPayload{}
	case subject == SubjectPolicyReloaded:
		target = &PolicyReloadedPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
