package core

import (
	"fmt"

	"github.com/google/uuid"
)

// NewDebugName returns a unique name for a GPU object, e.g. "PerObjectCB-1a2b3c4d".
func NewDebugName(prefix string) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%s", prefix, id.String()[:8])
}

// NewRunID tags every log line of one engine run.
func NewRunID() string {
	return uuid.NewString()
}
