package mcp

import (
	"fmt"

	"github.com/ganot/meetsync/internal/engine"
)

// toolError turns an engine error into the text of an error tool result, so
// the calling agent sees the same codes a socket client would.
func toolError(err error) error {
	apiErr := engine.MapError(err)
	if apiErr == nil {
		return nil
	}
	if apiErr.RecoveryHint != "" {
		return fmt.Errorf("%s: %s (%s)", apiErr.Code, apiErr.Message, apiErr.RecoveryHint)
	}
	return apiErr
}
