package staging

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed command request. The request never
// reaches the pending queue.
type ValidationError struct {
	CommandLine string
	Reason      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid command %q: %s", e.CommandLine, e.Reason)
}

// ValidateCommandLine checks that a request is a well-formed command: not
// blank, starting with the command marker, and carrying at least one token
// after it.
func ValidateCommandLine(commandLine string) error {
	trimmed := strings.TrimSpace(commandLine)
	if trimmed == "" {
		return &ValidationError{CommandLine: commandLine, Reason: "empty command"}
	}
	if !strings.HasPrefix(trimmed, "/") {
		return &ValidationError{CommandLine: commandLine, Reason: "must start with /"}
	}
	if strings.TrimSpace(trimmed[1:]) == "" {
		return &ValidationError{CommandLine: commandLine, Reason: "missing command name"}
	}
	return nil
}
