package connector

import (
	"fmt"

	"github.com/veriflow-io/veriflow/internal/model"
)

// connectionErrorf wraps a driver failure as a domain connection error.
func connectionErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrConnectionFailure, fmt.Sprintf(format, args...))
}

// executionErrorf wraps a query failure as a domain execution error.
func executionErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrExecutionFailure, fmt.Sprintf(format, args...))
}
