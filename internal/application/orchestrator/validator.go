package orchestrator

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidRobotName is returned for names that cannot be resolved to a robot file
	ErrInvalidRobotName = errors.New("invalid robot name")

	// ErrInvalidParameters is returned for run parameters the runtime cannot accept
	ErrInvalidParameters = errors.New("invalid run parameters")
)

// robotNamePattern matches dot separated identifiers such as "billing.monthly.export"
var robotNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

const maxRobotNameLength = 255

// Validator validates requests before they reach the worker pool
type Validator struct{}

// NewValidator creates a new request validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateRobotName checks that name is a fully qualified robot name.
// Path separators and relative segments are rejected, so a valid name always
// resolves inside the robots work directory.
func (v *Validator) ValidateRobotName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: robot name is required", ErrInvalidRobotName)
	}
	if len(name) > maxRobotNameLength {
		return fmt.Errorf("%w: robot name exceeds %d characters", ErrInvalidRobotName, maxRobotNameLength)
	}
	if !robotNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q is not a dot separated list of identifiers", ErrInvalidRobotName, name)
	}
	return nil
}

// ValidateParameters checks the run parameters. Nil is accepted and means
// no parameters.
func (v *Validator) ValidateParameters(parameters map[string]interface{}) error {
	for key := range parameters {
		if key == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidParameters)
		}
	}
	return nil
}
