package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRobotName(t *testing.T) {
	v := NewValidator()

	for _, name := range []string{"hello", "billing.monthly.export", "_tmp.Robot2"} {
		require.NoError(t, v.ValidateRobotName(name), name)
	}

	for _, name := range []string{
		"",
		"billing..export",
		".hidden",
		"trailing.",
		"../etc/passwd",
		"a/b",
		"1starts.with.digit",
		strings.Repeat("a", maxRobotNameLength+1),
	} {
		require.ErrorIs(t, v.ValidateRobotName(name), ErrInvalidRobotName, name)
	}
}

func TestValidateParameters(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.ValidateParameters(nil))
	require.NoError(t, v.ValidateParameters(map[string]interface{}{"a": 1, "b": []int{1}}))
	require.ErrorIs(t, v.ValidateParameters(map[string]interface{}{"": 1}), ErrInvalidParameters)
}
