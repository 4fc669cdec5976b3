package donation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eptask "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
)

func TestStepsEndWithVerification(t *testing.T) {
	s := NewScript()
	require.NoError(t, s.Configure(map[string]interface{}{}))

	steps := s.Steps()
	require.NotEmpty(t, steps)
	last := steps[len(steps)-1]
	assert.Equal(t, eptask.Verifying, last.Phase)
	assert.NotEmpty(t, last.Expect, "verification must wait on a success label")
}

func TestConfigureDonateTaps(t *testing.T) {
	s := NewScript().(*Script)
	require.NoError(t, s.Configure(map[string]interface{}{"donate_taps": 4}))

	var taps int
	for _, step := range s.Steps() {
		if step.Phase != eptask.ExecutingAction {
			continue
		}
		for _, action := range step.Actions {
			if action.Kind == eptask.ActionTap && action.X == s.donateX && action.Y == s.donateY {
				taps++
			}
		}
	}
	assert.Equal(t, 4, taps)

	err := s.Configure(map[string]interface{}{"donate_taps": 0})
	require.Error(t, err)
}

func TestConfigureRejectsNonIntegerCoordinate(t *testing.T) {
	s := NewScript()
	err := s.Configure(map[string]interface{}{"alliance_x": 12.5})
	require.Error(t, err)
}
