package charswitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eptask "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
)

func TestConfigureRequiresCharacters(t *testing.T) {
	s := NewScript()
	err := s.Configure(map[string]interface{}{})
	require.Error(t, err)

	err = s.Configure(map[string]interface{}{"characters": 0})
	require.Error(t, err)

	err = s.Configure(map[string]interface{}{"characters": 11})
	require.Error(t, err)

	require.NoError(t, s.Configure(map[string]interface{}{"characters": 3}))
}

func TestStepsEmitOneBlockPerCharacter(t *testing.T) {
	s := NewScript()
	require.NoError(t, s.Configure(map[string]interface{}{"characters": 3}))

	steps := s.Steps()
	// 1 login wait + 2 steps per character + 1 verification.
	require.Len(t, steps, 8)
	assert.Equal(t, eptask.AwaitingLogin, steps[0].Phase)
	assert.Equal(t, eptask.Verifying, steps[len(steps)-1].Phase)

	// Slot taps advance down the list by the configured step.
	first := steps[2].Actions[0]
	second := steps[4].Actions[0]
	require.Equal(t, eptask.ActionTap, first.Kind)
	assert.Equal(t, defaultSlotStepY, second.Y-first.Y)
}

func TestConfigureAppliesOverrides(t *testing.T) {
	s := NewScript().(*Script)
	require.NoError(t, s.Configure(map[string]interface{}{
		"characters":   2,
		"slot_first_y": 300,
		"load_wait_ms": 5000,
	}))
	assert.Equal(t, 300, s.slotFirstY)
	assert.Equal(t, 5000, s.loadWaitMs)
}

func TestConfigureRejectsBadType(t *testing.T) {
	s := NewScript()
	err := s.Configure(map[string]interface{}{"characters": "three"})
	require.Error(t, err)
}
