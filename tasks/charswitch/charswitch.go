// Package charswitch implements the character rotation task: open the
// character selection from the profile settings and cycle through each
// configured character slot so every character's daily reset is touched.
package charswitch

import (
	"github.com/emupilot-labs/emupilot/internal/paramutil"
	inttask "github.com/emupilot-labs/emupilot/internal/task"
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	eptask "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
)

func init() {
	inttask.Register("charswitch", NewScript)
}

// maxCharacters bounds the configurable slot count; the character list UI
// shows at most this many slots.
const maxCharacters = 10

// Default button positions for a 1280x720 frame.
const (
	defaultAvatarX     = 40
	defaultAvatarY     = 40
	defaultSettingsX   = 1090
	defaultSettingsY   = 640
	defaultCharactersX = 900
	defaultCharactersY = 640
	defaultSlotX       = 640
	defaultSlotFirstY  = 200
	defaultSlotStepY   = 110
	defaultConfirmX    = 760
	defaultConfirmY    = 460
	defaultLoadWaitMs  = 15000
)

// Script drives the character rotation flow.
type Script struct {
	characters  int
	avatarX     int
	avatarY     int
	settingsX   int
	settingsY   int
	charactersX int
	charactersY int
	slotX       int
	slotFirstY  int
	slotStepY   int
	confirmX    int
	confirmY    int
	loadWaitMs  int
}

// NewScript is the factory registered for the "charswitch" kind.
func NewScript() eptask.Script {
	return &Script{
		avatarX:     defaultAvatarX,
		avatarY:     defaultAvatarY,
		settingsX:   defaultSettingsX,
		settingsY:   defaultSettingsY,
		charactersX: defaultCharactersX,
		charactersY: defaultCharactersY,
		slotX:       defaultSlotX,
		slotFirstY:  defaultSlotFirstY,
		slotStepY:   defaultSlotStepY,
		confirmX:    defaultConfirmX,
		confirmY:    defaultConfirmY,
		loadWaitMs:  defaultLoadWaitMs,
	}
}

func (s *Script) Kind() string { return "charswitch" }

// Configure requires 'characters' (the number of slots to rotate through) and
// accepts coordinate and load-wait overrides.
func (s *Script) Configure(params map[string]interface{}) error {
	characters, err := paramutil.GetRequiredInt(params, "characters")
	if err != nil {
		return err
	}
	if characters < 1 || characters > maxCharacters {
		return eperrors.NewValidationError("charswitch: 'characters' must be between 1 and 10", nil)
	}
	s.characters = characters

	overrides := []struct {
		key    string
		target *int
	}{
		{"avatar_x", &s.avatarX},
		{"avatar_y", &s.avatarY},
		{"settings_x", &s.settingsX},
		{"settings_y", &s.settingsY},
		{"characters_x", &s.charactersX},
		{"characters_y", &s.charactersY},
		{"slot_x", &s.slotX},
		{"slot_first_y", &s.slotFirstY},
		{"slot_step_y", &s.slotStepY},
		{"confirm_x", &s.confirmX},
		{"confirm_y", &s.confirmY},
		{"load_wait_ms", &s.loadWaitMs},
	}
	for _, o := range overrides {
		value, ok, err := paramutil.GetOptionalInt(params, o.key)
		if err != nil {
			return err
		}
		if ok {
			*o.target = value
		}
	}
	return nil
}

// Steps emits one navigate/switch block per character slot. Each block opens
// the profile, drills into character selection, picks the slot, confirms, and
// waits out the reload before the next slot. The final step verifies the home
// screen after the last switch.
func (s *Script) Steps() []eptask.Step {
	steps := []eptask.Step{
		{
			Phase:  eptask.AwaitingLogin,
			Region: "screen_state",
			Expect: []string{"home", "map"},
		},
	}
	for i := 0; i < s.characters; i++ {
		slotY := s.slotFirstY + i*s.slotStepY
		steps = append(steps,
			eptask.Step{
				Phase: eptask.Navigating,
				Actions: []eptask.Action{
					eptask.Tap(s.avatarX, s.avatarY),
					eptask.Wait(1000),
					eptask.Tap(s.settingsX, s.settingsY),
					eptask.Wait(1000),
					eptask.Tap(s.charactersX, s.charactersY),
					eptask.Wait(1000),
				},
			},
			eptask.Step{
				Phase: eptask.ExecutingAction,
				Actions: []eptask.Action{
					eptask.Tap(s.slotX, slotY),
					eptask.Tap(s.confirmX, s.confirmY),
					eptask.Wait(s.loadWaitMs),
				},
			},
		)
	}
	steps = append(steps, eptask.Step{
		Phase:  eptask.Verifying,
		Region: "screen_state",
		Expect: []string{"home", "map"},
	})
	return steps
}

func (s *Script) Recovery() []eptask.Action {
	return []eptask.Action{
		eptask.Back(),
		eptask.Back(),
		eptask.Back(),
		eptask.Wait(2000),
	}
}
