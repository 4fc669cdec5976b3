// Package donation implements the alliance technology donation task: open the
// alliance screen, enter the technology tree, and donate to the officer's
// recommended technology.
package donation

import (
	"github.com/emupilot-labs/emupilot/internal/paramutil"
	inttask "github.com/emupilot-labs/emupilot/internal/task"
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	eptask "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
)

func init() {
	inttask.Register("donation", NewScript)
}

// Default button positions for a 1280x720 frame. All of them are overridable
// through the profile's per-task params, since alliance screen layouts shift
// during kingdom events.
const (
	defaultAllianceX    = 610
	defaultAllianceY    = 674
	defaultTechnologyX  = 400
	defaultTechnologyY  = 330
	defaultRecommendedX = 360
	defaultRecommendedY = 250
	defaultDonateX      = 562
	defaultDonateY      = 512
	defaultDonateTaps   = 10
)

// Script drives the donation flow. It is a pure step table; all device I/O
// happens in the state machine that interprets it.
type Script struct {
	allianceX, allianceY       int
	technologyX, technologyY   int
	recommendedX, recommendedY int
	donateX, donateY           int
	donateTaps                 int
}

// NewScript is the factory registered for the "donation" kind.
func NewScript() eptask.Script {
	return &Script{
		allianceX:    defaultAllianceX,
		allianceY:    defaultAllianceY,
		technologyX:  defaultTechnologyX,
		technologyY:  defaultTechnologyY,
		recommendedX: defaultRecommendedX,
		recommendedY: defaultRecommendedY,
		donateX:      defaultDonateX,
		donateY:      defaultDonateY,
		donateTaps:   defaultDonateTaps,
	}
}

func (s *Script) Kind() string { return "donation" }

// Configure applies coordinate and tap-count overrides.
func (s *Script) Configure(params map[string]interface{}) error {
	overrides := []struct {
		key    string
		target *int
	}{
		{"alliance_x", &s.allianceX},
		{"alliance_y", &s.allianceY},
		{"technology_x", &s.technologyX},
		{"technology_y", &s.technologyY},
		{"recommended_x", &s.recommendedX},
		{"recommended_y", &s.recommendedY},
		{"donate_x", &s.donateX},
		{"donate_y", &s.donateY},
		{"donate_taps", &s.donateTaps},
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
	if s.donateTaps < 1 {
		return eperrors.NewValidationError("donation: 'donate_taps' must be at least 1", nil)
	}
	return nil
}

// Steps walks: home screen -> alliance screen -> technology tree -> donate,
// then backs out and verifies the home screen again.
func (s *Script) Steps() []eptask.Step {
	donate := make([]eptask.Action, 0, s.donateTaps+3)
	for i := 0; i < s.donateTaps; i++ {
		donate = append(donate, eptask.Tap(s.donateX, s.donateY))
	}
	donate = append(donate, eptask.Back(), eptask.Back(), eptask.Back())

	return []eptask.Step{
		{
			Phase:   eptask.AwaitingLogin,
			Region:  "screen_state",
			Expect:  []string{"home", "map"},
			Actions: []eptask.Action{eptask.Tap(s.allianceX, s.allianceY)},
		},
		{
			Phase:   eptask.Navigating,
			Region:  "alliance_menu",
			Expect:  []string{"technology"},
			Actions: []eptask.Action{eptask.Tap(s.technologyX, s.technologyY)},
		},
		{
			Phase: eptask.ExecutingAction,
			Actions: append(
				[]eptask.Action{eptask.Tap(s.recommendedX, s.recommendedY), eptask.Wait(1000)},
				donate...,
			),
		},
		{
			Phase:  eptask.Verifying,
			Region: "screen_state",
			Expect: []string{"home", "map"},
		},
	}
}

// Recovery backs out of whatever dialog stack is open and pauses for the UI
// to settle.
func (s *Script) Recovery() []eptask.Action {
	return []eptask.Action{
		eptask.Back(),
		eptask.Back(),
		eptask.Back(),
		eptask.Wait(1000),
	}
}
