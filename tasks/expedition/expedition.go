// Package expedition implements the expedition reward collection task: open
// the campaign screen, enter the expedition view and collect the reward chests.
package expedition

import (
	"github.com/emupilot-labs/emupilot/internal/paramutil"
	inttask "github.com/emupilot-labs/emupilot/internal/task"
	eptask "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
)

func init() {
	inttask.Register("expedition", NewScript)
}

// Default button positions for a 1280x720 frame.
const (
	defaultCampaignX   = 728
	defaultCampaignY   = 674
	defaultExpeditionX = 180
	defaultExpeditionY = 620
	defaultChest1X     = 430
	defaultChest1Y     = 560
	defaultChest2X     = 850
	defaultChest2Y     = 560
	defaultCollectX    = 640
	defaultCollectY    = 520
)

// Script drives the expedition reward flow.
type Script struct {
	campaignX, campaignY     int
	expeditionX, expeditionY int
	chest1X, chest1Y         int
	chest2X, chest2Y         int
	collectX, collectY       int
}

// NewScript is the factory registered for the "expedition" kind.
func NewScript() eptask.Script {
	return &Script{
		campaignX:   defaultCampaignX,
		campaignY:   defaultCampaignY,
		expeditionX: defaultExpeditionX,
		expeditionY: defaultExpeditionY,
		chest1X:     defaultChest1X,
		chest1Y:     defaultChest1Y,
		chest2X:     defaultChest2X,
		chest2Y:     defaultChest2Y,
		collectX:    defaultCollectX,
		collectY:    defaultCollectY,
	}
}

func (s *Script) Kind() string { return "expedition" }

// Configure applies coordinate overrides.
func (s *Script) Configure(params map[string]interface{}) error {
	overrides := []struct {
		key    string
		target *int
	}{
		{"campaign_x", &s.campaignX},
		{"campaign_y", &s.campaignY},
		{"expedition_x", &s.expeditionX},
		{"expedition_y", &s.expeditionY},
		{"chest1_x", &s.chest1X},
		{"chest1_y", &s.chest1Y},
		{"chest2_x", &s.chest2X},
		{"chest2_y", &s.chest2Y},
		{"collect_x", &s.collectX},
		{"collect_y", &s.collectY},
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

// Steps walks: home screen -> campaign screen -> expedition view -> both
// chests plus the collect confirmation, then backs out to the home screen.
func (s *Script) Steps() []eptask.Step {
	return []eptask.Step{
		{
			Phase:   eptask.AwaitingLogin,
			Region:  "screen_state",
			Expect:  []string{"home", "map"},
			Actions: []eptask.Action{eptask.Tap(s.campaignX, s.campaignY)},
		},
		{
			Phase:   eptask.Navigating,
			Region:  "campaign_screen",
			Expect:  []string{"campaign", "expedition"},
			Actions: []eptask.Action{eptask.Tap(s.expeditionX, s.expeditionY), eptask.Wait(2000)},
		},
		{
			Phase: eptask.ExecutingAction,
			Actions: []eptask.Action{
				eptask.Tap(s.chest1X, s.chest1Y),
				eptask.Tap(s.collectX, s.collectY),
				eptask.Tap(s.chest2X, s.chest2Y),
				eptask.Tap(s.collectX, s.collectY),
				eptask.Back(),
				eptask.Back(),
			},
		},
		{
			Phase:  eptask.Verifying,
			Region: "screen_state",
			Expect: []string{"home", "map"},
		},
	}
}

func (s *Script) Recovery() []eptask.Action {
	return []eptask.Action{
		eptask.Back(),
		eptask.Back(),
		eptask.Back(),
		eptask.Wait(1000),
	}
}
