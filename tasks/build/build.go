// Package build implements the build queue task: jump to the bookmarked build
// site on the map, select it and send one troop to construct.
package build

import (
	"github.com/emupilot-labs/emupilot/internal/paramutil"
	inttask "github.com/emupilot-labs/emupilot/internal/task"
	eptask "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
)

func init() {
	inttask.Register("build", NewScript)
}

// Default button positions for a 1280x720 frame. The center tap selects the
// bookmarked tile after the map jump.
const (
	defaultMapX      = 60
	defaultMapY      = 674
	defaultBookmarkX = 1150
	defaultBookmarkY = 300
	defaultSiteX     = 200
	defaultSiteY     = 200
	defaultCenterX   = 640
	defaultCenterY   = 360
	defaultBuildX    = 640
	defaultBuildY    = 500
	defaultGoX       = 900
	defaultGoY       = 560
)

// Script drives the build flow.
type Script struct {
	mapX, mapY           int
	bookmarkX, bookmarkY int
	siteX, siteY         int
	centerX, centerY     int
	buildX, buildY       int
	goX, goY             int
}

// NewScript is the factory registered for the "build" kind.
func NewScript() eptask.Script {
	return &Script{
		mapX:      defaultMapX,
		mapY:      defaultMapY,
		bookmarkX: defaultBookmarkX,
		bookmarkY: defaultBookmarkY,
		siteX:     defaultSiteX,
		siteY:     defaultSiteY,
		centerX:   defaultCenterX,
		centerY:   defaultCenterY,
		buildX:    defaultBuildX,
		buildY:    defaultBuildY,
		goX:       defaultGoX,
		goY:       defaultGoY,
	}
}

func (s *Script) Kind() string { return "build" }

// Configure applies coordinate overrides.
func (s *Script) Configure(params map[string]interface{}) error {
	overrides := []struct {
		key    string
		target *int
	}{
		{"map_x", &s.mapX},
		{"map_y", &s.mapY},
		{"bookmark_x", &s.bookmarkX},
		{"bookmark_y", &s.bookmarkY},
		{"site_x", &s.siteX},
		{"site_y", &s.siteY},
		{"center_x", &s.centerX},
		{"center_y", &s.centerY},
		{"build_x", &s.buildX},
		{"build_y", &s.buildY},
		{"go_x", &s.goX},
		{"go_y", &s.goY},
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

// Steps walks: home screen -> map view -> bookmark jump -> select site ->
// build dialog -> dispatch one troop, then backs out to the home screen.
func (s *Script) Steps() []eptask.Step {
	return []eptask.Step{
		{
			Phase:   eptask.AwaitingLogin,
			Region:  "screen_state",
			Expect:  []string{"home"},
			Actions: []eptask.Action{eptask.Tap(s.mapX, s.mapY), eptask.Wait(2000)},
		},
		{
			Phase:  eptask.Navigating,
			Region: "screen_state",
			Expect: []string{"map"},
			Actions: []eptask.Action{
				eptask.Tap(s.bookmarkX, s.bookmarkY),
				eptask.Wait(1000),
				eptask.Tap(s.siteX, s.siteY),
				eptask.Wait(2000),
			},
		},
		{
			Phase: eptask.ExecutingAction,
			Actions: []eptask.Action{
				eptask.Tap(s.centerX, s.centerY),
				eptask.Tap(s.buildX, s.buildY),
				eptask.Tap(s.goX, s.goY),
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
