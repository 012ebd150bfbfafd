// Package config collects the tunable knobs that govern team density,
// recruitment timeouts, and wiggle pacing for a Team Collection.
//
// Values mirror the constants a data-distribution control plane keeps as
// server-side knobs rather than operator-facing flags: they are safe
// defaults, not things most deployments need to touch.
package config

import "time"

// Region identifies which symmetric Team Collection instance a value
// belongs to. Two Team Collections run per cluster — one per region — and
// most persistent keys and counters are namespaced by Region.
type Region string

const (
	RegionPrimary Region = "primary"
	RegionRemote  Region = "remote"
)

// DataDistributionMode is the level at which shard relocation runs.
//
// The mode is read from the persisted dataDistributionMode key at
// bootstrap. No component in this module changes its behavior based on
// it: a Disabled or PausedForTest collection runs its trackers and
// publishes relocation requests the same way an Enabled one does.
type DataDistributionMode int

const (
	ModeDisabled DataDistributionMode = iota
	ModePausedForTest
	ModeEnabled
)

// Knobs bundles every tunable used by the team builder, remover, health
// trackers, recruiter, and wiggler. A TeamCollection owns one Knobs value
// per region; tests construct their own with tight timeouts.
type Knobs struct {
	TeamSize int

	DesiredPerServer float64
	MaxPerServer     float64

	// BestTeamOptionCount bounds how many random healthy teams getTeam
	// samples when !wantsTrueBest.
	BestTeamOptionCount int
	// BestTeamMaxTeamTries bounds total draw attempts while sampling.
	BestTeamMaxTeamTries int

	// OverlapPenalty scales the overlap term in team-construction scoring.
	OverlapPenalty float64

	// MaxMachineTeamBuildAttempts / MaxMachineTeamBuildAttemptsOnOverlap
	// bound how many candidate machine teams a build pass considers before
	// giving up (baseline 4, extensible to 100 under overlap pressure).
	MaxMachineTeamBuildAttempts           int
	MaxMachineTeamBuildAttemptsOnOverlap  int

	// AvailableSpaceUpdateDelay is how often medianAvailableSpace refreshes.
	AvailableSpaceUpdateDelay time.Duration
	MinAvailableSpaceRatio    float64
	TargetAvailableSpaceRatio float64

	// FailureReactionDelay suppresses transient flapping before a team's
	// health transition is believed.
	FailureReactionDelay time.Duration

	// StorageRecruitmentDelay backs off between recruitment attempts on the
	// same address.
	StorageRecruitmentDelay time.Duration
	// TSSRecruitmentTimeout bounds how long a TSS half waits for its SS
	// pair before the pairing attempt is marked failed.
	TSSRecruitmentTimeout time.Duration

	// DDStallCheckDelay is the health-stall warning interval.
	DDStallCheckDelay time.Duration

	// PerpetualWiggleDelay jitters the wiggle iterator's pacing.
	PerpetualWiggleDelay time.Duration

	// WigglePauseThreshold is the BestTeamStuckCount value at or above
	// which the wiggler pauses (see wiggle.Wiggler.paused).
	// WiggleStuckThreshold has a default but is not read by any code in
	// this module. See DESIGN.md "Open question resolutions".
	WigglePauseThreshold int
	WiggleStuckThreshold int
	// MaxExtraTeamCount bounds extraTeamCount's growth.
	MaxExtraTeamCount int

	// MaxReadTransactionLifeVersions is the version-age a server's
	// addedVersion must clear before it may be removed.
	MaxReadTransactionLifeVersions int64

	// AggressiveWiggle enables the wrong-engine remover to delete SS with
	// the wrong engine type without waiting for the wiggler.
	AggressiveWiggle bool

	// RandomSeed seeds the collection's deterministic randomness source.
	RandomSeed int64
}

// Default returns the knob set a production deployment starts from.
func Default() Knobs {
	return Knobs{
		TeamSize:                             3,
		DesiredPerServer:                      5,
		MaxPerServer:                          10,
		BestTeamOptionCount:                   4,
		BestTeamMaxTeamTries:                  100,
		OverlapPenalty:                        10,
		MaxMachineTeamBuildAttempts:           4,
		MaxMachineTeamBuildAttemptsOnOverlap:  100,
		AvailableSpaceUpdateDelay:             60 * time.Second,
		MinAvailableSpaceRatio:                0.05,
		TargetAvailableSpaceRatio:             0.2,
		FailureReactionDelay:                  75 * time.Second,
		StorageRecruitmentDelay:               2 * time.Second,
		TSSRecruitmentTimeout:                 5 * time.Minute,
		DDStallCheckDelay:                     30 * time.Second,
		PerpetualWiggleDelay:                  50 * time.Millisecond,
		WigglePauseThreshold:                  2,
		WiggleStuckThreshold:                  20,
		MaxExtraTeamCount:                     10,
		MaxReadTransactionLifeVersions:         5 * 1_000_000,
		AggressiveWiggle:                       false,
		RandomSeed:                             0,
	}
}

// TargetPerServer is `(DESIRED_PER_SERVER * (teamSize + 1)) / 2`,
// also reused by the team remover as the per-entity cap.
func (k Knobs) TargetPerServer() float64 {
	return k.DesiredPerServer * float64(k.TeamSize+1) / 2
}
