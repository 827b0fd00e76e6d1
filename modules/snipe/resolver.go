package snipe

import "time"

// Outcome is the result class of one snipe request.
type Outcome string

const (
	// OutcomeDisabled means both edit and deletion sniping are off.
	OutcomeDisabled Outcome = "disabled"
	// OutcomeEmpty means no eligible record exists in the channel.
	OutcomeEmpty Outcome = "empty"
	// OutcomeSniped means a record was consumed.
	OutcomeSniped Outcome = "sniped"
)

// Resolution carries the consumed snipe when Outcome is OutcomeSniped.
type Resolution struct {
	Outcome Outcome
	Snipe   Snipe
}

// Resolve consumes the latest eligible change in channel.
//
// A record is eligible when its kind is enabled in settings and its content
// is not automated. Selection and removal happen in one Store.Take, so two
// concurrent resolutions never return the same message. Consumption is
// final even if the caller later fails to present the snipe.
func Resolve(store *Store, settings Settings, channel Channel, now time.Time) Resolution {
	if !settings.SnipingEnabled() {
		return Resolution{Outcome: OutcomeDisabled}
	}

	snipe, found := store.Take(channel, now, settings.MaxAge, func(record ChangeRecord) bool {
		return settings.Allows(record.Kind) && !record.Content.Automated
	})
	if !found {
		return Resolution{Outcome: OutcomeEmpty}
	}

	return Resolution{Outcome: OutcomeSniped, Snipe: snipe}
}
