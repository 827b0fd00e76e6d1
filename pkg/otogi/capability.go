package otogi

import (
	"slices"
)

// Capability is what a module declares for one handler: the events it wants
// and the services that must exist before it can be registered.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet selects events for a subscription. Empty fields select
// everything; Require* flags demand the matching payload be present.
type InterestSet struct {
	Kinds []EventKind
	// Sources restricts delivery to matching drivers. An empty platform or
	// ID in an entry is a wildcard.
	Sources         []EventSource
	RequireArticle  bool
	RequireReaction bool
	RequireCommand  bool
	// CommandNames restricts command events to the listed invocation names,
	// compared case-insensitively.
	CommandNames []string
}

// Matches reports whether event is selected by the interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !slices.Contains(i.Kinds, event.Kind) {
		return false
	}
	if len(i.Sources) > 0 && !anySourceCovers(i.Sources, event.Source) {
		return false
	}

	switch {
	case i.RequireArticle && event.Article == nil:
		return false
	case i.RequireReaction && event.Reaction == nil:
		return false
	case i.RequireCommand && event.Command == nil:
		return false
	}

	if len(i.CommandNames) == 0 {
		return true
	}

	return event.Command != nil && containsCommandName(i.CommandNames, event.Command.Name)
}

// Covers reports whether every event selected by filter is also selected
// by i. The kernel uses it to keep a subscription inside the capability a
// module declared.
func (i InterestSet) Covers(filter InterestSet) bool {
	if len(i.Kinds) > 0 {
		if len(filter.Kinds) == 0 {
			return false
		}
		for _, kind := range filter.Kinds {
			if !slices.Contains(i.Kinds, kind) {
				return false
			}
		}
	}
	if len(i.Sources) > 0 {
		if len(filter.Sources) == 0 {
			return false
		}
		for _, source := range filter.Sources {
			if !anySourceCovers(i.Sources, source) {
				return false
			}
		}
	}
	if len(i.CommandNames) > 0 {
		if len(filter.CommandNames) == 0 {
			return false
		}
		for _, name := range filter.CommandNames {
			if !containsCommandName(i.CommandNames, name) {
				return false
			}
		}
	}

	return (!i.RequireArticle || filter.RequireArticle) &&
		(!i.RequireReaction || filter.RequireReaction) &&
		(!i.RequireCommand || filter.RequireCommand)
}

// Clone returns a copy that shares no slices with i.
func (i InterestSet) Clone() InterestSet {
	cloned := i
	cloned.Kinds = slices.Clone(i.Kinds)
	cloned.Sources = slices.Clone(i.Sources)
	cloned.CommandNames = slices.Clone(i.CommandNames)

	return cloned
}

// covers reports whether s, possibly holding wildcards, selects other.
func (s EventSource) covers(other EventSource) bool {
	if s.Platform != "" && s.Platform != other.Platform {
		return false
	}

	return s.ID == "" || s.ID == other.ID
}

func anySourceCovers(sources []EventSource, source EventSource) bool {
	return slices.ContainsFunc(sources, func(candidate EventSource) bool {
		return candidate.covers(source)
	})
}

func containsCommandName(names []string, target string) bool {
	target = normalizeCommandName(target)
	return slices.ContainsFunc(names, func(name string) bool {
		return normalizeCommandName(name) == target
	})
}
