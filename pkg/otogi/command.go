package otogi

import (
	"fmt"
	"slices"
	"strings"
)

// CommandPrefix is the leading character that turns an article into a
// command. Ordinary commands are open to everyone; system commands are
// reserved for operators and are delivered as a separate event kind.
type CommandPrefix string

const (
	CommandPrefixOrdinary CommandPrefix = "/"
	CommandPrefixSystem   CommandPrefix = "~"
)

var commandPrefixes = []CommandPrefix{CommandPrefixOrdinary, CommandPrefixSystem}

// Validate rejects prefixes other than the two known ones.
func (p CommandPrefix) Validate() error {
	if !slices.Contains(commandPrefixes, p) {
		return fmt.Errorf("validate command prefix: unsupported prefix %q", p)
	}

	return nil
}

// CommandCandidate is an article that looks like a command but has not yet
// been matched against a registered CommandSpec.
type CommandCandidate struct {
	Prefix CommandPrefix
	// Name is lower-cased with prefix and mention removed.
	Name string
	// Mention is the bot username from `/name@mention`, if any.
	Mention  string
	RawInput string
	// Tokens are the whitespace-separated words after the header.
	Tokens []string
}

// CommandInvocation is the payload of a derived command event.
type CommandInvocation struct {
	Name    string
	Mention string
	Args    []string
	// Value is Args joined by single spaces.
	Value           string
	SourceEventID   string
	SourceEventKind EventKind
	RawInput        string
}

func (c *CommandInvocation) Validate() error {
	switch {
	case c == nil:
		return fmt.Errorf("validate command invocation: nil invocation")
	case normalizeCommandName(c.Name) == "":
		return fmt.Errorf("validate command invocation: missing name")
	case c.SourceEventID == "":
		return fmt.Errorf("validate command invocation: missing source_event_id")
	case c.SourceEventKind == "":
		return fmt.Errorf("validate command invocation: missing source_event_kind")
	}

	return nil
}

// CommandSpec is one command a module claims from the kernel.
type CommandSpec struct {
	Prefix      CommandPrefix
	Name        string
	Description string
	// Usage is the argument synopsis, e.g. "[key [value]]".
	Usage string
	// MaxArgs limits tail tokens. Zero means unlimited.
	MaxArgs int
}

// Label is the normalized invocation text, e.g. "/snipe". The kernel keys
// its command table by it.
func (s CommandSpec) Label() string {
	return string(s.Prefix) + normalizeCommandName(s.Name)
}

// Synopsis is Label followed by Usage when the command takes arguments.
func (s CommandSpec) Synopsis() string {
	if s.Usage == "" {
		return s.Label()
	}

	return s.Label() + " " + s.Usage
}

func (s CommandSpec) Validate() error {
	if err := s.Prefix.Validate(); err != nil {
		return fmt.Errorf("validate command spec %q: %w", s.Name, err)
	}

	name := normalizeCommandName(s.Name)
	switch {
	case name == "":
		return fmt.Errorf("validate command spec: missing name")
	case strings.ContainsAny(name, " \t\r\n@"):
		return fmt.Errorf("validate command spec %q: invalid name", s.Name)
	case s.MaxArgs < 0:
		return fmt.Errorf("validate command spec %s: negative max args", s.Name)
	}

	return nil
}

// ParseCommandCandidate splits text into a candidate. matched is false when
// text does not start with a command prefix; err is set when it does but
// carries no name.
func ParseCommandCandidate(text string) (candidate CommandCandidate, matched bool, err error) {
	candidate.RawInput = text

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return candidate, false, nil
	}

	header := fields[0]
	index := slices.IndexFunc(commandPrefixes, func(prefix CommandPrefix) bool {
		return strings.HasPrefix(header, string(prefix))
	})
	if index < 0 {
		return candidate, false, nil
	}
	candidate.Prefix = commandPrefixes[index]

	name, mention, _ := strings.Cut(strings.TrimPrefix(header, string(candidate.Prefix)), "@")
	candidate.Name = normalizeCommandName(name)
	candidate.Mention = strings.TrimSpace(mention)
	candidate.Tokens = slices.Clone(fields[1:])
	if len(candidate.Tokens) == 0 {
		candidate.Tokens = nil
	}
	if candidate.Name == "" {
		return candidate, true, fmt.Errorf("parse command candidate: missing command name")
	}

	return candidate, true, nil
}

// BindCommand checks candidate against spec and builds the invocation for a
// command derived from sourceEvent.
func BindCommand(candidate CommandCandidate, spec CommandSpec, sourceEvent *Event) (CommandInvocation, error) {
	if sourceEvent == nil {
		return CommandInvocation{}, fmt.Errorf("bind command: nil source event")
	}
	if err := spec.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	name := normalizeCommandName(spec.Name)
	switch {
	case candidate.Prefix != spec.Prefix:
		return CommandInvocation{}, fmt.Errorf(
			"bind command %s: prefix mismatch, got %q want %q",
			spec.Name,
			candidate.Prefix,
			spec.Prefix,
		)
	case normalizeCommandName(candidate.Name) != name:
		return CommandInvocation{}, fmt.Errorf("bind command %s: name mismatch, got %q", spec.Name, candidate.Name)
	case spec.MaxArgs > 0 && len(candidate.Tokens) > spec.MaxArgs:
		return CommandInvocation{}, fmt.Errorf(
			"bind command %s: too many arguments, got %d want at most %d",
			spec.Name,
			len(candidate.Tokens),
			spec.MaxArgs,
		)
	}

	invocation := CommandInvocation{
		Name:            name,
		Mention:         candidate.Mention,
		Args:            slices.Clone(candidate.Tokens),
		Value:           strings.Join(candidate.Tokens, " "),
		SourceEventID:   sourceEvent.ID,
		SourceEventKind: sourceEvent.Kind,
		RawInput:        candidate.RawInput,
	}
	if err := invocation.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	return invocation, nil
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
