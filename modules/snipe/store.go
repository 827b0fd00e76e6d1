package snipe

import (
	"sync"
	"time"
)

// Snipe is a selected tracked message with its latest record.
type Snipe struct {
	Channel   Channel
	MessageID string
	Latest    ChangeRecord
	// Previous is the record before Latest in the same history, if any.
	Previous *ChangeRecord
}

// Store keeps per-channel change histories in memory.
//
// Every method runs under one mutex without I/O, so a Take is atomic with
// respect to concurrent RecordChange, Consume and Sweep calls.
type Store struct {
	mu       sync.Mutex
	channels map[Channel]map[string]*trackedMessage
	sequence uint64
	size     int
}

type trackedMessage struct {
	history []ChangeRecord
	// sequence orders appends across the store and breaks ChangedAt ties.
	sequence uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{channels: make(map[Channel]map[string]*trackedMessage)}
}

// IsExpired reports whether record is older than maxAge plus lenience at now.
func IsExpired(record ChangeRecord, now time.Time, maxAge time.Duration, lenience time.Duration) bool {
	return record.ChangedAt.Add(maxAge + lenience).Before(now)
}

// RecordChange appends record to the history of (channel, messageID).
func (s *Store) RecordChange(channel Channel, messageID string, record ChangeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := s.channels[channel]
	if messages == nil {
		messages = make(map[string]*trackedMessage)
		s.channels[channel] = messages
	}
	tracked := messages[messageID]
	if tracked == nil {
		tracked = &trackedMessage{}
		messages[messageID] = tracked
		s.size++
	}
	s.sequence++
	tracked.sequence = s.sequence
	tracked.history = append(tracked.history, record)
}

// LatestForChannel returns the most recently changed live message in channel
// without consuming it.
func (s *Store) LatestForChannel(channel Channel, now time.Time, maxAge time.Duration) (Snipe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messageID, found := s.selectLocked(channel, now, maxAge, nil)
	if !found {
		return Snipe{}, false
	}

	return s.snipeLocked(channel, messageID), true
}

// Take selects the most recently changed live message whose latest record
// satisfies eligible, removes it and returns it. Ineligible messages stay
// tracked.
func (s *Store) Take(
	channel Channel,
	now time.Time,
	maxAge time.Duration,
	eligible func(ChangeRecord) bool,
) (Snipe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messageID, found := s.selectLocked(channel, now, maxAge, eligible)
	if !found {
		return Snipe{}, false
	}
	snipe := s.snipeLocked(channel, messageID)
	s.consumeLocked(channel, messageID)

	return snipe, true
}

// Consume forgets the whole history of (channel, messageID).
func (s *Store) Consume(channel Channel, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consumeLocked(channel, messageID)
}

// Sweep evicts every message whose latest record expired and returns how
// many were removed.
func (s *Store) Sweep(now time.Time, maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		channel   Channel
		messageID string
	}
	stale := make([]key, 0)
	for channel, messages := range s.channels {
		for messageID, tracked := range messages {
			if IsExpired(tracked.latest(), now, maxAge, 0) {
				stale = append(stale, key{channel: channel, messageID: messageID})
			}
		}
	}
	for _, entry := range stale {
		s.consumeLocked(entry.channel, entry.messageID)
	}

	return len(stale)
}

// Len returns the number of tracked messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.size
}

// History returns a copy of the records tracked for (channel, messageID).
func (s *Store) History(channel Channel, messageID string) []ChangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked := s.channels[channel][messageID]
	if tracked == nil {
		return nil
	}

	return append([]ChangeRecord(nil), tracked.history...)
}

// Reset drops every tracked message.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channels = make(map[Channel]map[string]*trackedMessage)
	s.size = 0
}

func (s *Store) selectLocked(
	channel Channel,
	now time.Time,
	maxAge time.Duration,
	eligible func(ChangeRecord) bool,
) (string, bool) {
	var (
		bestID      string
		bestChanged time.Time
		bestSeq     uint64
		found       bool
	)
	for messageID, tracked := range s.channels[channel] {
		latest := tracked.latest()
		if IsExpired(latest, now, maxAge, 0) {
			continue
		}
		if eligible != nil && !eligible(latest) {
			continue
		}
		if found {
			if latest.ChangedAt.Before(bestChanged) {
				continue
			}
			if latest.ChangedAt.Equal(bestChanged) && tracked.sequence < bestSeq {
				continue
			}
		}
		bestID = messageID
		bestChanged = latest.ChangedAt
		bestSeq = tracked.sequence
		found = true
	}

	return bestID, found
}

func (s *Store) snipeLocked(channel Channel, messageID string) Snipe {
	tracked := s.channels[channel][messageID]
	snipe := Snipe{
		Channel:   channel,
		MessageID: messageID,
		Latest:    tracked.latest(),
	}
	if count := len(tracked.history); count > 1 {
		previous := tracked.history[count-2]
		snipe.Previous = &previous
	}

	return snipe
}

func (s *Store) consumeLocked(channel Channel, messageID string) {
	messages := s.channels[channel]
	if _, exists := messages[messageID]; !exists {
		return
	}
	delete(messages, messageID)
	s.size--
	if len(messages) == 0 {
		delete(s.channels, channel)
	}
}

func (t *trackedMessage) latest() ChangeRecord {
	return t.history[len(t.history)-1]
}
