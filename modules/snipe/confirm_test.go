package snipe

import (
	"testing"
	"time"

	"ex-snipe/pkg/otogi"
)

func TestConfirmationsAcknowledge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		actorID     string
		messageID   string
		at          time.Duration
		wantOutcome ackOutcome
		wantPending int
	}{
		{name: "sniper accepted", actorID: "sniper", messageID: "resp", at: time.Second, wantOutcome: ackAccepted},
		{name: "author accepted", actorID: "author", messageID: "resp", at: time.Second, wantOutcome: ackAccepted},
		{name: "stranger denied", actorID: "stranger", messageID: "resp", at: time.Second, wantOutcome: ackDenied, wantPending: 1},
		{name: "unknown message ignored", actorID: "sniper", messageID: "other", at: time.Second, wantOutcome: ackIgnored, wantPending: 1},
		{name: "timed out ignored", actorID: "sniper", messageID: "resp", at: 10 * time.Second, wantOutcome: ackIgnored},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			confirmations := newConfirmations()
			response := otogi.OutboundMessage{ID: "resp"}
			if _, err := confirmations.register(testChannel, response, "sniper", "author", at(0), 10*time.Second); err != nil {
				t.Fatalf("register: %v", err)
			}

			pending, outcome := confirmations.acknowledge(testChannel, testCase.messageID, testCase.actorID, at(testCase.at))
			if outcome != testCase.wantOutcome {
				t.Fatalf("outcome = %v, want %v", outcome, testCase.wantOutcome)
			}
			if outcome == ackAccepted && pending.response.ID != "resp" {
				t.Fatalf("pending response = %q, want resp", pending.response.ID)
			}
			if got := confirmations.len(); got != testCase.wantPending {
				t.Fatalf("pending = %d, want %d", got, testCase.wantPending)
			}
		})
	}
}

func TestConfirmationsAcceptOnce(t *testing.T) {
	t.Parallel()

	confirmations := newConfirmations()
	if _, err := confirmations.register(testChannel, otogi.OutboundMessage{ID: "resp"}, "sniper", "", at(0), time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, outcome := confirmations.acknowledge(testChannel, "resp", "sniper", at(time.Second)); outcome != ackAccepted {
		t.Fatalf("first outcome = %v, want accepted", outcome)
	}
	if _, outcome := confirmations.acknowledge(testChannel, "resp", "sniper", at(2*time.Second)); outcome != ackIgnored {
		t.Fatalf("second outcome = %v, want ignored", outcome)
	}
}

func TestConfirmationsRegisterIDsAreOrdered(t *testing.T) {
	t.Parallel()

	confirmations := newConfirmations()
	first, err := confirmations.register(testChannel, otogi.OutboundMessage{ID: "a"}, "s", "", at(0), time.Minute)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := confirmations.register(testChannel, otogi.OutboundMessage{ID: "b"}, "s", "", at(0), time.Minute)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.Compare(second) >= 0 {
		t.Fatalf("ids not increasing: %s then %s", first, second)
	}
}

func TestConfirmationsPrune(t *testing.T) {
	t.Parallel()

	confirmations := newConfirmations()
	for _, id := range []string{"a", "b"} {
		if _, err := confirmations.register(testChannel, otogi.OutboundMessage{ID: id}, "s", "", at(0), 5*time.Second); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if _, err := confirmations.register(testChannel, otogi.OutboundMessage{ID: "c"}, "s", "", at(0), time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}
	confirmations.rememberResponse(testChannel, "a", at(10*time.Second))

	if removed := confirmations.prune(at(5 * time.Second)); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if confirmations.len() != 1 {
		t.Fatalf("pending = %d, want 1", confirmations.len())
	}
	if !confirmations.isResponse(testChannel, "a", at(5*time.Second)) {
		t.Fatal("response forgotten before its retention")
	}

	confirmations.prune(at(10 * time.Second))
	if confirmations.isResponse(testChannel, "a", at(5*time.Second)) {
		t.Fatal("response remembered after prune")
	}
}
