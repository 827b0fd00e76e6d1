package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"ex-snipe/pkg/otogi"
)

func TestCacheObserve(t *testing.T) {
	tests := []struct {
		name         string
		seed         []*otogi.Event
		event        *otogi.Event
		wantFound    bool
		wantPrevText string
		wantLen      int
		wantText     string
	}{
		{
			name:     "created article is stored without previous state",
			event:    newCreatedEvent("chat-1", "msg-1", "hello"),
			wantLen:  1,
			wantText: "hello",
		},
		{
			name:         "edit returns pre-edit state and stores post-edit text",
			seed:         []*otogi.Event{newCreatedEvent("chat-1", "msg-1", "hello")},
			event:        newEditedEvent("chat-1", "msg-1", "hello world"),
			wantFound:    true,
			wantPrevText: "hello",
			wantLen:      1,
			wantText:     "hello world",
		},
		{
			name:     "edit of unseen article stores post-edit text only",
			event:    newEditedEvent("chat-1", "msg-1", "late"),
			wantLen:  1,
			wantText: "late",
		},
		{
			name:         "retraction returns last state and drops the entry",
			seed:         []*otogi.Event{newCreatedEvent("chat-1", "msg-1", "bye")},
			event:        newRetractedEvent("chat-1", "msg-1"),
			wantFound:    true,
			wantPrevText: "bye",
		},
		{
			name:         "retraction without conversation resolves unique article id",
			seed:         []*otogi.Event{newCreatedEvent("chat-1", "msg-1", "bye")},
			event:        newRetractedEvent("", "msg-1"),
			wantFound:    true,
			wantPrevText: "bye",
		},
		{
			name: "retraction without conversation ignores ambiguous article id",
			seed: []*otogi.Event{
				newCreatedEvent("chat-1", "msg-1", "one"),
				newCreatedEvent("chat-2", "msg-1", "two"),
			},
			event:   newRetractedEvent("", "msg-1"),
			wantLen: 2,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cache := New()
			ctx := context.Background()
			for _, seed := range testCase.seed {
				if _, err := cache.Observe(ctx, seed); err != nil {
					t.Fatalf("seed observe failed: %v", err)
				}
			}

			observation, err := cache.Observe(ctx, testCase.event)
			if err != nil {
				t.Fatalf("observe failed: %v", err)
			}
			if observation.Found != testCase.wantFound {
				t.Fatalf("found = %v, want %v", observation.Found, testCase.wantFound)
			}
			if observation.Previous.Article.Text != testCase.wantPrevText {
				t.Fatalf("previous text = %q, want %q", observation.Previous.Article.Text, testCase.wantPrevText)
			}
			if cache.Len() != testCase.wantLen {
				t.Fatalf("len = %d, want %d", cache.Len(), testCase.wantLen)
			}
			if testCase.wantText == "" {
				return
			}

			memory, found, err := cache.Get(ctx, otogi.MemoryLookup{
				Platform:       otogi.PlatformTelegram,
				ConversationID: "chat-1",
				ArticleID:      "msg-1",
			})
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if !found {
				t.Fatal("expected cached entry")
			}
			if memory.Article.Text != testCase.wantText {
				t.Fatalf("text = %q, want %q", memory.Article.Text, testCase.wantText)
			}
		})
	}
}

func TestCacheEditKeepsAuthorAndCreationTime(t *testing.T) {
	t.Parallel()

	cache := New()
	ctx := context.Background()
	created := newCreatedEvent("chat-1", "msg-1", "hello")
	if _, err := cache.Observe(ctx, created); err != nil {
		t.Fatalf("observe created failed: %v", err)
	}
	edited := newEditedEvent("chat-1", "msg-1", "hullo")
	edited.Actor = otogi.Actor{}
	if _, err := cache.Observe(ctx, edited); err != nil {
		t.Fatalf("observe edited failed: %v", err)
	}

	memory, found, err := cache.Get(ctx, lookupFor("chat-1", "msg-1"))
	if err != nil || !found {
		t.Fatalf("get = (%v, %v), want entry", found, err)
	}
	if memory.Actor.ID != "user-1" {
		t.Fatalf("actor id = %q, want user-1", memory.Actor.ID)
	}
	if !memory.CreatedAt.Equal(created.OccurredAt) {
		t.Fatalf("created at = %v, want %v", memory.CreatedAt, created.OccurredAt)
	}
	if !memory.UpdatedAt.Equal(*edited.Mutation.ChangedAt) {
		t.Fatalf("updated at = %v, want %v", memory.UpdatedAt, *edited.Mutation.ChangedAt)
	}
}

func TestCacheCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	cache := New(WithMaxEntries(2))
	ctx := context.Background()
	for _, id := range []string{"msg-1", "msg-2"} {
		if _, err := cache.Observe(ctx, newCreatedEvent("chat-1", id, id)); err != nil {
			t.Fatalf("observe %s failed: %v", id, err)
		}
	}
	if _, _, err := cache.Get(ctx, lookupFor("chat-1", "msg-1")); err != nil {
		t.Fatalf("touch msg-1 failed: %v", err)
	}
	if _, err := cache.Observe(ctx, newCreatedEvent("chat-1", "msg-3", "msg-3")); err != nil {
		t.Fatalf("observe msg-3 failed: %v", err)
	}

	if cache.Len() != 2 {
		t.Fatalf("len = %d, want 2", cache.Len())
	}
	if _, found, _ := cache.Get(ctx, lookupFor("chat-1", "msg-2")); found {
		t.Fatal("expected msg-2 to be evicted")
	}
	if _, found, _ := cache.Get(ctx, lookupFor("chat-1", "msg-1")); !found {
		t.Fatal("expected msg-1 to survive")
	}
}

func TestCacheTTLAndPrune(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	cache := New(WithTTL(time.Minute), withClock(clock.Now))
	ctx := context.Background()
	for _, id := range []string{"msg-1", "msg-2"} {
		if _, err := cache.Observe(ctx, newCreatedEvent("chat-1", id, id)); err != nil {
			t.Fatalf("observe %s failed: %v", id, err)
		}
	}

	clock.Advance(30 * time.Second)
	if removed := cache.Prune(); removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}

	clock.Advance(31 * time.Second)
	if _, found, _ := cache.Get(ctx, lookupFor("chat-1", "msg-1")); found {
		t.Fatal("expected expired entry to be hidden")
	}
	if removed := cache.Prune(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if cache.Len() != 0 {
		t.Fatalf("len = %d, want 0", cache.Len())
	}
}

func TestCacheGetReturnsCopy(t *testing.T) {
	t.Parallel()

	cache := New()
	ctx := context.Background()
	event := newCreatedEvent("chat-1", "msg-1", "bold")
	event.Article.Entities = []otogi.TextEntity{{Type: otogi.TextEntityTypeBold, Offset: 0, Length: 4}}
	if _, err := cache.Observe(ctx, event); err != nil {
		t.Fatalf("observe failed: %v", err)
	}
	event.Article.Entities[0].Length = 1

	first, _, _ := cache.Get(ctx, lookupFor("chat-1", "msg-1"))
	first.Article.Entities[0].Offset = 3

	second, _, _ := cache.Get(ctx, lookupFor("chat-1", "msg-1"))
	if got := second.Article.Entities[0]; got.Offset != 0 || got.Length != 4 {
		t.Fatalf("entity = %+v, want untouched copy", got)
	}
}

func TestCacheGetReplied(t *testing.T) {
	t.Parallel()

	cache := New()
	ctx := context.Background()
	if _, err := cache.Observe(ctx, newCreatedEvent("chat-1", "msg-1", "parent")); err != nil {
		t.Fatalf("observe failed: %v", err)
	}

	reply := newCreatedEvent("chat-1", "msg-2", "child")
	reply.Article.ReplyToArticleID = "msg-1"
	memory, found, err := cache.GetReplied(ctx, reply)
	if err != nil {
		t.Fatalf("get replied failed: %v", err)
	}
	if !found || memory.Article.Text != "parent" {
		t.Fatalf("get replied = (%+v, %v), want parent", memory.Article, found)
	}

	_, found, err = cache.GetReplied(ctx, newCreatedEvent("chat-1", "msg-3", "plain"))
	if err != nil || found {
		t.Fatalf("get replied without reply = (%v, %v), want not found", found, err)
	}
}

func TestCacheObserveCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Observe(ctx, newCreatedEvent("chat-1", "msg-1", "x")); err == nil {
		t.Fatal("expected context error")
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(delta)
}

func lookupFor(conversationID string, articleID string) otogi.MemoryLookup {
	return otogi.MemoryLookup{
		Platform:       otogi.PlatformTelegram,
		ConversationID: conversationID,
		ArticleID:      articleID,
	}
}

var testEpoch = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func newCreatedEvent(conversationID string, articleID string, text string) *otogi.Event {
	return &otogi.Event{
		ID:           "created-" + conversationID + "-" + articleID,
		Kind:         otogi.EventKindArticleCreated,
		OccurredAt:   testEpoch,
		Source:       otogi.EventSource{Platform: otogi.PlatformTelegram, ID: "tg-main"},
		Platform:     otogi.PlatformTelegram,
		Conversation: otogi.Conversation{ID: conversationID, Type: otogi.ConversationTypeGroup},
		Actor:        otogi.Actor{ID: "user-1", DisplayName: "Alice"},
		Article:      &otogi.Article{ID: articleID, Text: text},
	}
}

func newEditedEvent(conversationID string, articleID string, text string) *otogi.Event {
	changedAt := testEpoch.Add(time.Minute)
	return &otogi.Event{
		ID:           "edited-" + conversationID + "-" + articleID,
		Kind:         otogi.EventKindArticleEdited,
		OccurredAt:   changedAt,
		Source:       otogi.EventSource{Platform: otogi.PlatformTelegram, ID: "tg-main"},
		Platform:     otogi.PlatformTelegram,
		Conversation: otogi.Conversation{ID: conversationID, Type: otogi.ConversationTypeGroup},
		Actor:        otogi.Actor{ID: "user-1", DisplayName: "Alice"},
		Mutation: &otogi.ArticleMutation{
			Type:            otogi.MutationTypeEdit,
			TargetArticleID: articleID,
			ChangedAt:       &changedAt,
			After:           &otogi.ArticleSnapshot{Text: text},
		},
	}
}

func newRetractedEvent(conversationID string, articleID string) *otogi.Event {
	return &otogi.Event{
		ID:           "retracted-" + conversationID + "-" + articleID,
		Kind:         otogi.EventKindArticleRetracted,
		OccurredAt:   testEpoch.Add(2 * time.Minute),
		Source:       otogi.EventSource{Platform: otogi.PlatformTelegram, ID: "tg-main"},
		Platform:     otogi.PlatformTelegram,
		Conversation: otogi.Conversation{ID: conversationID},
		Mutation: &otogi.ArticleMutation{
			Type:            otogi.MutationTypeRetraction,
			TargetArticleID: articleID,
		},
	}
}
