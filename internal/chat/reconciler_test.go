package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestReconciler() *Reconciler {
	r := NewReconciler()
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("local-%d", n)
	}
	r.now = func() time.Time { return baseTime }
	return r
}

func assertNonDecreasing(t *testing.T, msgs []Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].DisplayAt.Before(msgs[i-1].DisplayAt),
			"message %d (%s) is older than its predecessor", i, msgs[i].Key())
	}
}

func assertUniqueIDs(t *testing.T, msgs []Message) {
	t.Helper()
	seen := map[string]bool{}
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		assert.False(t, seen[m.ID], "duplicate durable id %s", m.ID)
		seen[m.ID] = true
	}
}

func TestReconciler_LoadSortsHistory(t *testing.T) {
	r := newTestReconciler()
	r.Load("s1", []Message{
		{ID: "m2", SessionID: "s1", Role: RoleAssistant, Content: "b", CreatedAt: baseTime.Add(2 * time.Second)},
		{ID: "m1", SessionID: "s1", Role: RoleUser, Content: "a", CreatedAt: baseTime.Add(time.Second)},
	})

	msgs := r.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, StateConfirmed, msgs[0].State)
	assert.Equal(t, PhaseLoaded, r.Phase())
	assert.Equal(t, "s1", r.SessionID())
}

func TestReconciler_BeginExchange(t *testing.T) {
	r := newTestReconciler()
	r.Activate("s1")

	user, assistant, err := r.BeginExchange("What is a tort?")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, user.Role)
	assert.Equal(t, RoleAssistant, assistant.Role)
	assert.Empty(t, assistant.Content)
	assert.Equal(t, PhaseSending, r.Phase())

	_, _, err = r.BeginExchange("again")
	assert.ErrorIs(t, err, ErrExchangeInFlight)
	assert.Equal(t, 2, r.Len())
}

func TestReconciler_StreamingReplacesContent(t *testing.T) {
	r := newTestReconciler()
	r.Activate("s1")
	_, assistant, err := r.BeginExchange("q")
	require.NoError(t, err)

	assert.True(t, r.ApplyContent(assistant.LocalID, "Hel"))
	assert.Equal(t, PhaseStreaming, r.Phase())
	assert.True(t, r.ApplyContent(assistant.LocalID, "Hello"))

	msgs := r.Snapshot()
	assert.Equal(t, "Hello", msgs[1].Content)

	assert.True(t, r.CompleteExchange(assistant.LocalID))
	assert.Equal(t, PhaseLoaded, r.Phase())
}

func TestReconciler_ApplyContentAfterNavigation(t *testing.T) {
	r := newTestReconciler()
	r.Activate("s1")
	_, assistant, err := r.BeginExchange("q")
	require.NoError(t, err)

	r.Activate("s2")
	assert.False(t, r.ApplyContent(assistant.LocalID, "late"))
	assert.Equal(t, 0, r.Len())
}

func TestReconciler_ConfirmThenEcho(t *testing.T) {
	r := newTestReconciler()
	r.Activate("s1")
	user, _, err := r.BeginExchange("hello")
	require.NoError(t, err)
	require.True(t, r.MarkPending(user.LocalID))

	persistedAt := baseTime.Add(time.Second)
	assert.True(t, r.ConfirmLocal(user.LocalID, Persisted{ID: "m1", CreatedAt: persistedAt}))

	changed := r.ApplyEcho(Message{ID: "m1", SessionID: "s1", Role: RoleUser, Content: "hello", CreatedAt: persistedAt})
	assert.False(t, changed)

	msgs := r.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, StateConfirmed, msgs[0].State)
	assert.Equal(t, persistedAt, msgs[0].PersistedAt)
	assertUniqueIDs(t, msgs)
}

func TestReconciler_EchoThenConfirm(t *testing.T) {
	r := newTestReconciler()
	r.Activate("s1")
	user, _, err := r.BeginExchange("hello")
	require.NoError(t, err)
	require.True(t, r.MarkPending(user.LocalID))

	persistedAt := baseTime.Add(time.Second)
	assert.True(t, r.ApplyEcho(Message{ID: "m1", SessionID: "s1", Role: RoleUser, Content: "hello", CreatedAt: persistedAt}))
	assert.Equal(t, 2, r.Len(), "echo must be adopted by the pending entry")

	r.ConfirmLocal(user.LocalID, Persisted{ID: "m1", CreatedAt: persistedAt})

	msgs := r.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, user.LocalID, msgs[0].LocalID)
	assertUniqueIDs(t, msgs)
}

func TestReconciler_EchoBeforePendingIsAppendedThenMerged(t *testing.T) {
	r := newTestReconciler()
	r.Activate("s1")
	user, _, err := r.BeginExchange("hello")
	require.NoError(t, err)

	// still local-only, so the echo cannot be adopted yet
	assert.True(t, r.ApplyEcho(Message{ID: "m1", SessionID: "s1", Role: RoleUser, Content: "hello", CreatedAt: baseTime}))
	assert.Equal(t, 3, r.Len())

	r.ConfirmLocal(user.LocalID, Persisted{ID: "m1", CreatedAt: baseTime})
	msgs := r.Snapshot()
	assert.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assertUniqueIDs(t, msgs)
}

func TestReconciler_SameTextFromAnotherWriter(t *testing.T) {
	r := newTestReconciler()
	r.Activate("s1")
	user, _, err := r.BeginExchange("hello")
	require.NoError(t, err)
	require.True(t, r.MarkPending(user.LocalID))

	// another tab sent the same text; its echo arrives first and is adopted
	other := baseTime.Add(time.Second)
	require.True(t, r.ApplyEcho(Message{ID: "other", SessionID: "s1", Role: RoleUser, Content: "hello", CreatedAt: other}))

	// our own confirmation carries a different id; both rows must show
	mine := baseTime.Add(2 * time.Second)
	assert.True(t, r.ConfirmLocal(user.LocalID, Persisted{ID: "mine", CreatedAt: mine}))

	msgs := r.Snapshot()
	require.Len(t, msgs, 3)
	ids := []string{}
	for _, m := range msgs {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	assert.ElementsMatch(t, []string{"mine", "other"}, ids)
	assertUniqueIDs(t, msgs)
	assertNonDecreasing(t, msgs)
}

func TestReconciler_EchoFromOtherTab(t *testing.T) {
	r := newTestReconciler()
	r.Load("s1", []Message{{ID: "m1", SessionID: "s1", Role: RoleUser, Content: "a", CreatedAt: baseTime}})

	assert.True(t, r.ApplyEcho(Message{ID: "m2", SessionID: "s1", Role: RoleUser, Content: "from tab B", CreatedAt: baseTime.Add(time.Second)}))
	assert.False(t, r.ApplyEcho(Message{ID: "m2", SessionID: "s1", Role: RoleUser, Content: "from tab B", CreatedAt: baseTime.Add(time.Second)}))

	msgs := r.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "from tab B", msgs[1].Content)
}

func TestReconciler_EchoForOtherSessionIgnored(t *testing.T) {
	r := newTestReconciler()
	r.Activate("s1")
	assert.False(t, r.ApplyEcho(Message{ID: "x", SessionID: "s2", Role: RoleUser, Content: "x"}))
	assert.False(t, r.ApplyEcho(Message{SessionID: "s1", Role: RoleUser, Content: "no id"}))
	assert.Equal(t, 0, r.Len())
}

func TestReconciler_ArrivalOrders(t *testing.T) {
	type step func(r *Reconciler, userLocal, asstLocal string)

	confirmUser := func(r *Reconciler, u, _ string) {
		r.ConfirmLocal(u, Persisted{ID: "u1", CreatedAt: baseTime.Add(time.Second)})
	}
	confirmAsst := func(r *Reconciler, _, a string) {
		r.ConfirmLocal(a, Persisted{ID: "a1", CreatedAt: baseTime.Add(3 * time.Second)})
	}
	echoUser := func(r *Reconciler, _, _ string) {
		r.ApplyEcho(Message{ID: "u1", SessionID: "s1", Role: RoleUser, Content: "q", CreatedAt: baseTime.Add(time.Second)})
	}
	echoAsst := func(r *Reconciler, _, _ string) {
		r.ApplyEcho(Message{ID: "a1", SessionID: "s1", Role: RoleAssistant, Content: "answer", CreatedAt: baseTime.Add(3 * time.Second)})
	}

	orders := map[string][]step{
		"confirm-confirm-echo-echo": {confirmUser, confirmAsst, echoUser, echoAsst},
		"echo-echo-confirm-confirm": {echoUser, echoAsst, confirmUser, confirmAsst},
		"echo-confirm-echo-confirm": {echoUser, confirmUser, echoAsst, confirmAsst},
		"confirm-echo-confirm-echo": {confirmUser, echoAsst, confirmAsst, echoUser},
		"echo-asst-first":           {echoAsst, echoUser, confirmAsst, confirmUser},
	}

	for name, steps := range orders {
		t.Run(name, func(t *testing.T) {
			r := newTestReconciler()
			r.Activate("s1")
			user, asst, err := r.BeginExchange("q")
			require.NoError(t, err)
			r.MarkPending(user.LocalID)
			r.ApplyContent(asst.LocalID, "answer")
			r.MarkPending(asst.LocalID)

			for _, s := range steps {
				s(r, user.LocalID, asst.LocalID)
			}

			msgs := r.Snapshot()
			require.Len(t, msgs, 2)
			assert.Equal(t, "u1", msgs[0].ID)
			assert.Equal(t, "a1", msgs[1].ID)
			assertUniqueIDs(t, msgs)
			assertNonDecreasing(t, msgs)
		})
	}
}

func TestReconciler_ConfirmWithOlderServerTime(t *testing.T) {
	r := newTestReconciler()
	r.Load("s1", []Message{{ID: "m0", SessionID: "s1", Role: RoleAssistant, Content: "old", CreatedAt: baseTime.Add(10 * time.Second)}})
	user, _, err := r.BeginExchange("q")
	require.NoError(t, err)

	// server clock is behind the last loaded row
	r.ConfirmLocal(user.LocalID, Persisted{ID: "m1", CreatedAt: baseTime.Add(5 * time.Second)})

	msgs := r.Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, "m0", msgs[0].ID)
	assert.Equal(t, "m1", msgs[1].ID)
	assertNonDecreasing(t, msgs)
	assert.Equal(t, baseTime.Add(5*time.Second), msgs[1].CreatedAt)
	assert.Equal(t, baseTime.Add(10*time.Second), msgs[1].DisplayAt)
}

func TestReconciler_EchoKeepsStoreTimestamp(t *testing.T) {
	r := newTestReconciler()
	r.Load("s1", []Message{{ID: "m0", SessionID: "s1", Role: RoleUser, Content: "first", CreatedAt: baseTime.Add(time.Minute)}})

	older := baseTime.Add(30 * time.Second)
	require.True(t, r.ApplyEcho(Message{ID: "m1", SessionID: "s1", Role: RoleAssistant, Content: "late row", CreatedAt: older}))

	msgs := r.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, older, msgs[1].CreatedAt)
	assert.Equal(t, older, msgs[1].PersistedAt)
	assert.Equal(t, baseTime.Add(time.Minute), msgs[1].DisplayAt)
	assertNonDecreasing(t, msgs)
}

func TestReconciler_DisplayTimeFollowsCorrectedPredecessor(t *testing.T) {
	r := newTestReconciler()
	r.now = func() time.Time { return baseTime.Add(time.Hour) }
	r.Activate("s1")
	user, asst, err := r.BeginExchange("q")
	require.NoError(t, err)
	r.MarkPending(user.LocalID)

	// the local clock ran ahead of the store
	require.True(t, r.ConfirmLocal(user.LocalID, Persisted{ID: "u1", CreatedAt: baseTime}))

	msgs := r.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, baseTime, msgs[0].CreatedAt)
	assert.Equal(t, baseTime, msgs[0].DisplayAt)
	assert.Equal(t, asst.LocalID, msgs[1].LocalID)
	assert.Equal(t, baseTime.Add(time.Hour), msgs[1].DisplayAt)
	assertNonDecreasing(t, msgs)
}

func TestReconciler_LoadKeepsOptimisticTail(t *testing.T) {
	r := newTestReconciler()
	r.Activate("s1")
	user, asst, err := r.BeginExchange("q")
	require.NoError(t, err)
	r.MarkPending(user.LocalID)
	r.ConfirmLocal(user.LocalID, Persisted{ID: "u1", CreatedAt: baseTime})

	r.Load("s1", []Message{
		{ID: "h1", SessionID: "s1", Role: RoleUser, Content: "earlier", CreatedAt: baseTime.Add(-time.Minute)},
		{ID: "u1", SessionID: "s1", Role: RoleUser, Content: "q", CreatedAt: baseTime},
	})

	msgs := r.Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, "h1", msgs[0].ID)
	assert.Equal(t, "u1", msgs[1].ID)
	assert.Equal(t, asst.LocalID, msgs[2].LocalID)
	assert.Equal(t, PhaseSending, r.Phase())
	assertUniqueIDs(t, msgs)
}

func TestReconciler_MergeFillsGapWithoutDuplicates(t *testing.T) {
	r := newTestReconciler()
	r.Load("s1", []Message{{ID: "m1", SessionID: "s1", Role: RoleUser, Content: "a", CreatedAt: baseTime}})
	user, _, err := r.BeginExchange("q")
	require.NoError(t, err)
	r.MarkPending(user.LocalID)

	changed := r.Merge([]Message{
		{ID: "u1", Role: RoleUser, Content: "q", CreatedAt: baseTime.Add(2 * time.Second)},
		{ID: "m1", SessionID: "s1", Role: RoleUser, Content: "a", CreatedAt: baseTime},
		{ID: "m2", SessionID: "s1", Role: RoleUser, Content: "from tab B", CreatedAt: baseTime.Add(time.Second)},
	})
	assert.True(t, changed)

	msgs := r.Snapshot()
	require.Len(t, msgs, 4)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "u1", msgs[1].ID)
	assert.Equal(t, user.LocalID, msgs[1].LocalID)
	assert.Equal(t, StateConfirmed, msgs[1].State)
	assert.Equal(t, "m2", msgs[3].ID)
	assertUniqueIDs(t, msgs)
	assertNonDecreasing(t, msgs)

	assert.False(t, r.Merge([]Message{{ID: "m2", SessionID: "s1", Role: RoleUser, Content: "from tab B"}}))
}

func TestReconciler_MarkUnsentKeepsContent(t *testing.T) {
	r := newTestReconciler()
	r.Activate("s1")
	user, _, err := r.BeginExchange("keep me")
	require.NoError(t, err)
	require.True(t, r.MarkPending(user.LocalID))
	require.True(t, r.MarkUnsent(user.LocalID))

	msgs := r.Snapshot()
	assert.Equal(t, StateUnsent, msgs[0].State)
	assert.Equal(t, "keep me", msgs[0].Content)

	// confirmed is terminal
	r.ConfirmLocal(user.LocalID, Persisted{ID: "m1"})
	assert.False(t, r.MarkUnsent(user.LocalID))
}

func TestReconciler_AttachKeepsContent(t *testing.T) {
	r := newTestReconciler()
	_, _, err := r.BeginExchange("first")
	require.NoError(t, err)
	r.Attach("new-session")

	msgs := r.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "new-session", msgs[0].SessionID)
	assert.Equal(t, "new-session", r.SessionID())
}
