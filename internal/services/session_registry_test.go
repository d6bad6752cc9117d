package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_GetOrCreate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	registry := NewSessionRegistry(WithRegistryClock(func() time.Time { return now }))

	session, created := registry.GetOrCreate(" m1 ")
	require.True(t, created)
	require.Equal(t, "m1", session.ID())
	require.Equal(t, now, session.CreatedAt())

	again, created := registry.GetOrCreate("m1")
	require.False(t, created)
	require.Same(t, session, again)

	got, ok := registry.Get("m1")
	require.True(t, ok)
	require.Same(t, session, got)
	require.Equal(t, 1, registry.Len())
}

func TestSessionRegistry_DeleteAndRemove(t *testing.T) {
	registry := NewSessionRegistry()

	first, _ := registry.GetOrCreate("m1")
	require.True(t, registry.Delete("m1"))
	require.False(t, registry.Delete("m1"))

	second, _ := registry.GetOrCreate("m1")
	require.False(t, registry.remove(first), "a stale session never evicts its successor")
	require.True(t, registry.remove(second))
	require.Zero(t, registry.Len())
}

func TestSessionRegistry_ListAllOrdersByCreation(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	registry := NewSessionRegistry(WithRegistryClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))

	registry.GetOrCreate("beta")
	registry.GetOrCreate("alpha")
	first, _ := registry.Get("beta")
	first.addParticipant("alice", 0)

	list := registry.ListAll()
	require.Len(t, list, 2)
	require.Equal(t, "beta", list[0].MeetingID)
	require.Equal(t, []string{"alice"}, list[0].Participants)
	require.Equal(t, "alpha", list[1].MeetingID)
}

func TestSessionRegistry_ReferencedHandles(t *testing.T) {
	registry := NewSessionRegistry()
	session, _ := registry.GetOrCreate("m1")
	session.appendSegment("/tmp/seg-1")
	session.setCumulative("/tmp/cumulative")

	refs := registry.ReferencedHandles()
	require.Contains(t, refs, "/tmp/seg-1")
	require.Contains(t, refs, "/tmp/cumulative")
	require.Len(t, refs, 2)

	batch := session.takeUnprocessed()
	require.Equal(t, []string{"/tmp/seg-1"}, batch)
	refs = registry.ReferencedHandles()
	require.Contains(t, refs, "/tmp/seg-1", "a batch being merged stays referenced")

	session.finishMerge()
	refs = registry.ReferencedHandles()
	require.NotContains(t, refs, "/tmp/seg-1")
	require.Len(t, refs, 1)
}

func TestMeetingSession_ArrivalsHoldStop(t *testing.T) {
	session := newMeetingSession("m1", time.Now())
	require.False(t, session.admitArrival(), "idle sessions admit nothing")

	require.True(t, session.startRecording())
	require.True(t, session.admitArrival())
	require.True(t, session.admitArrival())
	session.stopRecording()
	require.False(t, session.admitArrival())

	settled := make(chan struct{})
	go func() {
		session.awaitArrivals()
		close(settled)
	}()

	require.True(t, session.acceptArrival("admitted-before-stop"))
	select {
	case <-settled:
		t.Fatal("one admitted arrival is still outstanding")
	case <-time.After(20 * time.Millisecond):
	}

	session.dropArrival()
	select {
	case <-settled:
	case <-time.After(2 * time.Second):
		t.Fatal("awaitArrivals did not return")
	}
	require.Equal(t, []string{"admitted-before-stop"}, session.PendingSegments())
}

func TestSessionRegistry_ConcurrentMeetingsAreIndependent(t *testing.T) {
	registry := NewSessionRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, _ := registry.GetOrCreate("shared")
			session.addParticipant(string(rune('a'+i%26)), 0)
			registry.GetOrCreate(string(rune('A' + i%26)))
		}(i)
	}
	wg.Wait()

	require.Equal(t, 27, registry.Len())
	shared, _ := registry.Get("shared")
	require.Len(t, shared.Snapshot().Participants, 26)
}

func TestMeetingSession_SegmentBookkeeping(t *testing.T) {
	session := newMeetingSession("m1", time.Now())

	require.True(t, session.startRecording())
	require.False(t, session.startRecording())

	require.True(t, session.appendSegment("a"))
	require.False(t, session.appendSegment("a"), "duplicates are ignored")
	require.True(t, session.appendSegment("b"))

	batch := session.takeUnprocessed()
	require.Equal(t, []string{"a", "b"}, batch)
	require.Empty(t, session.takeUnprocessed())
	require.False(t, session.appendSegment("a"), "processed handles never re-enter pending")

	changed, pending := session.stopRecording()
	require.True(t, changed)
	require.False(t, pending)
	changed, _ = session.stopRecording()
	require.False(t, changed)

	session.setCumulative("c1")
	require.Equal(t, []string{"c1"}, session.finalize())
	require.Equal(t, []string{"c1"}, session.finalize())
	require.False(t, session.appendSegment("late"))
	require.True(t, session.isEnded())

	_, _, err := session.addParticipant("bob", 0)
	require.ErrorIs(t, err, ErrMeetingEnded)
}

func TestMergeTask_WaitHonoursContext(t *testing.T) {
	task := newMergeTask("m1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := task.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, "m1", result.MeetingID)

	task.complete("/rec/m1.mp3", true)
	<-task.Done()
	result, err = task.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, MergeResult{MeetingID: "m1", Handle: "/rec/m1.mp3", OK: true}, result)
}
