package viewer

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	allStates = []State{StateIdle, StateLoading, StateReady, StateError}
	allEvents = []Event{EventSubmit, EventArtifactReceived, EventFailure, EventReset}
)

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		to   State
		ok   bool
	}{
		{StateIdle, EventSubmit, StateLoading, true},
		{StateReady, EventSubmit, StateLoading, true},
		{StateError, EventSubmit, StateLoading, true},
		{StateLoading, EventSubmit, StateLoading, true},
		{StateLoading, EventArtifactReceived, StateReady, true},
		{StateIdle, EventFailure, StateError, true},
		{StateLoading, EventFailure, StateError, true},
		{StateIdle, EventReset, StateIdle, true},
		{StateLoading, EventReset, StateIdle, true},
		{StateReady, EventReset, StateIdle, true},
		{StateError, EventReset, StateIdle, true},

		{StateIdle, EventArtifactReceived, StateIdle, false},
		{StateReady, EventArtifactReceived, StateReady, false},
		{StateError, EventArtifactReceived, StateError, false},
		{StateReady, EventFailure, StateReady, false},
		{StateError, EventFailure, StateError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, err := Transition(tt.from, tt.ev)
			assert.Equal(t, tt.to, got)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var invalid ErrInvalidTransition
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, tt.from, invalid.From)
			assert.Equal(t, tt.ev, invalid.Event)
		})
	}
}

func TestTransition_TotalOverAllPairs(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.SampledFrom(allStates).Draw(rt, "state")
		events := rapid.SliceOfN(rapid.SampledFrom(allEvents), 1, 32).Draw(rt, "events")

		for _, ev := range events {
			next, err := Transition(s, ev)
			if err != nil && next != s {
				rt.Fatalf("rejected %s on %s moved to %s", ev, s, next)
			}
			if ev == EventReset && next != StateIdle {
				rt.Fatalf("reset from %s reached %s", s, next)
			}
			if next == StateReady && s != StateLoading && s != StateReady {
				rt.Fatalf("reached ready from %s", s)
			}
			s = next
		}
	})
}

func TestSession_LastSubmissionWins(t *testing.T) {
	s := NewSession()
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, StateIdle, s.State())

	first := s.Submit()
	second := s.Submit()
	require.Greater(t, second, first)
	assert.Equal(t, StateLoading, s.State())

	g := &Geometry{TriangleCount: 1}
	assert.False(t, s.Deliver(first, g), "stale result must be dropped")
	assert.Equal(t, StateLoading, s.State())

	assert.False(t, s.Fail(first, &ClientError{Kind: KindServerError}))
	assert.Equal(t, StateLoading, s.State())

	assert.True(t, s.Deliver(second, g))
	snap := s.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Same(t, g, snap.Geometry)
	assert.Nil(t, snap.LastError)
}

func TestSession_FailureClearsGeometry(t *testing.T) {
	s := NewSession()
	gen := s.Submit()
	require.True(t, s.Deliver(gen, &Geometry{}))

	gen = s.Submit()
	ce := &ClientError{Kind: KindNotFound}
	require.True(t, s.Fail(gen, ce))

	snap := s.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Nil(t, snap.Geometry)
	assert.Same(t, ce, snap.LastError)
}

func TestSession_ResetInvalidatesInFlight(t *testing.T) {
	s := NewSession()
	gen := s.Submit()
	s.Reset()

	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.Deliver(gen, &Geometry{}))
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_ConcurrentSubmitters(t *testing.T) {
	s := NewSession()
	const n = 50

	var wg sync.WaitGroup
	gens := make([]uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gens[i] = s.Submit()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, g := range gens {
		assert.False(t, seen[g], "generation %d issued twice", g)
		seen[g] = true
	}

	delivered := 0
	for _, g := range gens {
		if s.Deliver(g, &Geometry{}) {
			delivered++
		}
	}
	assert.Equal(t, 1, delivered)
	assert.Equal(t, uint64(n), s.Snapshot().Generation)
}

func TestSession_DisplayTracksCurrentGeneration(t *testing.T) {
	s := NewSession()
	r := NewRenderSession(nil, nil, RenderConfig{}, nil)
	s.OnDisplay(r.SetGeometry)

	older, newer := &Geometry{TriangleCount: 1}, &Geometry{TriangleCount: 2}
	first := s.Submit()
	second := s.Submit()

	require.True(t, s.Deliver(second, newer))
	require.False(t, s.Deliver(first, older))
	assert.Same(t, newer, r.Geometry())

	gen := s.Submit()
	require.True(t, s.Fail(gen, &ClientError{Kind: KindServerError}))
	assert.Nil(t, r.Geometry())

	gen = s.Submit()
	require.True(t, s.Deliver(gen, older))
	s.Reset()
	assert.Nil(t, r.Geometry())
}

func TestSession_DisplayMatchesSessionUnderRacingDeliveries(t *testing.T) {
	for round := 0; round < 20; round++ {
		s := NewSession()
		r := NewRenderSession(nil, nil, RenderConfig{}, nil)
		s.OnDisplay(r.SetGeometry)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				gen := s.Submit()
				if i%5 == 0 {
					s.Fail(gen, &ClientError{Kind: KindServerError})
					return
				}
				s.Deliver(gen, &Geometry{TriangleCount: i})
			}(i)
		}
		wg.Wait()

		assert.Same(t, s.Snapshot().Geometry, r.Geometry(), "round %d", round)
	}
}
