package focus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testMatrix = `
# level 0 = Music, level 1 = Phone, level 2 = Alarm
Stream, Music, Phone, Alarm
Music, 4:4, 0:1, 0:0
Phone, 0:1, 0:1, 0:0
Alarm, 5:0, 0:0, 0:1
`

type alwaysAlive struct{}

func (alwaysAlive) Alive() bool { return true }

func newTestArbiter(t *testing.T, capacity int) *Arbiter {
	t.Helper()
	a, err := NewArbiter(capacity, strings.NewReader(testMatrix))
	require.NoError(t, err)
	return a
}

// TestFirstRequestAlwaysPlays covers the empty-stack path.
func TestFirstRequestAlwaysPlays(t *testing.T) {
	a := newTestArbiter(t, 4)
	s, h, err := a.Request("Music", alwaysAlive{}, nil)
	require.NoError(t, err)
	require.Equal(t, SuggestPlay, s)
	require.NotZero(t, h)
}

// TestDuckScenario: A (Music) plays, B (Music) requests and gets DUCK,
// A receives exactly one passive callback carrying DUCK, and Peek still
// reports Music (A stays top).
func TestDuckScenario(t *testing.T) {
	a := newTestArbiter(t, 4)

	var aSuggestions []Suggestion
	sA, _, err := a.Request("Music", alwaysAlive{}, func(s Suggestion) {
		aSuggestions = append(aSuggestions, s)
	})
	require.NoError(t, err)
	require.Equal(t, SuggestPlay, sA)

	sB, hB, err := a.Request("Music", alwaysAlive{}, nil)
	require.NoError(t, err)
	require.Equal(t, SuggestPlayWithDuck, sB)
	require.NotZero(t, hB)

	require.Equal(t, []Suggestion{SuggestPlayWithDuck}, aSuggestions)

	top, ok := a.Peek()
	require.True(t, ok)
	require.Equal(t, "Music", top)
}

// TestAbandonPromotesNewTop: after Phone abandons, Music (still on the
// stack, demoted to under by Phone's PLAY push) is promoted back,
// receives its own SuggestPlay callback, and a subsequent Peek reports
// Music.
func TestAbandonPromotesNewTop(t *testing.T) {
	a := newTestArbiter(t, 4)

	var musicSuggestions []Suggestion
	_, hA, err := a.Request("Music", alwaysAlive{}, func(s Suggestion) {
		musicSuggestions = append(musicSuggestions, s)
	})
	require.NoError(t, err)

	var phoneSuggestions []Suggestion
	sPhone, hPhone, err := a.Request("Phone", alwaysAlive{}, func(s Suggestion) {
		phoneSuggestions = append(phoneSuggestions, s)
	})
	require.NoError(t, err)
	require.Equal(t, SuggestPlay, sPhone)

	top, ok := a.Peek()
	require.True(t, ok)
	require.Equal(t, "Phone", top)

	require.NoError(t, a.Abandon(hPhone))

	require.Equal(t, SuggestPlay, musicSuggestions[len(musicSuggestions)-1])

	top, ok = a.Peek()
	require.True(t, ok)
	require.Equal(t, "Music", top)

	require.NoError(t, a.Abandon(hA))
	_, ok = a.Peek()
	require.False(t, ok)
}

func TestRejectedHandleAbandonIsNoop(t *testing.T) {
	a := newTestArbiter(t, 4)
	_, _, err := a.Request("Music", alwaysAlive{}, nil)
	require.NoError(t, err)

	s, h, err := a.Request("Alarm", alwaysAlive{}, nil)
	require.NoError(t, err)
	require.Equal(t, SuggestPlayWithKeep, s)
	require.True(t, h.rejected())

	require.NoError(t, a.Abandon(h))

	top, ok := a.Peek()
	require.True(t, ok)
	require.Equal(t, "Music", top)
}

func TestAbandonUnknownHandleIsNotFound(t *testing.T) {
	a := newTestArbiter(t, 4)
	err := a.Abandon(newHandle(99, false))
	require.Error(t, err)
}

func TestUnknownStreamTypeIsProtocolError(t *testing.T) {
	a := newTestArbiter(t, 4)
	_, _, err := a.Request("Video", alwaysAlive{}, nil)
	require.Error(t, err)
}

func TestCapacityExhaustedIsResourceError(t *testing.T) {
	a := newTestArbiter(t, 1)
	_, _, err := a.Request("Music", alwaysAlive{}, nil)
	require.NoError(t, err)

	_, _, err = a.Request("Phone", alwaysAlive{}, nil)
	require.Error(t, err)
}

type deadOwner struct{ dead bool }

func (d *deadOwner) Alive() bool { return !d.dead }

func TestHarvestRemovesDeadUnderEntry(t *testing.T) {
	a := newTestArbiter(t, 4)

	ownerA := &deadOwner{}
	_, hA, err := a.Request("Music", ownerA, nil)
	require.NoError(t, err)
	require.NotZero(t, hA)

	_, _, err = a.Request("Phone", alwaysAlive{}, nil)
	require.NoError(t, err)

	top, _ := a.Peek()
	require.Equal(t, "Phone", top)

	ownerA.dead = true
	a.Harvest()

	top, ok := a.Peek()
	require.True(t, ok)
	require.Equal(t, "Phone", top)
}

func TestMatrixParserRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"Stream, Music\nMusic, 0:1,0:2\n",        // extra cell
		"Stream, Music\nMusic, bogus\n",          // not pro:pas
		"Stream, Music\nMusic,,0:1\n",             // empty field
		"Stream, Music\nMusic, 9:0\n",             // out of range
		"NotStream, Music\nMusic, 0:0\n",          // missing header
		"Stream, Music\nWrongLabel, 0:0\n",        // label mismatch
	}
	for _, c := range cases {
		_, err := parseMatrix(strings.NewReader(c))
		require.Errorf(t, err, "input: %q", c)
	}
}

func TestMatrixParserIgnoresCommentsAndWhitespace(t *testing.T) {
	input := "  # a comment\n\nStream, A, B\n  A ,  0:0 , 1:1 \nB, 1:1, 0:0\n"
	m, err := parseMatrix(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, m.names)
}
