package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterFirstControlleeBecomesHeadAndBroadcasts(t *testing.T) {
	m := NewMediator()
	var changed int
	m.OpenController(1, ControllerCallbacks{OnChanged: func(FieldMask, Metadata) { changed++ }})
	require.NoError(t, m.SetEvent(1))

	m.RegisterControllee(100, nil)
	require.Equal(t, 1, changed)

	md, err := m.Query()
	require.NoError(t, err)
	require.Equal(t, Metadata{}, md)
}

func TestUpdateHeadBroadcastsUpdated(t *testing.T) {
	m := NewMediator()
	var updated, changed int
	m.OpenController(1, ControllerCallbacks{
		OnChanged: func(FieldMask, Metadata) { changed++ },
		OnUpdated: func(FieldMask, Metadata) { updated++ },
	})
	require.NoError(t, m.SetEvent(1))

	m.RegisterControllee(100, nil)
	require.Equal(t, 1, changed)

	err := m.UpdateMetadata(100, Metadata{Mask: FieldTitle, Title: "Song A"})
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	md, err := m.Query()
	require.NoError(t, err)
	require.Equal(t, "Song A", md.Title)
}

// TestSecondControlleeReportingStatePromotesToHead mirrors the
// most-active handoff: a later-registered controllee that reports
// state > 0 becomes head and triggers CHANGED instead of UPDATED.
func TestSecondControlleeReportingStatePromotesToHead(t *testing.T) {
	m := NewMediator()
	var changedCount int
	var lastChangedTitle string
	m.OpenController(1, ControllerCallbacks{
		OnChanged: func(_ FieldMask, md Metadata) {
			changedCount++
			lastChangedTitle = md.Title
		},
	})
	require.NoError(t, m.SetEvent(1))

	m.RegisterControllee(100, nil) // changed #1 (head = 100, empty metadata)
	m.RegisterControllee(200, nil) // not head, no broadcast

	require.NoError(t, m.UpdateMetadata(200, Metadata{
		Mask: FieldState | FieldTitle, State: 1, Title: "Now Playing On 200",
	}))

	require.Equal(t, 2, changedCount)
	require.Equal(t, "Now Playing On 200", lastChangedTitle)

	md, err := m.Query()
	require.NoError(t, err)
	require.Equal(t, "Now Playing On 200", md.Title)
}

// TestPromoteBroadcastsDiffMaskNotAccumulatedMask covers a controllee
// that accumulates metadata across two updates before the one that
// promotes it to head: the CHANGED mask must reflect only the
// promoting update's own fields, not every field ever set on it.
func TestPromoteBroadcastsDiffMaskNotAccumulatedMask(t *testing.T) {
	m := NewMediator()
	var lastMask FieldMask
	m.OpenController(1, ControllerCallbacks{
		OnChanged: func(mask FieldMask, _ Metadata) { lastMask = mask },
	})
	require.NoError(t, m.SetEvent(1))

	m.RegisterControllee(100, nil) // head
	m.RegisterControllee(200, nil) // not head

	require.NoError(t, m.UpdateMetadata(200, Metadata{Mask: FieldTitle, Title: "x"}))
	require.NoError(t, m.UpdateMetadata(200, Metadata{Mask: FieldState, State: 1}))

	require.Equal(t, FieldState, lastMask)
}

func TestTransactForwardsToHeadControllee(t *testing.T) {
	m := NewMediator()
	var gotEvent ControlEvent
	var gotArg string
	m.RegisterControllee(100, func(event ControlEvent, arg string) error {
		gotEvent = event
		gotArg = arg
		return nil
	})

	require.NoError(t, m.Transact("next", ""))
	require.Equal(t, EventNextSong, gotEvent)
	require.Equal(t, "", gotArg)
}

func TestTransactUnknownCommandIsUnsupported(t *testing.T) {
	m := NewMediator()
	m.RegisterControllee(100, func(ControlEvent, string) error { return nil })
	err := m.Transact("shuffle", "")
	require.Error(t, err)
}

func TestTransactWithNoControlleeIsNotFound(t *testing.T) {
	m := NewMediator()
	err := m.Transact("next", "")
	require.Error(t, err)
}

func TestUnregisterHeadPromotesNextAndBroadcasts(t *testing.T) {
	m := NewMediator()
	var changes []string
	m.OpenController(1, ControllerCallbacks{
		OnChanged: func(_ FieldMask, md Metadata) { changes = append(changes, md.Title) },
	})
	require.NoError(t, m.SetEvent(1))

	m.RegisterControllee(100, nil)
	require.NoError(t, m.UpdateMetadata(100, Metadata{Mask: FieldTitle, Title: "A"}))
	m.RegisterControllee(200, nil)

	m.UnregisterControllee(100)

	md, err := m.Query()
	require.NoError(t, err)
	require.Equal(t, Metadata{}, md) // 200 never got metadata

	require.GreaterOrEqual(t, len(changes), 2)
	require.Equal(t, "", changes[len(changes)-1])
}

func TestEventOnlyForwardsFromHead(t *testing.T) {
	m := NewMediator()
	var statuses int
	m.OpenController(1, ControllerCallbacks{OnStatus: func(int32, int32, string) { statuses++ }})
	require.NoError(t, m.SetEvent(1))

	m.RegisterControllee(100, nil)
	m.RegisterControllee(200, nil)

	m.Event(200, 1, 0, "") // not head, ignored
	require.Equal(t, 0, statuses)

	m.Event(100, 1, 0, "") // head, delivered
	require.Equal(t, 1, statuses)
}

func TestSetEventUnknownControllerIsNotFound(t *testing.T) {
	m := NewMediator()
	err := m.SetEvent(999)
	require.Error(t, err)
}

func TestCloseControllerStopsDelivery(t *testing.T) {
	m := NewMediator()
	var changed int
	m.OpenController(1, ControllerCallbacks{OnChanged: func(FieldMask, Metadata) { changed++ }})
	require.NoError(t, m.SetEvent(1))
	m.CloseController(1)

	m.RegisterControllee(100, nil)
	require.Equal(t, 0, changed)
}
