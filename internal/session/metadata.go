// Package session implements the session mediator: the controller/
// controllee relationship used for "now playing" style remote-control
// UIs, metadata broadcast, and control-event forwarding to whichever
// controllee is currently most active.
package session

// FieldMask marks which Metadata fields a diff actually carries. The
// exact bit positions are fixed here so controllers and controllees on
// either side of the wire agree on the same mask.
type FieldMask uint32

const (
	FieldState FieldMask = 1 << iota
	FieldVolume
	FieldPosition
	FieldDuration
	FieldTitle
	FieldArtist
	FieldAlbum
)

// Metadata is a controllee's now-playing state. State > 0 means
// "playing" for the purposes of head-of-list promotion.
type Metadata struct {
	Mask       FieldMask
	State      int32
	Volume     int32
	PositionMS int64
	DurationMS int64
	Title      string
	Artist     string
	Album      string
}

// Merge overwrites only the fields diff.Mask marks present, returning
// the mask of fields it applied from the diff. A field present in
// the diff but equal to the existing value still counts as applied —
// presence gates the merge, not equality.
func (m *Metadata) Merge(diff Metadata) FieldMask {
	applied := FieldMask(0)
	if diff.Mask&FieldState != 0 {
		m.State = diff.State
		applied |= FieldState
	}
	if diff.Mask&FieldVolume != 0 {
		m.Volume = diff.Volume
		applied |= FieldVolume
	}
	if diff.Mask&FieldPosition != 0 {
		m.PositionMS = diff.PositionMS
		applied |= FieldPosition
	}
	if diff.Mask&FieldDuration != 0 {
		m.DurationMS = diff.DurationMS
		applied |= FieldDuration
	}
	if diff.Mask&FieldTitle != 0 {
		m.Title = diff.Title
		applied |= FieldTitle
	}
	if diff.Mask&FieldArtist != 0 {
		m.Artist = diff.Artist
		applied |= FieldArtist
	}
	if diff.Mask&FieldAlbum != 0 {
		m.Album = diff.Album
		applied |= FieldAlbum
	}
	m.Mask |= applied
	return applied
}
