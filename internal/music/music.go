// Package music defines the music provider collaborator used by
// media_search_play requests.
package music

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Search when nothing matches the query.
var ErrNotFound = errors.New("no matching music found")

// TrackRef identifies something playable: a track, album, playlist or artist.
type TrackRef struct {
	URI  string `json:"uri"`
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
}

// Provider searches a catalogue and starts playback on a media player.
type Provider interface {
	// Search returns the best match for query. The query may carry a
	// "track:", "album:", "playlist:" or "artist:" prefix.
	Search(ctx context.Context, query string) (TrackRef, error)

	// Play starts ref on the media player entity.
	Play(ctx context.Context, ref TrackRef, entityID string) error
}
