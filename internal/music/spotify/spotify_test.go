package spotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/hearth/internal/config"
	"github.com/nadzzz/hearth/internal/music"
)

type recordingPlayer struct {
	entityID string
	action   string
	params   map[string]any
}

func (p *recordingPlayer) CallService(_ context.Context, entityID, action string, params map[string]any) error {
	p.entityID, p.action, p.params = entityID, action, params
	return nil
}

func newFake(t *testing.T) (*httptest.Server, *atomic.Int32, *[]string) {
	t.Helper()
	var tokens atomic.Int32
	var queries []string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("GET /v1/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		q := r.URL.Query()
		queries = append(queries, q.Get("type")+"|"+q.Get("q")+"|"+q.Get("limit")+"|"+q.Get("market"))
		w.Header().Set("Content-Type", "application/json")
		switch q.Get("q") {
		case "Kind of Blue":
			_, _ = w.Write([]byte(`{"albums":{"items":[{"uri":"spotify:album:1weenld61qoidwYuZ1GESA","name":"Kind of Blue"}]}}`))
		case "nothing":
			_, _ = w.Write([]byte(`{"tracks":{"items":[]}}`))
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"tracks":{"items":[{"uri":"spotify:track:abc","name":"So What"}]}}`))
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokens, &queries
}

func newClient(srv *httptest.Server, player Player) *Client {
	return New(config.SpotifyConfig{
		ClientID:     " id ",
		ClientSecret: "secret",
		Market:       "US",
		TokenURL:     srv.URL + "/token",
		APIURL:       srv.URL + "/v1/",
	}, player)
}

func TestParseQuery(t *testing.T) {
	cases := map[string][2]string{
		"album: Kind of Blue": {"album", "Kind of Blue"},
		"Playlist:Focus":      {"playlist", "Focus"},
		"artist:Miles Davis":  {"artist", "Miles Davis"},
		"so what":             {"track", "so what"},
		"  track:So What  ":   {"track", "So What"},
		"albumen: not a kind": {"track", "albumen: not a kind"},
	}
	for in, want := range cases {
		kind, q := ParseQuery(in)
		assert.Equal(t, want[0], kind, in)
		assert.Equal(t, want[1], q, in)
	}
}

func TestSearchUsesKindAndCachesToken(t *testing.T) {
	srv, tokens, queries := newFake(t)
	c := newClient(srv, nil)
	ctx := context.Background()

	ref, err := c.Search(ctx, "album:Kind of Blue")
	require.NoError(t, err)
	assert.Equal(t, music.TrackRef{URI: "spotify:album:1weenld61qoidwYuZ1GESA", Kind: "album", Name: "Kind of Blue"}, ref)

	ref, err = c.Search(ctx, "so what")
	require.NoError(t, err)
	assert.Equal(t, "spotify:track:abc", ref.URI)

	assert.Equal(t, int32(1), tokens.Load())
	assert.Equal(t, []string{"album|Kind of Blue|1|US", "track|so what|1|US"}, *queries)
}

func TestSearchNotFound(t *testing.T) {
	srv, _, _ := newFake(t)
	_, err := newClient(srv, nil).Search(context.Background(), "nothing")
	require.ErrorIs(t, err, music.ErrNotFound)

	_, err = newClient(srv, nil).Search(context.Background(), "track:")
	require.ErrorIs(t, err, music.ErrNotFound)
}

func TestSearchUpstreamError(t *testing.T) {
	srv, _, _ := newFake(t)
	_, err := newClient(srv, nil).Search(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, music.ErrNotFound)
	assert.Contains(t, err.Error(), "502")
}

func TestPlayCallsMediaPlayer(t *testing.T) {
	srv, _, _ := newFake(t)
	player := &recordingPlayer{}
	c := newClient(srv, player)

	require.NoError(t, c.Play(context.Background(), music.TrackRef{URI: "spotify:track:abc", Kind: "track"}, "media_player.kitchen"))
	assert.Equal(t, "media_player.kitchen", player.entityID)
	assert.Equal(t, "play_media", player.action)
	assert.Equal(t, map[string]any{"media_content_id": "spotify:track:abc", "media_content_type": "music"}, player.params)
}
