// Package spotify implements music.Provider with the Spotify Web API.
//
// Searches use an app token from the client-credentials flow; playback is
// handed to the home platform's media_player.play_media service with the
// Spotify URI, so the speaker itself streams the music.
package spotify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nadzzz/hearth/internal/config"
	"github.com/nadzzz/hearth/internal/music"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Player is the platform call used to start playback.
type Player interface {
	CallService(ctx context.Context, entityID, action string, params map[string]any) error
}

// Client searches Spotify.
type Client struct {
	http   *http.Client
	apiURL string
	market string
	player Player
}

// New creates a client. Tokens are fetched lazily and cached until expiry.
func New(cfg config.SpotifyConfig, player Player) *Client {
	cc := clientcredentials.Config{
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: strings.TrimSpace(cfg.ClientSecret),
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := &http.Client{Timeout: 10 * time.Second}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	hc := cc.Client(ctx)
	hc.Timeout = 10 * time.Second

	return &Client{
		http:   hc,
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		market: cfg.Market,
		player: player,
	}
}

// ParseQuery splits an optional "kind:" prefix off query. Without one the
// kind is "track".
func ParseQuery(query string) (kind, q string) {
	q = strings.TrimSpace(query)
	for _, k := range []string{"track", "artist", "album", "playlist"} {
		if len(q) > len(k) && strings.EqualFold(q[:len(k)+1], k+":") {
			return k, strings.TrimSpace(q[len(k)+1:])
		}
	}
	return "track", q
}

type searchPage struct {
	Items []*struct {
		URI  string `json:"uri"`
		Name string `json:"name"`
	} `json:"items"`
}

// Search returns the first item of the query's kind.
func (c *Client) Search(ctx context.Context, query string) (music.TrackRef, error) {
	kind, q := ParseQuery(query)
	if q == "" {
		return music.TrackRef{}, music.ErrNotFound
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("type", kind)
	params.Set("limit", "1")
	if c.market != "" {
		params.Set("market", c.market)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return music.TrackRef{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return music.TrackRef{}, fmt.Errorf("spotify search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return music.TrackRef{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return music.TrackRef{}, fmt.Errorf("spotify search returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result map[string]searchPage
	if err := json.Unmarshal(body, &result); err != nil {
		return music.TrackRef{}, fmt.Errorf("decoding search response: %w", err)
	}

	page := result[kind+"s"]
	if len(page.Items) == 0 || page.Items[0] == nil || page.Items[0].URI == "" {
		slog.Debug("spotify search found nothing", "kind", kind, "query", q)
		return music.TrackRef{}, music.ErrNotFound
	}

	ref := music.TrackRef{URI: page.Items[0].URI, Kind: kind, Name: page.Items[0].Name}
	slog.Debug("spotify search matched", "kind", kind, "query", q, "uri", ref.URI)
	return ref, nil
}

// Play starts ref on a media player through the platform.
func (c *Client) Play(ctx context.Context, ref music.TrackRef, entityID string) error {
	return c.player.CallService(ctx, entityID, "play_media", map[string]any{
		"media_content_id":   ref.URI,
		"media_content_type": "music",
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
