// Package providergw is the Provider Gateway: a typed adapter over the
// external music provider (Spotify) used by every other component that
// needs to resolve a reference, fetch metadata, or drive playback
// (spec §4.A).
package providergw

import (
	"context"
	cryptorand "crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/jamspot/jamspot/internal/domain/playlist"
	"github.com/jamspot/jamspot/internal/domain/track"
)

// Config is the gateway's static configuration: the OAuth application
// credentials shared by every session's per-token client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Market       string
}

// PlaybackSnapshot mirrors the conductor's currently-reported playback
// (spec §4.A currentPlayback).
type PlaybackSnapshot struct {
	URI        string
	ItemType   RefKind
	DurationMs int
	ProgressMs int
	IsPlaying  bool
}

// RefreshResult is the result of a token refresh (spec §4.A refresh).
type RefreshResult struct {
	AccessToken  string
	RefreshToken string // empty if the provider did not rotate it
	ExpiresAt    time.Time
}

// CodeGrantResult is the result of exchanging an OAuth code (spec §4.A
// codeGrant).
type CodeGrantResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

const retryMaxAttempts = 3

var retryBaseDelay = time.Second

// Gateway is the Provider Gateway.
type Gateway struct {
	cfg  Config
	auth *spotifyauth.Authenticator
}

// New returns a Gateway configured with the application's OAuth
// credentials. It does not itself hold any session's access token;
// every call that touches a provider resource takes that session's
// token explicitly.
func New(cfg Config) *Gateway {
	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithRedirectURL(cfg.RedirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopePlaylistReadPrivate,
			spotifyauth.ScopePlaylistModifyPublic,
			spotifyauth.ScopePlaylistModifyPrivate,
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserModifyPlaybackState,
			spotifyauth.ScopeUserLibraryRead,
			spotifyauth.ScopeUserReadEmail,
		),
	)
	market := cfg.Market
	if market == "" {
		market = "US"
	}
	return &Gateway{cfg: Config{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret, RedirectURL: cfg.RedirectURL, Market: market}, auth: auth}
}

// clientFor builds a per-call Spotify client authorized with the given
// access token. Access tokens are short-lived; refresh is the caller's
// responsibility via Refresh, not this gateway's.
func (g *Gateway) clientFor(ctx context.Context, accessToken string) *spotify.Client {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	return spotify.New(httpClient)
}

func (g *Gateway) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < retryMaxAttempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
		if i < retryMaxAttempts-1 {
			time.Sleep(retryBaseDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "provider gateway: max retries exceeded")
}

// TrackInfo fetches display metadata for one track (spec §4.A
// trackInfo).
func (g *Gateway) TrackInfo(ctx context.Context, accessToken, id string) (*track.Track, error) {
	c := g.clientFor(ctx, accessToken)
	var full *spotify.FullTrack
	err := g.retry(func() error {
		t, err := c.GetTrack(ctx, spotify.ID(id), spotify.Market(g.cfg.Market))
		if err != nil {
			return err
		}
		full = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "fetching track info")
	}
	return g.convertTrack(full), nil
}

// PlaylistInfo fetches a playlist's descriptive metadata (spec §4.A
// playlistInfo).
func (g *Gateway) PlaylistInfo(ctx context.Context, accessToken, id string) (*playlist.Playlist, error) {
	c := g.clientFor(ctx, accessToken)
	var full *spotify.FullPlaylist
	err := g.retry(func() error {
		p, err := c.GetPlaylist(ctx, spotify.ID(id))
		if err != nil {
			return err
		}
		full = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "fetching playlist info")
	}
	return g.convertPlaylist(full), nil
}

func (g *Gateway) convertPlaylist(p *spotify.FullPlaylist) *playlist.Playlist {
	var art string
	if len(p.Images) > 0 {
		art = p.Images[0].URL
	}
	return &playlist.Playlist{
		ProviderURI: "provider:playlist:" + string(p.ID),
		Name:        p.Name,
		Description: p.Description,
		Owner:       p.Owner.DisplayName,
		ImageURL:    art,
	}
}

// PlaylistTracks fetches every track in a playlist, paginating until
// fewer than a full page is returned (spec §4.A playlistTracks).
func (g *Gateway) PlaylistTracks(ctx context.Context, accessToken, id string) ([]track.Track, error) {
	c := g.clientFor(ctx, accessToken)
	const pageSize = 100

	var tracks []track.Track
	offset := 0
	for {
		var page *spotify.PlaylistItemPage
		err := g.retry(func() error {
			p, err := c.GetPlaylistItems(ctx, spotify.ID(id),
				spotify.Limit(pageSize),
				spotify.Offset(offset),
				spotify.Market(g.cfg.Market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "fetching playlist tracks")
		}

		for _, item := range page.Items {
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				tracks = append(tracks, *g.convertTrack(item.Track.Track))
			}
		}

		if len(page.Items) < pageSize {
			break
		}
		offset += pageSize
	}
	return tracks, nil
}

// Play commands playback of uris starting at positionMs on the given
// session's provider account (spec §4.A play).
func (g *Gateway) Play(ctx context.Context, accessToken string, uris []string, positionMs int) error {
	c := g.clientFor(ctx, accessToken)
	ids := make([]spotify.URI, len(uris))
	for i, u := range uris {
		ids[i] = spotify.URI(u)
	}
	opts := &spotify.PlayOptions{URIs: ids}
	if positionMs > 0 {
		opts.PositionMs = spotify.Numeric(positionMs)
	}
	return g.retry(func() error {
		return c.PlayOpt(ctx, opts)
	})
}

// Pause commands the session's provider account to pause (spec §4.A
// pause).
func (g *Gateway) Pause(ctx context.Context, accessToken string) error {
	c := g.clientFor(ctx, accessToken)
	return g.retry(func() error {
		return c.Pause(ctx)
	})
}

// CurrentPlayback reads the conductor's live playback state (spec §4.A
// currentPlayback).
func (g *Gateway) CurrentPlayback(ctx context.Context, accessToken string) (*PlaybackSnapshot, error) {
	c := g.clientFor(ctx, accessToken)
	var state *spotify.CurrentlyPlaying
	err := g.retry(func() error {
		s, err := c.PlayerCurrentlyPlaying(ctx)
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading current playback")
	}

	snapshot := &PlaybackSnapshot{
		IsPlaying:  state.Playing,
		ProgressMs: int(state.Progress),
	}
	if state.Item != nil {
		snapshot.URI = "provider:track:" + string(state.Item.ID)
		snapshot.ItemType = RefKindTrack
		snapshot.DurationMs = int(state.Item.Duration)
	}
	return snapshot, nil
}

// Refresh exchanges a refresh token for a fresh access token (spec §4.A
// refresh).
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	token := &oauth2.Token{RefreshToken: refreshToken}
	fresh, err := g.auth.RefreshToken(ctx, token)
	if err != nil {
		return nil, errors.Wrap(err, "refreshing provider credentials")
	}
	result := &RefreshResult{AccessToken: fresh.AccessToken, ExpiresAt: fresh.Expiry}
	if fresh.RefreshToken != "" && fresh.RefreshToken != refreshToken {
		result.RefreshToken = fresh.RefreshToken
	}
	return result, nil
}

// UserProfile is the subset of a provider account's profile needed to
// populate a session's identity after a completed OAuth handshake.
type UserProfile struct {
	DisplayName string
	Email       string
}

// CurrentUser fetches the display name and email of the account that
// granted accessToken (spec §4.A codeGrant: "the resulting profile's
// display name and email populate the session's identity").
func (g *Gateway) CurrentUser(ctx context.Context, accessToken string) (*UserProfile, error) {
	c := g.clientFor(ctx, accessToken)
	var user *spotify.PrivateUser
	err := g.retry(func() error {
		var callErr error
		user, callErr = c.CurrentUser(ctx)
		return callErr
	})
	if err != nil {
		return nil, errors.Wrap(err, "fetching current user profile")
	}
	name := user.DisplayName
	if name == "" {
		name = user.ID
	}
	return &UserProfile{DisplayName: name, Email: user.Email}, nil
}

// RandomLiked picks n tracks from up to the conductor's 50 most-recent
// liked tracks (spec §4.A randomLiked).
func (g *Gateway) RandomLiked(ctx context.Context, accessToken string, n int) ([]track.Track, error) {
	c := g.clientFor(ctx, accessToken)
	var page *spotify.SavedTrackPage
	err := g.retry(func() error {
		p, err := c.CurrentUsersTracks(ctx, spotify.Limit(50))
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "fetching liked tracks")
	}

	tracks := make([]track.Track, 0, len(page.Tracks))
	for _, st := range page.Tracks {
		full := st.FullTrack
		tracks = append(tracks, *g.convertTrack(&full))
	}

	shuffled, err := shuffleTracks(tracks)
	if err != nil {
		return nil, err
	}
	if len(shuffled) > n {
		shuffled = shuffled[:n]
	}
	return shuffled, nil
}

// Authorize returns the URL the participant should be redirected to in
// order to grant scopes, carrying state through the handshake (spec
// §4.A authorize).
func (g *Gateway) Authorize(state string) string {
	return g.auth.AuthURL(state)
}

// CodeGrant exchanges an OAuth authorization code for tokens (spec §4.A
// codeGrant).
func (g *Gateway) CodeGrant(ctx context.Context, code string) (*CodeGrantResult, error) {
	tok, err := g.auth.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "exchanging authorization code")
	}
	return &CodeGrantResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

func (g *Gateway) convertTrack(t *spotify.FullTrack) *track.Track {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}
	artist := joinComma(names)

	var art string
	if len(t.Album.Images) > 0 {
		art = t.Album.Images[0].URL
	}

	return &track.Track{
		ProviderURI: "provider:track:" + string(t.ID),
		Name:        t.Name,
		Artist:      artist,
		Album:       t.Album.Name,
		AlbumArtURL: art,
		Duration:    time.Duration(t.Duration) * time.Millisecond,
	}
}

func joinComma(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// TrackURL returns a browsable provider URL for a track id. The
// broadcast payloads do not carry it.
func (g *Gateway) TrackURL(id string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", id)
}

func shuffleTracks(tracks []track.Track) ([]track.Track, error) {
	out := make([]track.Track, len(tracks))
	copy(out, tracks)
	for i := len(out) - 1; i > 0; i-- {
		j, err := cryptoRandIntn(i + 1)
		if err != nil {
			return nil, errors.Wrap(err, "shuffling tracks")
		}
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func cryptoRandIntn(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	v, err := cryptorand.Int(cryptorand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
