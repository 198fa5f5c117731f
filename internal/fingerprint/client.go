// Package fingerprint submits recorded clips to a remote audio
// fingerprinting service and maps its reply onto song metadata.
package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/earcatch/earcatch/internal/song"
	"github.com/earcatch/earcatch/internal/util"
)

const (
	// maxResponseSize bounds how much of a reply body is read.
	maxResponseSize = 1 << 20

	requestTimeout = 30 * time.Second

	// returnFields asks the service for the optional metadata blocks.
	returnFields = "lyrics,apple_music,spotify"
)

// Kind classifies a failed recognition request.
type Kind int

const (
	// KindNetwork covers transport failures: DNS, refused connections,
	// resets, timeouts.
	KindNetwork Kind = iota
	// KindServiceUnavailable covers 5xx replies and service-reported
	// transient errors.
	KindServiceUnavailable
	// KindQuotaExceeded means the api token is exhausted or rejected.
	KindQuotaExceeded
	// KindMalformedResponse means the reply could not be decoded.
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Retryable reports whether resubmitting the same clip later can succeed.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindServiceUnavailable
}

// Stage maps the failure kind onto the pipeline stage it belongs to.
func (k Kind) Stage() util.Stage {
	if k == KindMalformedResponse {
		return util.StageParse
	}
	return util.StageUpload
}

// RequestError is a failed recognition request.
type RequestError struct {
	Kind Kind
	msg  string
	err  error
}

func (e *RequestError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("recognition request failed (%s): %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("recognition request failed (%s): %s", e.Kind, e.msg)
}

func (e *RequestError) Unwrap() error { return e.err }

func newRequestError(kind Kind, msg string, err error) *RequestError {
	return &RequestError{Kind: kind, msg: msg, err: err}
}

// Verdict is a completed recognition: either a match with metadata or a
// definitive no-match.
type Verdict struct {
	Match bool
	Song  song.Metadata
}

// Client talks to an AudD-compatible recognition endpoint.
type Client struct {
	endpoint   string
	token      func() string
	httpClient *http.Client
}

// New creates a client for the given endpoint and api token.
func New(endpoint, apiToken string) *Client {
	return NewWithToken(endpoint, func() string { return apiToken })
}

// NewWithToken creates a client that reads the api token per request, so
// a settings change applies without rebuilding the client.
func NewWithToken(endpoint string, token func() string) *Client {
	return &Client{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// wire format of the recognition service

type wireResponse struct {
	Status string      `json:"status"`
	Result *wireResult `json:"result"`
	Error  *wireError  `json:"error"`
}

type wireError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_message"`
}

type wireResult struct {
	Artist      string `json:"artist"`
	Title       string `json:"title"`
	Album       string `json:"album"`
	ReleaseDate string `json:"release_date"`
	SongLink    string `json:"song_link"`
	Lyrics      *struct {
		Lyrics string `json:"lyrics"`
	} `json:"lyrics"`
	AppleMusic *struct {
		URL     string `json:"url"`
		Artwork struct {
			URL string `json:"url"`
		} `json:"artwork"`
		Previews []struct {
			URL string `json:"url"`
		} `json:"previews"`
	} `json:"apple_music"`
	Spotify *struct {
		ExternalURLs struct {
			Spotify string `json:"spotify"`
		} `json:"external_urls"`
		Album struct {
			Images []struct {
				URL string `json:"url"`
			} `json:"images"`
		} `json:"album"`
	} `json:"spotify"`
}

// quotaErrorCodes are the service codes for a missing, invalid or
// exhausted api token.
func isQuotaError(code int) bool {
	return code == 900 || code == 901
}

// Recognize submits the muxed clip and returns the service's verdict.
// It never retries on its own; RequestError.Kind tells the caller whether
// retrying is sensible.
func (c *Client) Recognize(ctx context.Context, clip []byte) (Verdict, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("api_token", c.token()); err != nil {
		return Verdict{}, util.WrapError("build request", err)
	}
	if err := mw.WriteField("return", returnFields); err != nil {
		return Verdict{}, util.WrapError("build request", err)
	}
	part, err := mw.CreateFormFile("file", "clip.ogg")
	if err != nil {
		return Verdict{}, util.WrapError("build request", err)
	}
	if _, err := part.Write(clip); err != nil {
		return Verdict{}, util.WrapError("build request", err)
	}
	if err := mw.Close(); err != nil {
		return Verdict{}, util.WrapError("build request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return Verdict{}, util.WrapError("build request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	slog.Debug("submitting clip for recognition", "endpoint", c.endpoint, "size", len(clip))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		return Verdict{}, newRequestError(KindNetwork, "request failed", err)
	}
	defer util.SafeClose(resp.Body, "recognition response body")

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return Verdict{}, newRequestError(KindServiceUnavailable,
				fmt.Sprintf("service returned status %d", resp.StatusCode), nil)
		}
		return Verdict{}, newRequestError(KindMalformedResponse,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		return Verdict{}, newRequestError(KindNetwork, "read response", err)
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Verdict{}, newRequestError(KindMalformedResponse, "decode response", err)
	}

	switch wire.Status {
	case "success":
		if wire.Result == nil {
			return Verdict{Match: false}, nil
		}
		return Verdict{Match: true, Song: metadataFromWire(wire.Result)}, nil
	case "error":
		if wire.Error == nil {
			return Verdict{}, newRequestError(KindMalformedResponse, "error reply without error body", nil)
		}
		if isQuotaError(wire.Error.Code) {
			return Verdict{}, newRequestError(KindQuotaExceeded,
				fmt.Sprintf("service error %d: %s", wire.Error.Code, wire.Error.Message), nil)
		}
		return Verdict{}, newRequestError(KindServiceUnavailable,
			fmt.Sprintf("service error %d: %s", wire.Error.Code, wire.Error.Message), nil)
	default:
		return Verdict{}, newRequestError(KindMalformedResponse,
			fmt.Sprintf("unknown status %q", wire.Status), nil)
	}
}

func metadataFromWire(r *wireResult) song.Metadata {
	m := song.Metadata{
		Title:       r.Title,
		Artist:      r.Artist,
		Album:       r.Album,
		ReleaseDate: r.ReleaseDate,
	}
	if r.Lyrics != nil {
		m.Lyrics = r.Lyrics.Lyrics
	}

	links := song.ExternalLinks{}
	if r.SongLink != "" {
		links["audd"] = r.SongLink
	}
	if r.AppleMusic != nil {
		if r.AppleMusic.URL != "" {
			links["apple_music"] = r.AppleMusic.URL
		}
		if r.AppleMusic.Artwork.URL != "" {
			// Artwork URLs carry size placeholders.
			url := strings.NewReplacer("{w}", "600", "{h}", "600").Replace(r.AppleMusic.Artwork.URL)
			m.AlbumArtLink = url
		}
		if len(r.AppleMusic.Previews) > 0 {
			m.PlaybackLink = r.AppleMusic.Previews[0].URL
		}
	}
	if r.Spotify != nil {
		if r.Spotify.ExternalURLs.Spotify != "" {
			links["spotify"] = r.Spotify.ExternalURLs.Spotify
		}
		if m.AlbumArtLink == "" && len(r.Spotify.Album.Images) > 0 {
			m.AlbumArtLink = r.Spotify.Album.Images[0].URL
		}
	}
	if len(links) > 0 {
		m.ExternalLinks = links
	}
	return m
}
