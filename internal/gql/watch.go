package gql

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
)

// usherHost serves the HLS master playlist for a channel's live stream;
// requesting a segment from it is what actually advances drop progress,
// the same mechanism a real video player uses.
const usherHost = "https://usher.ttvnw.net/api/channel/hls/"

// StreamURL builds the signed master-playlist URL for channelLogin using
// a freshly fetched playback access token.
func (c *Client) StreamURL(ctx context.Context, channelLogin string) (string, error) {
	token, err := c.GetPlaybackAccessToken(ctx, channelLogin)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s.m3u8?client_id=%s&token=%s&sig=%s&allow_source=true&allow_audio_only=true&allow_spectre=false&p=%d",
		usherHost, channelLogin, clientID, token.Value, token.Signature, rand.Intn(999999),
	), nil
}

// SendWatchBeacon fetches the master playlist, picks a variant playlist,
// takes its last segment, and issues a HEAD request against it — the
// request Twitch's player sends every interval to report watch time, and
// the only thing that actually advances a TimedDrop's progress.
func (c *Client) SendWatchBeacon(ctx context.Context, streamURL string) error {
	master, err := c.fetchPlaylist(ctx, streamURL)
	if err != nil {
		return fmt.Errorf("watch beacon: master playlist: %w", err)
	}
	variantURL, ok := firstVariantURL(master)
	if !ok {
		return fmt.Errorf("watch beacon: no variant playlist found")
	}
	variant, err := c.fetchPlaylist(ctx, variantURL)
	if err != nil {
		return fmt.Errorf("watch beacon: variant playlist: %w", err)
	}
	segmentURL, ok := lastSegmentURL(variant)
	if !ok {
		return fmt.Errorf("watch beacon: no segment found")
	}

	req, err := http.NewRequestWithContext(ctx, "HEAD", segmentURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Client-Id", clientID)

	resp, err := c.http.RawDo(req)
	if err != nil {
		return fmt.Errorf("watch beacon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("watch beacon: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) fetchPlaylist(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Client-Id", clientID)

	resp, err := c.http.RawDo(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func firstVariantURL(playlist string) (string, bool) {
	for _, line := range strings.Split(playlist, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http") && strings.Contains(line, ".m3u8") {
			return line, true
		}
	}
	return "", false
}

func lastSegmentURL(playlist string) (string, bool) {
	var last string
	for _, line := range strings.Split(playlist, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http") {
			last = line
		}
	}
	return last, last != ""
}
