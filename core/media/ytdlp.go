package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"EchoFM/logger"
)

// ArtistMeta is one performer reported by the provider.
type ArtistMeta struct {
	Name     string
	SourceID *string // provider artist/channel id when available
	ImageURL *string
}

// TrackMeta is the validated metadata for one external content item.
type TrackMeta struct {
	Provider     string
	ProviderID   string
	Title        string
	Duration     *int // seconds
	ThumbnailURL *string
	Artists      []ArtistMeta
	Genres       []string
}

// MetadataProvider resolves descriptive metadata for an external content id.
type MetadataProvider interface {
	FetchMetadata(ctx context.Context, sourceID string) (*TrackMeta, error)
}

// Downloader fetches the best available audio stream for an external content id
// into outputDir. The produced file is named <sourceID>.<ext> and located by the
// caller via prefix.
type Downloader interface {
	Download(ctx context.Context, sourceID, outputDir string) error
}

// YtdlpClient implements MetadataProvider and Downloader on top of the yt-dlp
// command line tool.
type YtdlpClient struct {
	ytdlpPath string
	provider  string
}

// NewYtdlpClient creates a YtdlpClient for the single supported provider.
func NewYtdlpClient(ytdlpPath string) *YtdlpClient {
	return &YtdlpClient{ytdlpPath: ytdlpPath, provider: "youtube"}
}

func (c *YtdlpClient) watchURL(sourceID string) string {
	return "https://www.youtube.com/watch?v=" + sourceID
}

// ytdlpDump is the strict boundary schema for `yt-dlp --dump-json`. Every field
// beyond id/title is optional; duration is a raw value because yt-dlp emits
// either a number or the string "NA".
type ytdlpDump struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Duration   json.RawMessage `json:"duration"`
	Thumbnail  string          `json:"thumbnail"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
	Artists  []string `json:"artists"`
	Artist   string   `json:"artist"`
	Creator  string   `json:"creator"`
	Uploader string   `json:"uploader"`
	Channel  string   `json:"channel"`
	ChannelID string  `json:"channel_id"`
	Genres   []string `json:"genres"`
	Genre    string   `json:"genre"`
}

// FetchMetadata runs yt-dlp in dump-json mode and maps the output into the
// internal metadata type, rejecting on missing required fields.
func (c *YtdlpClient) FetchMetadata(ctx context.Context, sourceID string) (*TrackMeta, error) {
	args := []string{
		c.watchURL(sourceID),
		"--dump-json",
		"--skip-download",
		"--no-warnings",
	}

	cmd := exec.CommandContext(ctx, c.ytdlpPath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp metadata fetch failed for %s: %w\nyt-dlp error: %s", sourceID, err, stderr.String())
	}

	var dump ytdlpDump
	if err := json.Unmarshal(out.Bytes(), &dump); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yt-dlp output for %s: %w", sourceID, err)
	}
	if dump.ID == "" || dump.Title == "" {
		return nil, fmt.Errorf("yt-dlp output for %s missing required fields (id/title)", sourceID)
	}

	meta := &TrackMeta{
		Provider:     c.provider,
		ProviderID:   dump.ID,
		Title:        dump.Title,
		Duration:     parseDuration(dump.Duration),
		ThumbnailURL: extractThumbnail(&dump),
		Artists:      extractArtists(&dump),
		Genres:       extractGenres(&dump),
	}

	logger.Debug("已解析外部元数据",
		logger.String("sourceId", sourceID),
		logger.String("title", meta.Title),
		logger.Int("artistCount", len(meta.Artists)))
	return meta, nil
}

// Download fetches the best available audio stream into outputDir, named by the
// provider id with the original extension.
func (c *YtdlpClient) Download(ctx context.Context, sourceID, outputDir string) error {
	args := []string{
		"-f", "bestaudio",
		"-o", outputDir + "/%(id)s.%(ext)s",
		"--no-warnings",
		c.watchURL(sourceID),
	}

	cmd := exec.CommandContext(ctx, c.ytdlpPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Info("开始下载音频",
		logger.String("sourceId", sourceID),
		logger.String("outputDir", outputDir))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("yt-dlp download failed for %s: %w\nyt-dlp error: %s", sourceID, err, stderr.String())
	}
	return nil
}

// parseDuration accepts a JSON number, a numeric string, or nothing.
func parseDuration(raw json.RawMessage) *int {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		d := int(f)
		return &d
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "NA" {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return &v
		}
	}
	return nil
}

// extractThumbnail prefers the last (largest) entry of the thumbnails array.
func extractThumbnail(d *ytdlpDump) *string {
	if len(d.Thumbnails) > 0 {
		url := d.Thumbnails[len(d.Thumbnails)-1].URL
		if url != "" {
			return &url
		}
	}
	if d.Thumbnail != "" {
		t := d.Thumbnail
		return &t
	}
	return nil
}

// extractArtists walks the artists/artist/creator/uploader fallback chain. Only
// the uploader fallback carries the channel id as a stable artist id; explicit
// artist credits come without one.
func extractArtists(d *ytdlpDump) []ArtistMeta {
	if len(d.Artists) > 0 {
		out := make([]ArtistMeta, 0, len(d.Artists))
		for _, name := range d.Artists {
			if strings.TrimSpace(name) == "" {
				continue
			}
			out = append(out, ArtistMeta{Name: name})
		}
		return out
	}
	if d.Artist != "" {
		return []ArtistMeta{{Name: d.Artist}}
	}
	if d.Creator != "" {
		return []ArtistMeta{{Name: d.Creator}}
	}
	if d.Uploader != "" {
		meta := ArtistMeta{Name: d.Uploader}
		if d.ChannelID != "" {
			id := d.ChannelID
			meta.SourceID = &id
		}
		return []ArtistMeta{meta}
	}
	return nil
}

// extractGenres accepts either the genres array or a comma separated genre field.
func extractGenres(d *ytdlpDump) []string {
	if len(d.Genres) > 0 {
		return d.Genres
	}
	if d.Genre != "" {
		parts := strings.Split(d.Genre, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if g := strings.TrimSpace(p); g != "" {
				out = append(out, g)
			}
		}
		return out
	}
	return nil
}
