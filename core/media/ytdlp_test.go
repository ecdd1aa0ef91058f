package media

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *int
	}{
		{"number", `212`, intPtr(212)},
		{"float truncates", `212.8`, intPtr(212)},
		{"numeric string", `"95"`, intPtr(95)},
		{"NA marker", `"NA"`, nil},
		{"null", `null`, nil},
		{"absent", ``, nil},
		{"garbage string", `"soon"`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDuration(json.RawMessage(tt.raw))
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func intPtr(v int) *int { return &v }

func TestExtractThumbnailPrefersLastEntry(t *testing.T) {
	d := &ytdlpDump{Thumbnail: "https://i.ytimg.com/default.jpg"}
	d.Thumbnails = []struct {
		URL string `json:"url"`
	}{
		{URL: "https://i.ytimg.com/small.jpg"},
		{URL: "https://i.ytimg.com/maxres.jpg"},
	}

	got := extractThumbnail(d)
	require.NotNil(t, got)
	assert.Equal(t, "https://i.ytimg.com/maxres.jpg", *got)

	// 数组为空时回退到单值字段
	d.Thumbnails = nil
	got = extractThumbnail(d)
	require.NotNil(t, got)
	assert.Equal(t, "https://i.ytimg.com/default.jpg", *got)

	assert.Nil(t, extractThumbnail(&ytdlpDump{}))
}

func TestExtractArtistsFallbackChain(t *testing.T) {
	t.Run("explicit artists win", func(t *testing.T) {
		d := &ytdlpDump{
			Artists:  []string{"Artist A", " ", "Artist B"},
			Artist:   "Ignored",
			Uploader: "Ignored Channel",
		}
		got := extractArtists(d)
		require.Len(t, got, 2)
		assert.Equal(t, "Artist A", got[0].Name)
		assert.Equal(t, "Artist B", got[1].Name)
		assert.Nil(t, got[0].SourceID, "explicit credits carry no provider id")
	})

	t.Run("uploader fallback keeps channel id", func(t *testing.T) {
		d := &ytdlpDump{Uploader: "Some Channel", ChannelID: "UCxyz789"}
		got := extractArtists(d)
		require.Len(t, got, 1)
		assert.Equal(t, "Some Channel", got[0].Name)
		require.NotNil(t, got[0].SourceID)
		assert.Equal(t, "UCxyz789", *got[0].SourceID)
	})

	t.Run("creator before uploader", func(t *testing.T) {
		d := &ytdlpDump{Creator: "The Creator", Uploader: "The Channel", ChannelID: "UC1"}
		got := extractArtists(d)
		require.Len(t, got, 1)
		assert.Equal(t, "The Creator", got[0].Name)
		assert.Nil(t, got[0].SourceID)
	})

	t.Run("nothing reported", func(t *testing.T) {
		assert.Empty(t, extractArtists(&ytdlpDump{}))
	})
}

func TestExtractGenres(t *testing.T) {
	assert.Equal(t, []string{"Rock", "Indie"},
		extractGenres(&ytdlpDump{Genres: []string{"Rock", "Indie"}}))

	assert.Equal(t, []string{"Jazz", "Fusion"},
		extractGenres(&ytdlpDump{Genre: " Jazz , Fusion ,"}))

	assert.Empty(t, extractGenres(&ytdlpDump{}))
}
