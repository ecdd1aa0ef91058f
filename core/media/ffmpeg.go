package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"EchoFM/logger"
)

// HLSProfile describes the rendition produced for every track.
type HLSProfile struct {
	Bitrates        []int // kbps, one variant stream per entry
	SegmentDuration int   // seconds
	PlaylistType    string
}

// Encoder produces a multi-bitrate HLS rendition from a raw audio file and
// measures media duration.
type Encoder interface {
	GenerateHLS(ctx context.Context, inputPath, outputDir string) error
	GetDuration(ctx context.Context, path string) (int, error)
}

// FFmpegEncoder implements Encoder using the ffmpeg/ffprobe command line tools.
type FFmpegEncoder struct {
	ffmpegPath  string
	ffprobePath string
	profile     HLSProfile
}

// NewFFmpegEncoder creates a new FFmpegEncoder with the given encoding profile.
func NewFFmpegEncoder(ffmpegPath, ffprobePath string, profile HLSProfile) *FFmpegEncoder {
	return &FFmpegEncoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, profile: profile}
}

// GenerateHLS transcodes inputPath into outputDir as one AAC variant stream per
// ladder entry: master.m3u8 at the top, stream_<n>/playlist.m3u8 plus
// stream_<n>/segment_NNN.ts per bitrate.
func (e *FFmpegEncoder) GenerateHLS(ctx context.Context, inputPath, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	args := []string{
		"-i", inputPath,
		"-vn",
	}
	streamMap := make([]string, 0, len(e.profile.Bitrates))
	for i, bitrate := range e.profile.Bitrates {
		args = append(args,
			"-map", "0:a:0",
			fmt.Sprintf("-c:a:%d", i), "aac",
			fmt.Sprintf("-b:a:%d", i), fmt.Sprintf("%dk", bitrate),
		)
		streamMap = append(streamMap, fmt.Sprintf("a:%d", i))
	}
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(e.profile.SegmentDuration),
		"-hls_playlist_type", e.profile.PlaylistType,
		"-hls_segment_filename", filepath.Join(outputDir, "stream_%v", "segment_%03d.ts"),
		"-master_pl_name", "master.m3u8",
		"-var_stream_map", strings.Join(streamMap, " "),
		filepath.Join(outputDir, "stream_%v", "playlist.m3u8"),
	)

	logger.Debug("执行FFmpeg转码",
		logger.String("input", inputPath),
		logger.String("args", strings.Join(args, " ")))

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg execution failed for %s: %w\nFFmpeg Error: %s", inputPath, err, stderr.String())
	}
	return nil
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// GetDuration uses ffprobe to get the duration of a media file in whole seconds.
// When pointed at a directory (idempotent repair path) it probes the master
// playlist inside it.
func (e *FFmpegEncoder) GetDuration(ctx context.Context, path string) (int, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "master.m3u8")
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", path, err, stderr.String())
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", path, err)
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", path)
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration string %q for %s: %w", probeData.Format.Duration, path, err)
	}
	return int(duration), nil
}
