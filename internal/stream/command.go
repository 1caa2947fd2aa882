package stream

import (
	"path"
	"path/filepath"
	"strconv"
)

const (
	SegmentSeconds = 2
	PlaylistSize   = 5
)

// TranscodeArgs builds the ffmpeg arguments that repackage an RTSP source as a
// live HLS playlist: video copied, audio to AAC, sliding window of segments.
func TranscodeArgs(rtspURL, outputDir, id string) []string {
	return []string{
		"-rtsp_transport", "tcp",
		"-i", rtspURL,
		"-c:v", "copy",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", strconv.Itoa(SegmentSeconds),
		"-hls_list_size", strconv.Itoa(PlaylistSize),
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", SegmentPattern(outputDir, id),
		PlaylistPath(outputDir, id),
	}
}

func PlaylistPath(outputDir, id string) string {
	return filepath.Join(outputDir, id+".m3u8")
}

func SegmentPattern(outputDir, id string) string {
	return filepath.Join(outputDir, id+"_%03d.ts")
}

// PublicURL is the path the HTTP layer serves the playlist under.
func PublicURL(prefix, id string) string {
	return path.Join("/", prefix, id+".m3u8")
}
