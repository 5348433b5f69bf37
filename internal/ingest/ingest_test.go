package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/retailedge/internal/models"
)

func encodeJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestReadJPEGFramesSplitsStream(t *testing.T) {
	a := encodeJPEG(t, 8, 6, color.RGBA{R: 200, A: 255})
	b := encodeJPEG(t, 4, 4, color.RGBA{B: 200, A: 255})

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x12, 0x34})
	stream.Write(a)
	stream.Write([]byte{0x00})
	stream.Write(b)

	var frames [][]byte
	err := readJPEGFrames(context.Background(), &stream, func(data []byte) error {
		frames = append(frames, data)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	img, err := DecodeJPEG(frames[0])
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())

	img, err = DecodeJPEG(frames[1])
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
}

func TestReadJPEGFramesCallbackErrorDoesNotStop(t *testing.T) {
	a := encodeJPEG(t, 4, 4, color.White)
	stream := bytes.NewReader(append(append([]byte{}, a...), a...))

	calls := 0
	err := readJPEGFrames(context.Background(), stream, func([]byte) error {
		calls++
		return errors.New("boom")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestReadJPEGFramesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := readJPEGFrames(ctx, bytes.NewReader(nil), func([]byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeJPEGRejectsGarbage(t *testing.T) {
	_, err := DecodeJPEG([]byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9})
	assert.Error(t, err)
}

func TestDetectSourceType(t *testing.T) {
	cases := map[string]models.SourceType{
		"rtsp://cam.local/stream":            models.SourceTypeRTSP,
		"https://www.youtube.com/watch?v=abc": models.SourceTypeYouTube,
		"https://youtu.be/abc":                models.SourceTypeYouTube,
		"http://cam.local/mjpeg":              models.SourceTypeHTTP,
		"0":                                   models.SourceTypeDevice,
		"videos/store.mp4":                    models.SourceTypeFile,
	}
	for src, want := range cases {
		assert.Equal(t, want, models.DetectSourceType(src), src)
	}
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs(models.Source{URL: "rtsp://cam/1", Type: models.SourceTypeRTSP, FPS: 10, Width: 640})
	assert.Contains(t, args, "-rtsp_transport")
	assert.Contains(t, args, "fps=10,scale=640:-2")
	assert.Equal(t, "pipe:1", args[len(args)-1])

	args = ffmpegArgs(models.Source{URL: "store.mp4", Type: models.SourceTypeFile})
	assert.Contains(t, args, "-re")
	assert.Contains(t, args, "fps=5")

	args = ffmpegArgs(models.Source{URL: "0", Type: models.SourceTypeDevice, FPS: 5})
	if runtime.GOOS == "linux" {
		assert.Contains(t, args, "v4l2")
		assert.Contains(t, args, "/dev/video0")
	}
}

func TestReaderGivesUpWhenResolveFails(t *testing.T) {
	r := NewReader(models.Source{CameraID: "cam1", URL: "https://youtu.be/abc"}, nil)
	r.maxRetries = 0
	r.resolve = func(_ context.Context, src models.Source) (string, error) {
		return "", fmt.Errorf("resolve youtube url %s: %w", src.URL, errors.New("yt-dlp missing"))
	}

	err := r.Run(context.Background(), func(context.Context, image.Image) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yt-dlp missing")
	assert.Contains(t, err.Error(), "resolve youtube url https://youtu.be/abc")
	assert.Equal(t, models.SourceTypeYouTube, r.Source().Type)
}

func TestYTDLPFormatFollowsFrameWidth(t *testing.T) {
	tests := []struct {
		name  string
		width int
		want  string
	}{
		{"no width", 0, "best[height<=1080]/best"},
		{"frame width", 640, "best[width>=640][height<=1080]/best[height<=1080]/best"},
		{"wide frame", 1920, "best[width>=1920][height<=1080]/best[height<=1080]/best"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ytdlpFormat(tt.width))
		})
	}
}

func TestYTDLPArgs(t *testing.T) {
	args := ytdlpArgs(models.Source{URL: "https://youtu.be/abc", Width: 640})
	assert.Equal(t, []string{
		"--get-url", "--no-playlist",
		"--format", "best[width>=640][height<=1080]/best[height<=1080]/best",
		"--format-sort", "+res",
		"https://youtu.be/abc",
	}, args)

	args = ytdlpArgs(models.Source{URL: "https://youtu.be/abc"})
	assert.NotContains(t, args, "--format-sort")
	assert.Equal(t, "https://youtu.be/abc", args[len(args)-1])
}

func TestFirstURL(t *testing.T) {
	url, err := firstURL([]byte("  https://video.example/v\nhttps://audio.example/a\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://video.example/v", url)

	_, err = firstURL([]byte(" \n "))
	require.Error(t, err)
}
