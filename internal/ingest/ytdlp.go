package ingest

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/your-org/retailedge/internal/models"
)

const maxYouTubeHeight = 1080

// ytdlpFormat picks the smallest progressive stream that still covers the
// frame width ffmpeg scales to, falling back to a capped height and then to
// whatever yt-dlp offers.
func ytdlpFormat(width int) string {
	capped := fmt.Sprintf("best[height<=%d]", maxYouTubeHeight)
	if width <= 0 {
		return capped + "/best"
	}
	return fmt.Sprintf("best[width>=%d][height<=%d]/%s/best", width, maxYouTubeHeight, capped)
}

func ytdlpArgs(src models.Source) []string {
	args := []string{"--get-url", "--no-playlist", "--format", ytdlpFormat(src.Width)}
	if src.Width > 0 {
		// Prefer the lowest resolution that satisfies the width filter.
		args = append(args, "--format-sort", "+res")
	}
	return append(args, src.URL)
}

// ResolveYouTubeURL asks yt-dlp for a direct media URL of src sized for
// src.Width.
func ResolveYouTubeURL(ctx context.Context, src models.Source) (string, error) {
	output, err := exec.CommandContext(ctx, "yt-dlp", ytdlpArgs(src)...).Output()
	if err != nil {
		return "", fmt.Errorf("resolve youtube url %s: %w", src.URL, err)
	}
	url, err := firstURL(output)
	if err != nil {
		return "", fmt.Errorf("resolve youtube url %s: %w", src.URL, err)
	}
	return url, nil
}

// firstURL keeps the first line; yt-dlp prints video and audio URLs
// separately for split formats.
func firstURL(output []byte) (string, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("yt-dlp returned no url")
	}
	return line, nil
}
