package models

import (
	"os"
	"strings"
)

type SourceType string

const (
	SourceTypeRTSP    SourceType = "rtsp"
	SourceTypeYouTube SourceType = "youtube"
	SourceTypeHTTP    SourceType = "http"
	SourceTypeFile    SourceType = "file"
	SourceTypeDevice  SourceType = "device"
)

// Source is a camera input resolved from the configured source string.
type Source struct {
	CameraID string     `json:"camera_id"`
	URL      string     `json:"url"`
	Type     SourceType `json:"type"`
	FPS      int        `json:"fps"`
	Width    int        `json:"width"`
}

// DetectSourceType classifies a source string. A bare integer is a local
// capture device index.
func DetectSourceType(src string) SourceType {
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "rtsp://"), strings.HasPrefix(lower, "rtsps://"):
		return SourceTypeRTSP
	case strings.Contains(lower, "youtube.com/"), strings.Contains(lower, "youtu.be/"):
		return SourceTypeYouTube
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return SourceTypeHTTP
	case isDeviceIndex(src):
		return SourceTypeDevice
	default:
		return SourceTypeFile
	}
}

func isDeviceIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	_, err := os.Stat(s)
	return err != nil
}
