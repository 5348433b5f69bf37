package models

import (
	"time"

	"github.com/google/uuid"
)

// PersonEvent is one enriched tracked person in a frame.
type PersonEvent struct {
	TrackID       int        `json:"track_id"`
	BBox          [4]float64 `json:"bbox"` // x1, y1, x2, y2
	Age           *int       `json:"age,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	Expression    string     `json:"expression,omitempty"`
	ClothingStyle string     `json:"clothing_style,omitempty"`
	IsChild       bool       `json:"is_child"`
}

// ZoneEvent is a visit or hot spot counted during a frame.
type ZoneEvent struct {
	TrackID int     `json:"track_id"`
	Zone    string  `json:"zone"`
	Dwell   float64 `json:"dwell_seconds"`
}

// FrameEvent is published to NATS once per processed frame.
type FrameEvent struct {
	ID        uuid.UUID     `json:"id"`
	CameraID  string        `json:"camera_id"`
	Frame     int64         `json:"frame"`
	Timestamp time.Time     `json:"timestamp"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Persons   []PersonEvent `json:"persons"`
	Visits    []ZoneEvent   `json:"visits,omitempty"`
	HotSpots  []ZoneEvent   `json:"hot_spots,omitempty"`
	AdID      string        `json:"ad_id,omitempty"`
	AdReason  string        `json:"ad_reason,omitempty"`
}

// ReportNotice announces that a camera has written its heatmap report.
type ReportNotice struct {
	ID          uuid.UUID `json:"id"`
	CameraID    string    `json:"camera_id"`
	Path        string    `json:"path"`
	ObjectKey   string    `json:"object_key,omitempty"` // MinIO key when uploaded
	Zones       int       `json:"zones"`
	GeneratedAt time.Time `json:"generated_at"`
}
