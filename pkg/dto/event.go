package dto

import "github.com/your-org/retailedge/internal/models"

// WS message types.
const (
	WSTypeFrame  = "frame"
	WSTypeReport = "report"
)

// WSEvent is a WebSocket message for real-time delivery.
type WSEvent struct {
	Type     string               `json:"type"` // frame, report
	CameraID string               `json:"camera_id"`
	Frame    *models.FrameEvent   `json:"frame,omitempty"`
	Report   *models.ReportNotice `json:"report,omitempty"`
}

// FrameEventWS wraps a frame event for broadcasting.
func FrameEventWS(ev *models.FrameEvent) *WSEvent {
	return &WSEvent{Type: WSTypeFrame, CameraID: ev.CameraID, Frame: ev}
}

// ReportNoticeWS wraps a report notice for broadcasting.
func ReportNoticeWS(n *models.ReportNotice) *WSEvent {
	return &WSEvent{Type: WSTypeReport, CameraID: n.CameraID, Report: n}
}
