package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retailedge",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"camera"})

	PersonsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retailedge",
		Name:      "persons_detected_total",
		Help:      "Total number of person detections kept after filtering",
	}, []string{"camera"})

	TracksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retailedge",
		Name:      "tracks_created_total",
		Help:      "Total number of track ids minted",
	}, []string{"camera"})

	ActiveTracks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "retailedge",
		Name:      "active_tracks",
		Help:      "Number of live tracks",
	}, []string{"camera"})

	DwellVisits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retailedge",
		Name:      "dwell_visits_total",
		Help:      "Stationary periods that exceeded the dwell threshold",
	}, []string{"camera"})

	HotSpots = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retailedge",
		Name:      "hot_spots_total",
		Help:      "Stationary periods that exceeded the hot threshold",
	}, []string{"camera"})

	AdsSelected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retailedge",
		Name:      "ads_selected_total",
		Help:      "Ad selections by ad id",
	}, []string{"camera", "ad"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "retailedge",
		Name:      "inference_duration_seconds",
		Help:      "Duration of per-frame processing stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	ReportsCombined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "retailedge",
		Name:      "reports_combined_total",
		Help:      "Per-camera reports merged into a master report",
	})

	ReportsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "retailedge",
		Name:      "reports_skipped_total",
		Help:      "Per-camera reports skipped as unreadable or malformed",
	})

	ActiveCameras = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "retailedge",
		Name:      "active_cameras",
		Help:      "Number of cameras currently streaming",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "retailedge",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "retailedge",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
