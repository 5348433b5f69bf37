package dto

// ReportSummary lists one per-camera report on disk.
type ReportSummary struct {
	Camera      string `json:"camera"`
	File        string `json:"file"`
	GeneratedAt string `json:"generated_at"`
	CellSizePx  int    `json:"cell_size_px"`
	Zones       int    `json:"zones"`
	Visits      int    `json:"visits"`
	HotSpots    int    `json:"hot_spots"`
}

type ReportListResponse struct {
	Reports []ReportSummary `json:"reports"`
	Total   int             `json:"total"`
}

// RebuildResponse is returned after re-combining the master report.
type RebuildResponse struct {
	Path    string        `json:"path"`
	Cameras []string      `json:"cameras"`
	Skipped []SkippedFile `json:"skipped"`
	Zones   int           `json:"zones"`
}

type SkippedFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// ZoneStat is one row of the zone statistics mirror.
type ZoneStat struct {
	Camera      string  `json:"camera"`
	Zone        string  `json:"zone"`
	Visits      int     `json:"visits"`
	HotSpots    int     `json:"hot_spots"`
	AvgDwell    float64 `json:"avg_dwell"`
	GeneratedAt string  `json:"generated_at"`
}

type ZoneStatListResponse struct {
	Zones []ZoneStat `json:"zones"`
	Total int        `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
