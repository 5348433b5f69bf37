package models

import "time"

// ZoneStat is one zone row of a camera report as mirrored to Postgres.
type ZoneStat struct {
	Camera      string    `json:"camera" db:"camera"`
	Zone        string    `json:"zone" db:"zone"`
	Visits      int       `json:"visits" db:"visits"`
	HotSpots    int       `json:"hot_spots" db:"hot_spots"`
	AvgDwell    float64   `json:"avg_dwell" db:"avg_dwell"`
	GeneratedAt time.Time `json:"generated_at" db:"generated_at"`
}
