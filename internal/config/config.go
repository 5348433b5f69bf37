package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Camera   CameraConfig   `yaml:"camera"`
	Vision   VisionConfig   `yaml:"vision"`
	Tracking TrackingConfig `yaml:"tracking"`
	Heatmap  HeatmapConfig  `yaml:"heatmap"`
	Ads      AdsConfig      `yaml:"ads"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

type NATSConfig struct {
	URL string `yaml:"url"`
	// Embedded runs an in-process JetStream server instead of dialing URL.
	Embedded bool   `yaml:"embedded"`
	Port     int    `yaml:"port"`
	StoreDir string `yaml:"store_dir"`
}

func (n NATSConfig) Enabled() bool { return n.URL != "" || n.Embedded }

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

func (m MinIOConfig) Enabled() bool { return m.Endpoint != "" }

// CameraConfig describes the single source an edge process reads.
type CameraConfig struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source"`
	FPS    int    `yaml:"fps"`
	// FrameSkip drops this many frames between two processed ones.
	FrameSkip   int `yaml:"frame_skip"`
	RenderEvery int `yaml:"render_every"`
}

type VisionConfig struct {
	ModelsDir      string  `yaml:"models_dir"`
	PersonModel    string  `yaml:"person_model"`
	FaceModel      string  `yaml:"face_model"`
	AttributeModel string  `yaml:"attribute_model"`
	MinPersonConf  float64 `yaml:"min_person_conf"`
	FaceThreshold  float64 `yaml:"face_threshold"`
	FrameWidth     int     `yaml:"frame_width"`
	IntraOpThreads int     `yaml:"intra_op_threads"`
	SharedLibPath  string  `yaml:"shared_lib_path"`
	DisableFaces   bool    `yaml:"disable_faces"`
}

// TrackingConfig defaults are applied before the file is decoded, so an
// explicit 0 is kept: max_age 0 drops a track on its first miss.
type TrackingConfig struct {
	IOUThreshold float64 `yaml:"iou_threshold"`
	MaxAge       int     `yaml:"max_age"`
}

func defaultTracking() TrackingConfig {
	return TrackingConfig{IOUThreshold: 0.4, MaxAge: 30}
}

type HeatmapConfig struct {
	DwellThreshold time.Duration `yaml:"dwell_threshold"`
	HotThreshold   time.Duration `yaml:"hot_threshold"`
	CellSize       int           `yaml:"cell_size"`
	OutDir         string        `yaml:"out_dir"`
	MasterFile     string        `yaml:"master_file"`
	Snapshot       bool          `yaml:"snapshot"`
	ZonePlot       bool          `yaml:"zone_plot"`
}

type AdsConfig struct {
	RulesFile string `yaml:"rules_file"`
	Watch     bool   `yaml:"watch"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// An empty path skips the file and uses environment and defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{Tracking: defaultTracking()}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Tracking.MaxAge < 0 {
		return fmt.Errorf("tracking.max_age must not be negative")
	}
	if c.Tracking.IOUThreshold < 0 || c.Tracking.IOUThreshold > 1 {
		return fmt.Errorf("tracking.iou_threshold must be within [0, 1], got %v", c.Tracking.IOUThreshold)
	}
	if c.Heatmap.HotThreshold < c.Heatmap.DwellThreshold {
		return fmt.Errorf("heatmap.hot_threshold (%s) is below dwell_threshold (%s)",
			c.Heatmap.HotThreshold, c.Heatmap.DwellThreshold)
	}
	if c.Camera.FrameSkip < 0 {
		return fmt.Errorf("camera.frame_skip must not be negative")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.NATS.Embedded && cfg.NATS.Port == 0 {
		cfg.NATS.Port = 4222
	}
	if cfg.NATS.Embedded && cfg.NATS.StoreDir == "" {
		cfg.NATS.StoreDir = "data/nats"
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "heatmaps"
	}
	if cfg.Camera.ID == "" {
		cfg.Camera.ID = "cam1"
	}
	if cfg.Camera.Source == "" {
		cfg.Camera.Source = "0"
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 5
	}
	if cfg.Camera.RenderEvery == 0 {
		cfg.Camera.RenderEvery = 1
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.PersonModel == "" {
		cfg.Vision.PersonModel = "yolov8n.onnx"
	}
	if cfg.Vision.FaceModel == "" {
		cfg.Vision.FaceModel = "det_10g.onnx"
	}
	if cfg.Vision.AttributeModel == "" {
		cfg.Vision.AttributeModel = "genderage.onnx"
	}
	if cfg.Vision.MinPersonConf == 0 {
		cfg.Vision.MinPersonConf = 0.30
	}
	if cfg.Vision.FaceThreshold == 0 {
		cfg.Vision.FaceThreshold = 0.5
	}
	if cfg.Vision.FrameWidth == 0 {
		cfg.Vision.FrameWidth = 640
	}
	if cfg.Heatmap.DwellThreshold == 0 {
		cfg.Heatmap.DwellThreshold = 5 * time.Second
	}
	if cfg.Heatmap.HotThreshold == 0 {
		cfg.Heatmap.HotThreshold = 10 * time.Second
	}
	if cfg.Heatmap.CellSize == 0 {
		cfg.Heatmap.CellSize = 50
	}
	if cfg.Heatmap.OutDir == "" {
		cfg.Heatmap.OutDir = "heatmap_reports"
	}
	if cfg.Heatmap.MasterFile == "" {
		cfg.Heatmap.MasterFile = filepath.Join(cfg.Heatmap.OutDir, "master_heatmap.json")
	}
	if cfg.Ads.RulesFile == "" {
		cfg.Ads.RulesFile = "config/personas.yaml"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// ModelPath joins a model file name with the models directory.
func (v VisionConfig) ModelPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(v.ModelsDir, name)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("RE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("RE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("RE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("RE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("RE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("RE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("RE_NATS_EMBEDDED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.NATS.Embedded = b
		}
	}
	if v := os.Getenv("RE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("RE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("RE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("RE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("RE_CAMERA_ID"); v != "" {
		cfg.Camera.ID = v
	}
	if v := os.Getenv("RE_SOURCE"); v != "" {
		cfg.Camera.Source = v
	}
	if v := os.Getenv("RE_FRAME_SKIP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Camera.FrameSkip = n
		}
	}
	if v := os.Getenv("RE_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("RE_MIN_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.MinPersonConf = f
		}
	}
	if v := os.Getenv("RE_DWELL_THRESH"); v != "" {
		if d, ok := parseSeconds(v); ok {
			cfg.Heatmap.DwellThreshold = d
		}
	}
	if v := os.Getenv("RE_HOT_THRESH"); v != "" {
		if d, ok := parseSeconds(v); ok {
			cfg.Heatmap.HotThreshold = d
		}
	}
	if v := os.Getenv("RE_HEAT_OUT_DIR"); v != "" {
		cfg.Heatmap.OutDir = v
	}
	if v := os.Getenv("RE_MASTER_HEAT_FILE"); v != "" {
		cfg.Heatmap.MasterFile = v
	}
	if v := os.Getenv("RE_RULES_FILE"); v != "" {
		cfg.Ads.RulesFile = v
	}
	if v := os.Getenv("RE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// parseSeconds accepts either a Go duration ("7s") or plain seconds ("7.5").
func parseSeconds(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}
