package vision

import (
	"fmt"
	"log/slog"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/retailedge/internal/config"
)

// Models holds the loaded ONNX sessions of one edge process.
type Models struct {
	Persons *PersonDetector
	Faces   *FaceAnalyzer // nil when face analysis is disabled
}

// InitRuntime loads the ONNX Runtime shared library. Call DestroyRuntime on exit.
func InitRuntime(libPath string) error {
	if libPath == "" {
		libPath = defaultLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

func DestroyRuntime() {
	_ = ort.DestroyEnvironment()
}

// LoadModels initialises the person detector and, unless disabled, the face
// detector and gender/age model.
func LoadModels(cfg config.VisionConfig) (*Models, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}

	personPath := cfg.ModelPath(cfg.PersonModel)
	slog.Info("loading person model", "path", personPath)
	persons, err := NewPersonDetector(personPath, cfg.MinPersonConf, opts)
	if err != nil {
		return nil, fmt.Errorf("load person detector: %w", err)
	}

	m := &Models{Persons: persons}
	if cfg.DisableFaces {
		slog.Info("face analysis disabled")
		return m, nil
	}

	facePath := cfg.ModelPath(cfg.FaceModel)
	slog.Info("loading face model", "path", facePath)
	faces, err := NewFaceDetector(facePath, cfg.FaceThreshold, opts)
	if err != nil {
		persons.Close()
		return nil, fmt.Errorf("load face detector: %w", err)
	}

	attrPath := cfg.ModelPath(cfg.AttributeModel)
	slog.Info("loading attribute model", "path", attrPath)
	attrs, err := NewAttributePredictor(attrPath, opts)
	if err != nil {
		persons.Close()
		faces.Close()
		return nil, fmt.Errorf("load attributes: %w", err)
	}

	m.Faces = NewFaceAnalyzer(faces, attrs)
	return m, nil
}

func (m *Models) Close() {
	if m.Persons != nil {
		m.Persons.Close()
	}
	if m.Faces != nil {
		m.Faces.Close()
	}
}

// defaultLibPath returns the ONNX Runtime shared library name for the OS.
func defaultLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
