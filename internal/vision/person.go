package vision

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
)

// PersonDetector runs a YOLOv8-style person detector using ONNX Runtime.
type PersonDetector struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	threshold    float64
	nmsIoU       float64
	inputW       int
	inputH       int
}

const (
	// yoloAnchors is the number of candidate boxes for a 640x640 input
	// (80*80 + 40*40 + 20*20).
	yoloAnchors = 8400
	// yoloChannels is 4 box values followed by 80 COCO class scores.
	yoloChannels = 84
	// personClass is the COCO class index for "person".
	personClass = 0
)

// NewPersonDetector loads the person detection ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewPersonDetector(modelPath string, threshold float64, opts *ort.SessionOptions) (*PersonDetector, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, yoloChannels, yoloAnchors)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create person session: %w", err)
	}

	return &PersonDetector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		threshold:    threshold,
		nmsIoU:       0.5,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

// Infer detects people in a frame. Boxes are returned in frame coordinates.
func (d *PersonDetector) Infer(img image.Image) ([]Detection, error) {
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW <= 0 || origH <= 0 {
		return nil, nil
	}

	input := imageToFloat32CHW(img, d.inputW, d.inputH, [3]float32{0, 0, 0}, [3]float32{255, 255, 255})
	copy(d.inputTensor.GetData(), input)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run person detection: %w", err)
	}

	scaleW := float64(origW) / float64(d.inputW)
	scaleH := float64(origH) / float64(d.inputH)
	dets := decodeYOLO(d.outputTensor.GetData(), yoloAnchors, d.threshold, scaleW, scaleH)
	dets = clipDetections(dets, float64(origW), float64(origH))

	return nms(dets, d.nmsIoU), nil
}

// InputSize returns the model's expected input dimensions.
func (d *PersonDetector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *PersonDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}

// decodeYOLO reads a channel-major [84, n] output (cx, cy, w, h, scores...)
// and keeps person candidates scoring at least threshold.
func decodeYOLO(data []float32, n int, threshold, scaleW, scaleH float64) []Detection {
	if len(data) < (4+personClass+1)*n {
		return nil
	}

	var dets []Detection
	for i := 0; i < n; i++ {
		score := float64(data[(4+personClass)*n+i])
		if score < threshold {
			continue
		}
		cx := float64(data[0*n+i])
		cy := float64(data[1*n+i])
		w := float64(data[2*n+i])
		h := float64(data[3*n+i])

		dets = append(dets, Detection{
			Box: Box{
				X1: (cx - w/2) * scaleW,
				Y1: (cy - h/2) * scaleH,
				X2: (cx + w/2) * scaleW,
				Y2: (cy + h/2) * scaleH,
			},
			Confidence: score,
		})
	}
	return dets
}

func clipDetections(dets []Detection, w, h float64) []Detection {
	for i := range dets {
		dets[i].Box = dets[i].Box.Clip(w, h)
	}
	return dets
}
