package vision

import (
	"fmt"
	"image"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// FaceDetector runs RetinaFace face detection using ONNX Runtime.
type FaceDetector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float64
	inputW        int
	inputH        int
}

// stride configuration for RetinaFace det_10g
var strides = []int{8, 16, 32}

// anchorsPerStride is the number of anchors per pixel at each stride
const anchorsPerStride = 2

// NewFaceDetector loads the RetinaFace ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewFaceDetector(modelPath string, threshold float64, opts *ort.SessionOptions) (*FaceDetector, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// det_10g emits scores then boxes, one tensor per stride, no batch dim.
	// 12800 = 80*80*2, 3200 = 40*40*2, 800 = 20*20*2.
	type outputSpec struct {
		name  string
		shape ort.Shape
	}

	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))

	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %d (%s): %w", i, spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create face detector session: %w", err)
	}

	return &FaceDetector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect finds faces anywhere in the frame.
func (d *FaceDetector) Detect(img image.Image) ([]Detection, error) {
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW <= 0 || origH <= 0 {
		return nil, nil
	}

	input := imageToFloat32CHW(img, d.inputW, d.inputH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
	copy(d.inputTensor.GetData(), input)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run face detection: %w", err)
	}

	scores := make([][]float32, len(strides))
	boxes := make([][]float32, len(strides))
	for si := range strides {
		scores[si] = d.outputTensors[si].GetData()
		boxes[si] = d.outputTensors[si+len(strides)].GetData()
	}

	dets := decodeRetinaFace(scores, boxes, d.inputW, d.inputH, d.threshold,
		float64(origW)/float64(d.inputW), float64(origH)/float64(d.inputH))
	dets = clipDetections(dets, float64(origW), float64(origH))

	return nms(dets, 0.4), nil
}

func (d *FaceDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// decodeRetinaFace decodes anchor-based distance outputs at strides 8, 16, 32.
func decodeRetinaFace(scores, boxes [][]float32, inputW, inputH int, threshold, scaleW, scaleH float64) []Detection {
	var dets []Detection

	for si, stride := range strides {
		fmW := inputW / stride
		fmH := inputH / stride
		st := float64(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if idx >= len(scores[si]) || idx*4+3 >= len(boxes[si]) {
						return dets
					}
					score := float64(scores[si][idx])
					if score >= threshold {
						anchorX := float64(cx) * st
						anchorY := float64(cy) * st
						b := boxes[si][idx*4 : idx*4+4]

						dets = append(dets, Detection{
							Box: Box{
								X1: (anchorX - float64(b[0])*st) * scaleW,
								Y1: (anchorY - float64(b[1])*st) * scaleH,
								X2: (anchorX + float64(b[2])*st) * scaleW,
								Y2: (anchorY + float64(b[3])*st) * scaleH,
							},
							Confidence: score,
						})
					}
					idx++
				}
			}
		}
	}

	return dets
}

// nms performs Non-Maximum Suppression on detections.
func nms(detections []Detection, iouThreshold float64) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] {
				continue
			}
			if IOU(detections[i].Box, detections[j].Box) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}
