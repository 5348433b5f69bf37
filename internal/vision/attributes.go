package vision

import (
	"fmt"
	"image"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// GenderAge represents predicted gender and age attributes for one face.
type GenderAge struct {
	Gender           string  // "male" or "female"
	GenderConfidence float64 // 0.0 to 1.0
	Age              int
}

// AttributePredictor predicts gender and age using the InsightFace genderage model.
type AttributePredictor struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
}

// NewAttributePredictor loads the gender/age ONNX model.
func NewAttributePredictor(modelPath string, opts *ort.SessionOptions) (*AttributePredictor, error) {
	// genderage expects 96x96 input
	inputW, inputH := 96, 96

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output: [1, 3] = [female_score, male_score, age/100]
	outputShape := ort.NewShape(1, 3)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"data"},
		[]string{"fc1"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create attribute session: %w", err)
	}

	return &AttributePredictor{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

// Predict runs gender/age prediction on a face crop.
func (p *AttributePredictor) Predict(face image.Image) (*GenderAge, error) {
	input := imageToFloat32CHW(face, p.inputW, p.inputH, [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
	copy(p.inputTensor.GetData(), input)

	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("run attributes: %w", err)
	}

	return decodeGenderAge(p.outputTensor.GetData())
}

func (p *AttributePredictor) Close() {
	if p.session != nil {
		p.session.Destroy()
	}
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
	}
}

func decodeGenderAge(data []float32) (*GenderAge, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("unexpected output size: %d", len(data))
	}

	gender, conf := "female", softmax2(data[0], data[1])
	if data[1] > data[0] {
		gender, conf = "male", 1-conf
	}

	age := int(data[2]*100 + 0.5)
	if age < 0 {
		age = 0
	}
	if age > 100 {
		age = 100
	}

	return &GenderAge{Gender: gender, GenderConfidence: conf, Age: age}, nil
}

// softmax2 returns the probability of a in a two-way softmax over (a, b).
func softmax2(a, b float32) float64 {
	return 1 / (1 + math.Exp(float64(b-a)))
}
