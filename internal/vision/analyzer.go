package vision

import (
	"fmt"
	"image"
	"log/slog"
)

// FaceInfo holds the face attributes found inside one person box.
type FaceInfo struct {
	HasFace    bool
	Age        *int
	Gender     string
	Expression string
	FaceBox    *Box
	IsChild    bool
}

const (
	// faceAssignIoU is the minimum person/face IOU for a face to be
	// attributed to a person.
	faceAssignIoU = 0.05
	// childAge is the age below which a person counts as a child.
	childAge = 13
	// neutralExpression is reported because the models expose no expression.
	neutralExpression = "neutral"
)

// FaceAnalyzer finds faces in a frame and attaches gender/age to person boxes.
type FaceAnalyzer struct {
	faces *FaceDetector
	attrs *AttributePredictor
}

// NewFaceAnalyzer wires a face detector and an attribute predictor together.
func NewFaceAnalyzer(faces *FaceDetector, attrs *AttributePredictor) *FaceAnalyzer {
	return &FaceAnalyzer{faces: faces, attrs: attrs}
}

// Analyze returns one FaceInfo per person box, in the same order.
func (a *FaceAnalyzer) Analyze(img image.Image, boxes []Box) ([]FaceInfo, error) {
	if len(boxes) == 0 {
		return nil, nil
	}

	faces, err := a.faces.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	assigned := assignFaces(boxes, faces)
	predicted := make(map[int]*GenderAge)

	infos := make([]FaceInfo, len(boxes))
	for i, fi := range assigned {
		if fi < 0 {
			continue
		}

		ga, ok := predicted[fi]
		if !ok {
			crop := cropRegion(img, faces[fi].Box, 0.1)
			if crop != nil {
				ga, err = a.attrs.Predict(crop)
				if err != nil {
					slog.Warn("attributes error", "error", err)
					ga = nil
				}
			}
			predicted[fi] = ga
		}

		infos[i] = faceInfo(faces[fi].Box, ga)
	}
	return infos, nil
}

func (a *FaceAnalyzer) Close() {
	if a.faces != nil {
		a.faces.Close()
	}
	if a.attrs != nil {
		a.attrs.Close()
	}
}

// assignFaces returns, for each person box, the index of the face with the
// highest IOU above faceAssignIoU, or -1.
func assignFaces(people []Box, faces []Detection) []int {
	out := make([]int, len(people))
	for i, pb := range people {
		best, bestIoU := -1, 0.0
		for fi, f := range faces {
			if v := IOU(pb, f.Box); v > bestIoU {
				best, bestIoU = fi, v
			}
		}
		if best >= 0 && bestIoU > faceAssignIoU {
			out[i] = best
		} else {
			out[i] = -1
		}
	}
	return out
}

func faceInfo(box Box, ga *GenderAge) FaceInfo {
	fb := box
	info := FaceInfo{
		HasFace:    true,
		Expression: neutralExpression,
		FaceBox:    &fb,
	}
	if ga != nil {
		age := ga.Age
		info.Age = &age
		info.Gender = ga.Gender
		info.IsChild = age < childAge
	}
	return info
}

// AlignFaceInfos pads or truncates infos so that it has exactly n entries.
// Missing entries are reported as "no face".
func AlignFaceInfos(infos []FaceInfo, n int) []FaceInfo {
	if len(infos) >= n {
		return infos[:n]
	}
	out := make([]FaceInfo, n)
	copy(out, infos)
	return out
}
