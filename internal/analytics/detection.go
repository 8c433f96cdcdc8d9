package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os/exec"
	"strconv"

	"github.com/google/uuid"
)

const (
	detectionWidth  = 640
	detectionHeight = 480
)

// Detection is a classified object surviving the confidence/class filter,
// tied to the sample PTS it was found at.
type Detection struct {
	ID         uuid.UUID
	PTS        int64
	ClassName  string
	Confidence float64
	FrameJPEG  []byte
}

// RawDetection is what an ObjectDetector returns before confidence/class
// filtering is applied.
type RawDetection struct {
	ClassName  string
	Confidence float64
}

// ObjectDetector classifies objects in a decoded RGB crop. The ONNX
// runtime binding the original detector uses has no equivalent here, so
// ProcessObjectDetector below treats the model as an external process
// instead of an in-process library binding.
type ObjectDetector interface {
	Detect(ctx context.Context, rgb []byte, width, height int) ([]RawDetection, error)
}

// ProcessObjectDetector invokes an external model-serving executable per
// crop, writing raw RGB bytes to its stdin and decoding a JSON detection
// array from its stdout.
type ProcessObjectDetector struct {
	modelPath           string
	confidenceThreshold float64
	classes             map[string]bool
}

// NewProcessObjectDetector builds a detector that filters results below
// confidenceThreshold or outside classes (empty classes means unfiltered).
func NewProcessObjectDetector(modelPath string, confidenceThreshold float64, classes []string) *ProcessObjectDetector {
	allowed := make(map[string]bool, len(classes))
	for _, c := range classes {
		allowed[c] = true
	}
	return &ProcessObjectDetector{
		modelPath:           modelPath,
		confidenceThreshold: confidenceThreshold,
		classes:             allowed,
	}
}

func (d *ProcessObjectDetector) Detect(ctx context.Context, rgb []byte, width, height int) ([]RawDetection, error) {
	cmd := exec.CommandContext(ctx, d.modelPath, strconv.Itoa(width), strconv.Itoa(height))
	cmd.Stdin = bytes.NewReader(rgb)

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("analytics: object detector process: %w", err)
	}

	var raw []RawDetection
	if err := json.Unmarshal(out.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("analytics: object detector output: %w", err)
	}

	filtered := raw[:0]
	for _, det := range raw {
		if det.Confidence < d.confidenceThreshold {
			continue
		}
		if len(d.classes) > 0 && !d.classes[det.ClassName] {
			continue
		}
		filtered = append(filtered, det)
	}
	return filtered, nil
}

// cropRegion maps a motion bounding box from analysis-frame coordinates up
// to the full-resolution crop-decode frame, padded to a fixed detection
// window and clamped inside frame bounds. Returns ok=false if the scaled
// box can't fit the detection window (object too large to crop). Grounded
// on `original_source/src/analytics/pipeline.rs::crop_region`.
func cropRegion(bbox image.Rectangle) (image.Rectangle, bool) {
	if bbox.Empty() {
		return image.Rectangle{}, false
	}

	scaleX := float64(cropWidth) / float64(analysisWidth)
	scaleY := float64(cropHeight) / float64(analysisHeight)

	centerX := (float64(bbox.Min.X+bbox.Max.X) / 2) * scaleX
	centerY := (float64(bbox.Min.Y+bbox.Max.Y) / 2) * scaleY
	scaledW := float64(bbox.Dx()) * scaleX
	scaledH := float64(bbox.Dy()) * scaleY

	if scaledW > detectionWidth || scaledH > detectionHeight {
		return image.Rectangle{}, false
	}

	x := clampInt(int(centerX)-detectionWidth/2, 0, cropWidth-detectionWidth)
	y := clampInt(int(centerY)-detectionHeight/2, 0, cropHeight-detectionHeight)

	return image.Rect(x, y, x+detectionWidth, y+detectionHeight), true
}

// centeredDetectionRect returns the detection window centered in the full
// crop frame, used when a motion box doesn't fit cropRegion's constraints.
func centeredDetectionRect() image.Rectangle {
	x := (cropWidth - detectionWidth) / 2
	y := (cropHeight - detectionHeight) / 2
	return image.Rect(x, y, x+detectionWidth, y+detectionHeight)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// cropRGB extracts rect from a full cropWidth x cropHeight RGB24 frame.
func cropRGB(frame []byte, rect image.Rectangle) []byte {
	out := make([]byte, rect.Dx()*rect.Dy()*cropChannels)
	stride := cropWidth * cropChannels
	rowBytes := rect.Dx() * cropChannels
	for y := 0; y < rect.Dy(); y++ {
		srcOff := (rect.Min.Y+y)*stride + rect.Min.X*cropChannels
		dstOff := y * rowBytes
		copy(out[dstOff:dstOff+rowBytes], frame[srcOff:srcOff+rowBytes])
	}
	return out
}
