package job

import "fmt"

// ModelType is the kind of inference requested for a job.
type ModelType string

const (
	// ModelObjectDetection locates drawing elements and returns labelled
	// bounding boxes.
	ModelObjectDetection ModelType = "object_detection"
	// ModelTextExtraction runs OCR over the target resource.
	ModelTextExtraction ModelType = "text_extraction"
	// ModelClassification assigns document-level labels.
	ModelClassification ModelType = "classification"
)

// Valid reports whether the model type is one of the known kinds.
func (m ModelType) Valid() bool {
	switch m {
	case ModelObjectDetection, ModelTextExtraction, ModelClassification:
		return true
	}
	return false
}

// Box is an axis-aligned bounding box in resource coordinates.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// DetectedObject is one element found by an object-detection run.
type DetectedObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Bounds     Box     `json:"bounds"`
}

// DetectionResults is the payload for ModelObjectDetection.
type DetectionResults struct {
	Objects []DetectedObject `json:"objects"`
}

// TextBlock is one region of extracted text.
type TextBlock struct {
	Text       string  `json:"text"`
	Page       int     `json:"page"`
	Confidence float64 `json:"confidence"`
}

// ExtractionResults is the payload for ModelTextExtraction.
type ExtractionResults struct {
	Blocks []TextBlock `json:"blocks"`
}

// ClassLabel is one label assigned by a classification run.
type ClassLabel struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ClassificationResults is the payload for ModelClassification.
type ClassificationResults struct {
	Labels []ClassLabel `json:"labels"`
}

// Results is the closed set of result payloads, tagged by Kind. Exactly
// one payload field — the one matching Kind — must be set, which lets
// callers switch exhaustively over model types instead of poking at an
// open map.
type Results struct {
	Kind           ModelType              `json:"kind"`
	Detection      *DetectionResults      `json:"detection,omitempty"`
	Extraction     *ExtractionResults     `json:"extraction,omitempty"`
	Classification *ClassificationResults `json:"classification,omitempty"`
}

// Validate checks that exactly one payload is present and matches Kind.
func (r *Results) Validate() error {
	var want, got int
	set := func(ok bool, matches bool) {
		if ok {
			got++
			if matches {
				want++
			}
		}
	}
	set(r.Detection != nil, r.Kind == ModelObjectDetection)
	set(r.Extraction != nil, r.Kind == ModelTextExtraction)
	set(r.Classification != nil, r.Kind == ModelClassification)

	if got != 1 || want != 1 {
		return fmt.Errorf("job: results payload does not match kind %q", r.Kind)
	}
	return nil
}

// Count returns the number of recognized items, whatever the kind.
func (r *Results) Count() int {
	switch r.Kind {
	case ModelObjectDetection:
		if r.Detection != nil {
			return len(r.Detection.Objects)
		}
	case ModelTextExtraction:
		if r.Extraction != nil {
			return len(r.Extraction.Blocks)
		}
	case ModelClassification:
		if r.Classification != nil {
			return len(r.Classification.Labels)
		}
	}
	return 0
}
