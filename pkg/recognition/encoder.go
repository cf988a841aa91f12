// Package recognition provides face detection, embedding and matching.
// It uses dlib via go-face for detection and 128-d descriptor extraction.
package recognition

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/normalizer"
)

// Dimension is the length of every embedding produced by the pipeline.
const Dimension = 128

// Detector selects the dlib face detector.
type Detector string

const (
	// DetectorHOG is the fast HOG detector.
	DetectorHOG Detector = "hog"
	// DetectorCNN is the slower, more accurate MMOD CNN detector.
	DetectorCNN Detector = "cnn"
)

// Face represents a detected face in an image.
type Face struct {
	BoundingBox Rectangle
	Descriptor  face.Descriptor
}

// Rectangle represents a bounding box.
type Rectangle struct {
	X, Y          int
	Width, Height int
}

// Area returns the box area in pixels.
func (r Rectangle) Area() int {
	return r.Width * r.Height
}

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrEncoding is returned when the detector fails internally.
var ErrEncoding = errors.New("face encoding failed")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// FaceEngine is the subset of *face.Recognizer used by the encoder.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	RecognizeCNN(imgData []byte) ([]face.Face, error)
	Close()
}

// EngineFactory builds a FaceEngine from a model directory.
type EngineFactory func(modelPath string, jitters int) (FaceEngine, error)

// dlib defaults for the face chip extracted before the ResNet pass.
const (
	chipSize    = 150
	chipPadding = 0.25
)

func defaultFactory(modelPath string, jitters int) (FaceEngine, error) {
	rec, err := face.NewRecognizerWithConfig(modelPath, chipSize, chipPadding, jitters)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// EncoderConfig pins the detection model and sampling parameters.
// One config is used for both registration and login.
type EncoderConfig struct {
	ModelPath string
	Detector  Detector
	Jitters   int
}

// Encoder turns normalized images into embeddings.
type Encoder struct {
	cfg     EncoderConfig
	factory EngineFactory

	mu     sync.Mutex
	engine FaceEngine
	loaded bool
}

// NewEncoder creates an Encoder. Models are loaded by LoadModels.
func NewEncoder(cfg EncoderConfig) *Encoder {
	if cfg.Detector == "" {
		cfg.Detector = DetectorHOG
	}
	return &Encoder{
		cfg:     cfg,
		factory: defaultFactory,
	}
}

// NewEncoderWithEngine creates an Encoder around an already loaded engine.
func NewEncoderWithEngine(cfg EncoderConfig, engine FaceEngine) *Encoder {
	e := NewEncoder(cfg)
	e.engine = engine
	e.loaded = true
	return e
}

// LoadModels loads the dlib models from the configured path.
// The path should contain:
// - shape_predictor_5_face_landmarks.dat
// - dlib_face_recognition_resnet_model_v1.dat
// - mmod_human_face_detector.dat (for the cnn detector)
func (e *Encoder) LoadModels() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", e.cfg.ModelPath)

	engine, err := e.factory(e.cfg.ModelPath, e.cfg.Jitters)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	e.engine = engine
	e.loaded = true

	logging.Infof("Face recognition models loaded (%s)", e.Version())
	return nil
}

// IsLoaded returns true if models are loaded.
func (e *Encoder) IsLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Close releases the detector resources.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.engine != nil {
		e.engine.Close()
		e.engine = nil
	}
	e.loaded = false
	return nil
}

// Version identifies the model and parameters behind produced embeddings.
// Embeddings are only comparable when their versions are equal.
func (e *Encoder) Version() string {
	return fmt.Sprintf("dlib-resnet-v1/%s/jitter=%d", e.cfg.Detector, e.cfg.Jitters)
}

// DetectFaces runs the detector on JPEG bytes. Calls are serialized since
// the dlib recognizer is not safe for concurrent use.
func (e *Encoder) DetectFaces(data []byte) (faces []Face, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil, ErrModelNotLoaded
	}

	defer func() {
		if r := recover(); r != nil {
			faces = nil
			err = fmt.Errorf("%w: detector panic: %v", ErrEncoding, r)
		}
	}()

	var raw []face.Face
	if e.cfg.Detector == DetectorCNN {
		raw, err = e.engine.RecognizeCNN(data)
	} else {
		raw, err = e.engine.Recognize(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	if len(raw) == 0 {
		return nil, ErrNoFaceDetected
	}

	faces = make([]Face, len(raw))
	for i, f := range raw {
		rect := f.Rectangle
		faces[i] = Face{
			BoundingBox: Rectangle{
				X:      rect.Min.X,
				Y:      rect.Min.Y,
				Width:  rect.Dx(),
				Height: rect.Dy(),
			},
			Descriptor: f.Descriptor,
		}
	}

	logging.Debugf("Detected %d face(s) in image", len(faces))
	return faces, nil
}

// SelectPrimary picks the face with the largest bounding box.
// Ties go to the top-most, then left-most box, so the choice never
// depends on detector output order.
func SelectPrimary(faces []Face) *Face {
	if len(faces) == 0 {
		return nil
	}

	sorted := make([]Face, len(faces))
	copy(sorted, faces)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].BoundingBox, sorted[j].BoundingBox
		if a.Area() != b.Area() {
			return a.Area() > b.Area()
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return &sorted[0]
}

// Encode detects the primary face in a normalized image and returns its embedding.
func (e *Encoder) Encode(img *normalizer.Image) (Embedding, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image buffer", ErrEncoding)
	}

	faces, err := e.DetectFaces(img.Data)
	if err != nil {
		return nil, err
	}

	primary := SelectPrimary(faces)
	if len(faces) > 1 {
		logging.Debugf("Selected largest of %d faces (%dx%d at %d,%d)", len(faces),
			primary.BoundingBox.Width, primary.BoundingBox.Height, primary.BoundingBox.X, primary.BoundingBox.Y)
	}

	return FromDescriptor(primary.Descriptor), nil
}
