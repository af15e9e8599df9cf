package core

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ErrInvalidImage is returned when the uploaded payload is not a decodable image.
var ErrInvalidImage = errors.New("invalid image data")

// ExtractResult is a set of prompts that help the user describe an uploaded photo.
type ExtractResult struct {
	EventTitle   string   `json:"event_title"`
	ContextWho   string   `json:"context_who"`
	ContextWhere string   `json:"context_where"`
	ContextWhen  string   `json:"context_when"`
	Description  string   `json:"description"`
	Objects      []string `json:"objects"`
}

type ExtractService struct {
	detector Detector
}

func NewExtractService(detector Detector) *ExtractService {
	return &ExtractService{detector: detector}
}

// Extract runs object detection on a base64 image and turns the objects into
// context prompts. A data URL prefix is accepted.
func (s *ExtractService) Extract(ctx context.Context, imageBase64 string) (*ExtractResult, error) {
	data, err := decodeImage(imageBase64)
	if err != nil {
		return nil, err
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: unsupported content type %s", ErrInvalidImage, mimeType)
	}

	objects, err := s.detector.DetectObjects(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to detect objects: %w", err)
	}
	slices.Sort(objects)
	objects = slices.Compact(objects)
	log.Debugf("Detected %d objects in %s upload", len(objects), mimeType)

	who := "people or objects"
	if len(objects) > 0 {
		who = strings.Join(objects, ", ")
	} else {
		objects = []string{}
	}
	return &ExtractResult{
		EventTitle:   "What event is this image related to?",
		ContextWho:   fmt.Sprintf("Who are the individuals or objects present in the image, such as %s?", who),
		ContextWhere: "Where was this image taken?",
		ContextWhen:  "When was this image taken?",
		Description:  "Describe what is happening in the image?",
		Objects:      objects,
	}, nil
}

func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return data, nil
}
