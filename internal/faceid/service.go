package faceid

import (
	"context"
	"errors"

	"github.com/andresmejia3/checkmates/internal/types"
	"go.uber.org/zap"
)

// Service composes the enrollment and verification flows.
type Service struct {
	gallery  *Gallery
	embedder *Embedder
	matcher  *Matcher
	recorder *Recorder
	log      *zap.Logger
}

// NewService wires the flows together.
func NewService(gallery *Gallery, embedder *Embedder, matcher *Matcher, recorder *Recorder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		gallery:  gallery,
		embedder: embedder,
		matcher:  matcher,
		recorder: recorder,
		log:      log,
	}
}

// Register enrolls image under key and returns the stored object reference.
func (s *Service) Register(ctx context.Context, key string, image []byte) (string, error) {
	if key == "" {
		return "", NewValidationError("email", "email is required")
	}
	if len(image) == 0 {
		return "", NewValidationError("image", "image is required")
	}
	if _, err := DecodeImage(image); err != nil {
		return "", err
	}
	return s.gallery.Enroll(ctx, key, image)
}

// Check identifies the person in image against the whole gallery and records
// attendance for an accepted match. ErrNoMatch leaves the ledger untouched.
func (s *Service) Check(ctx context.Context, image []byte) (types.Match, error) {
	if len(image) == 0 {
		return types.Match{}, NewValidationError("image", "image is required")
	}
	if _, err := DecodeImage(image); err != nil {
		return types.Match{}, err
	}

	probe, err := s.embedder.Embed(ctx, image)
	if err != nil {
		return types.Match{}, err
	}

	match, err := s.matcher.Match(ctx, probe, s.gallery.Entries(ctx))
	if err != nil {
		if errors.Is(err, ErrNoMatch) {
			s.log.Info("no gallery entry cleared threshold", zap.Float64("threshold", s.matcher.Threshold()))
		}
		return types.Match{}, err
	}

	if _, err := s.recorder.Record(ctx, match.Key, types.StatusPresent); err != nil {
		return types.Match{}, err
	}
	s.log.Info("attendance recorded", zap.String("key", match.Key), zap.Float64("similarity", match.Score))
	return match, nil
}
