package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/topik-vn/mock-exam-service/internal/cache"
	"github.com/topik-vn/mock-exam-service/internal/remote"
	"github.com/topik-vn/mock-exam-service/internal/validator"
)

const (
	defaultVoice      = "ko-KR"
	defaultAudioType  = "audio/mpeg"
	speechCacheTTL    = 7 * 24 * time.Hour
	speechCachePrefix = "tts:"
)

type speechSynthesisRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

type cachedSpeech struct {
	ContentType string `json:"content_type"`
	Audio       []byte `json:"audio"`
}

type speechService struct {
	invoker   FunctionInvoker
	cache     cache.CacheService
	logger    *slog.Logger
	validator *validator.Validator
}

func NewSpeechService(invoker FunctionInvoker, cacheService cache.CacheService, logger *slog.Logger, validator *validator.Validator) SpeechService {
	return &speechService{
		invoker:   invoker,
		cache:     cacheService,
		logger:    logger,
		validator: validator,
	}
}

// Synthesize proxies text-to-speech for listening prompts. Audio is cached by
// text, voice and speed.
func (s *speechService) Synthesize(ctx context.Context, req *SpeechRequest) (*SpeechResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	body := speechSynthesisRequest{Text: req.Text, Voice: req.Voice, Speed: 1}
	if body.Voice == "" {
		body.Voice = defaultVoice
	}
	if req.Speed != nil {
		body.Speed = *req.Speed
	}
	key := speechCacheKey(body)

	if s.cache != nil {
		var hit cachedSpeech
		err := s.cache.Get(ctx, key, &hit)
		if err == nil && len(hit.Audio) > 0 {
			return &SpeechResponse{Audio: hit.Audio, ContentType: hit.ContentType, Cached: true}, nil
		}
		if err != nil && !cache.IsCacheMiss(err) {
			s.logger.Warn("Speech cache read failed", "key", key, "error", err)
		}
	}

	audio, contentType, err := s.invoker.InvokeBinary(ctx, remote.FunctionTextToSpeech, body)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	if contentType == "" {
		contentType = defaultAudioType
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedSpeech{ContentType: contentType, Audio: audio}, speechCacheTTL); err != nil {
			s.logger.Warn("Speech cache write failed", "key", key, "error", err)
		}
	}

	s.logger.Debug("Speech synthesized", "voice", body.Voice, "bytes", len(audio))
	return &SpeechResponse{Audio: audio, ContentType: contentType}, nil
}

func speechCacheKey(req speechSynthesisRequest) string {
	sum := sha256.Sum256([]byte(req.Voice + "|" + strconv.FormatFloat(req.Speed, 'f', 2, 64) + "|" + req.Text))
	return speechCachePrefix + hex.EncodeToString(sum[:])
}
