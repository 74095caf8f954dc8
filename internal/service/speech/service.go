package speech

import (
	"context"
	"time"

	"github.com/zhouzirui/z-interview/backend/internal/model/speech"
)

// Service 语音识别服务
type Service struct {
	config *speech.SpeechConfig
	asr    *ASRClient
}

// NewService 创建语音服务实例
func NewService(config *speech.SpeechConfig) *Service {
	return &Service{
		config: config,
		asr:    NewASRClient(config),
	}
}

// TranscribeAudio 语音转文字
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	started := time.Now()
	resp, err := s.asr.Transcribe(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Duration == 0 {
		resp.Duration = time.Since(started).Milliseconds()
	}
	return resp, nil
}

// TranscribeBuffer 语音转文字（使用字节数组）
func (s *Service) TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, format, language string) (*speech.ASRResponse, error) {
	return s.TranscribeAudio(ctx, &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: audioData,
		Format:    format,
		Language:  language,
	})
}
