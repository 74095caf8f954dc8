package speech

import "time"

// SpeechConfig 语音识别服务配置
type SpeechConfig struct {
	AppID          string `json:"appId"`          // 火山引擎 APP ID
	AccessToken    string `json:"accessToken"`    // 火山引擎 Access Token
	Endpoint       string `json:"endpoint"`       // ASR WebSocket 地址
	ConcurrentMode bool   `json:"concurrentMode"` // ASR并发模式（false为小时版）

	Language string `json:"language"`

	// ChunkInterval paces audio frames; zero sends them back to back.
	ChunkInterval time.Duration `json:"chunkInterval"`
	Timeout       time.Duration `json:"timeout"`
}
