package speech

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID string `json:"sessionId"`
	AudioData []byte `json:"-"`
	Format    string `json:"format"`   // wav, mp3, ogg, pcm
	Language  string `json:"language"` // zh-CN, en-US, etc.
}
