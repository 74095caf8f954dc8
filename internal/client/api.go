package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zhouzirui/z-interview/backend/internal/auth"
	"github.com/zhouzirui/z-interview/backend/internal/model/document"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// DefaultTimeout bounds one API call; voice uploads include transcription time.
const DefaultTimeout = 90 * time.Second

// APIConfig configures the API client.
type APIConfig struct {
	BaseURL string
	// Token is a bearer token; when empty OwnerID is sent as the dev header.
	Token   string
	OwnerID string
	Client  *http.Client
}

// API is a thin client for the interview HTTP API.
type API struct {
	client  *http.Client
	baseURL string
	token   string
	ownerID string
}

// NewAPI creates an API client.
func NewAPI(cfg APIConfig) *API {
	c := cfg.Client
	if c == nil {
		c = &http.Client{Timeout: DefaultTimeout}
	}
	return &API{
		client:  c,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		ownerID: cfg.OwnerID,
	}
}

// APIError is a non-2xx response. It unwraps to the matching domain sentinel
// so callers can use errors.Is with the model errors.
type APIError struct {
	Status int
	Body   utils.ErrorBody
}

func (e *APIError) Error() string {
	if e.Body.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Body.Code, e.Body.Error)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Body.Error)
}

func (e *APIError) Unwrap() error {
	return sentinelFor(e.Body.Code)
}

func sentinelFor(code string) error {
	for _, err := range []error{
		model.ErrNoActiveQuestion,
		model.ErrSessionClosed,
		model.ErrEmptyAnswer,
		model.ErrQuestionGenerationTimeout,
		model.ErrQuestionSourceFailed,
		model.ErrTranscriptionUnavailable,
		model.ErrStorageWriteFailed,
		model.ErrFeedbackUnavailable,
		model.ErrInvalidDocumentSet,
		model.ErrSessionNotFound,
		model.ErrSessionNotCompleted,
	} {
		if model.Code(err) == code {
			return err
		}
	}
	return nil
}

// CreateResult is the create response.
type CreateResult struct {
	InterviewID string      `json:"interviewId"`
	State       model.State `json:"state"`
	DocumentIDs []string    `json:"documentIds"`
}

// SubmitResult is the answer response for both modalities.
type SubmitResult struct {
	TurnIndex  int         `json:"turnIndex"`
	IsLast     bool        `json:"isLast"`
	State      model.State `json:"state"`
	Transcript string      `json:"transcript,omitempty"`
}

// StopResult is the stop response.
type StopResult struct {
	Status     string           `json:"status"`
	State      model.State      `json:"state"`
	StopReason model.StopReason `json:"stopReason"`
}

// VoiceUpload is a recording to submit as an answer.
type VoiceUpload struct {
	QuestionID string
	Data       []byte
	Filename   string
	Format     string
	Language   string
}

// Documents lists the caller's documents.
func (a *API) Documents(ctx context.Context) ([]document.Document, error) {
	var out []document.Document
	err := a.doJSON(ctx, http.MethodGet, "/api/documents", nil, &out)
	return out, err
}

// AddDocument registers a resume or portfolio for the caller.
func (a *API) AddDocument(ctx context.Context, kind document.Kind, title, content string) (document.Document, error) {
	var out document.Document
	body := map[string]any{"kind": kind, "title": title, "content": content}
	err := a.doJSON(ctx, http.MethodPost, "/api/documents", body, &out)
	return out, err
}

func (a *API) Create(ctx context.Context, documentIDs []string) (CreateResult, error) {
	var out CreateResult
	err := a.doJSON(ctx, http.MethodPost, "/api/interviews", map[string]any{"documentIds": documentIDs}, &out)
	return out, err
}

func (a *API) Session(ctx context.Context, interviewID string) (model.Session, error) {
	var out model.Session
	err := a.doJSON(ctx, http.MethodGet, a.path(interviewID, ""), nil, &out)
	return out, err
}

func (a *API) NextQuestion(ctx context.Context, interviewID string) (model.Question, error) {
	var out model.Question
	err := a.doJSON(ctx, http.MethodPost, a.path(interviewID, "/questions/next"), nil, &out)
	return out, err
}

func (a *API) AnswerChat(ctx context.Context, interviewID, questionID, text string) (SubmitResult, error) {
	var out SubmitResult
	body := map[string]string{"answer": text, "questionId": questionID}
	err := a.doJSON(ctx, http.MethodPost, a.path(interviewID, "/answers/chat"), body, &out)
	return out, err
}

// AnswerVoice uploads a recording as multipart form data.
func (a *API) AnswerVoice(ctx context.Context, interviewID string, up VoiceUpload) (SubmitResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	filename := up.Filename
	if filename == "" {
		filename = "answer.webm"
	}
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return SubmitResult{}, err
	}
	if _, err := part.Write(up.Data); err != nil {
		return SubmitResult{}, err
	}
	for k, v := range map[string]string{"questionId": up.QuestionID, "format": up.Format, "language": up.Language} {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return SubmitResult{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return SubmitResult{}, err
	}

	req, err := a.newRequest(ctx, http.MethodPost, a.path(interviewID, "/answers/voice"), &buf)
	if err != nil {
		return SubmitResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out SubmitResult
	err = a.do(req, &out)
	return out, err
}

func (a *API) Stop(ctx context.Context, interviewID string) (StopResult, error) {
	var out StopResult
	err := a.doJSON(ctx, http.MethodPost, a.path(interviewID, "/stop"), nil, &out)
	return out, err
}

func (a *API) Feedback(ctx context.Context, interviewID string) (model.Feedback, error) {
	var out model.Feedback
	err := a.doJSON(ctx, http.MethodGet, a.path(interviewID, "/feedback"), nil, &out)
	return out, err
}

func (a *API) History(ctx context.Context, interviewID string) ([]model.Message, error) {
	var out []model.Message
	err := a.doJSON(ctx, http.MethodGet, a.path(interviewID, "/history"), nil, &out)
	return out, err
}

func (a *API) path(interviewID, suffix string) string {
	return "/api/interviews/" + url.PathEscape(interviewID) + suffix
}

func (a *API) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	} else if a.ownerID != "" {
		req.Header.Set(auth.DevOwnerHeader, a.ownerID)
	}
	return req, nil
}

func (a *API) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := a.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.do(req, out)
}

func (a *API) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, &apiErr.Body); jsonErr != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
