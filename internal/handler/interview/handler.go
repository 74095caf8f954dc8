package interview

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-interview/backend/internal/auth"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/internal/service/answer"
	interviewService "github.com/zhouzirui/z-interview/backend/internal/service/interview"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// maxAudioUpload bounds a single voice answer upload.
const maxAudioUpload = 32 << 20

// DefaultStreamInterval is how often the feedback stream re-checks readiness.
const DefaultStreamInterval = 2 * time.Second

// Handler 面试流程的HTTP处理器
type Handler struct {
	manager        *interviewService.Manager
	streamInterval time.Duration
}

// New 创建面试处理器
func New(manager *interviewService.Manager) *Handler {
	return &Handler{manager: manager, streamInterval: DefaultStreamInterval}
}

// WithStreamInterval overrides the feedback stream polling interval.
func (h *Handler) WithStreamInterval(d time.Duration) *Handler {
	if d > 0 {
		h.streamInterval = d
	}
	return h
}

// RegisterRoutes 注册面试相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/interviews", h.handleCreate)
	r.Route("/interviews/{interviewID}", func(r chi.Router) {
		r.Get("/", h.handleSnapshot)
		r.Post("/questions/next", h.handleNextQuestion)
		r.Post("/answers/chat", h.handleChatAnswer)
		r.Post("/answers/voice", h.handleVoiceAnswer)
		r.Post("/stop", h.handleStop)
		r.Get("/feedback", h.handleFeedback)
		r.Get("/feedback/stream", h.handleFeedbackStream)
		r.Get("/history", h.handleHistory)
	})
}

func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		utils.RespondErrorBody(w, http.StatusUnauthorized, utils.ErrorBody{Error: "caller identity missing", Code: "Unauthorized"})
		return "", false
	}
	return id, true
}

// handleCreate 创建面试
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}

	var payload createRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	session, err := h.manager.Create(r.Context(), ownerID, payload.DocumentIDs)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, createResponse{
		InterviewID: session.ID,
		State:       session.State,
		DocumentIDs: session.DocumentIDs,
		CreatedAt:   session.CreatedAt,
	})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	session, err := h.manager.Session(r.Context(), ownerID, chi.URLParam(r, "interviewID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleNextQuestion 获取当前问题或生成下一题
func (h *Handler) handleNextQuestion(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	q, err := h.manager.NextQuestion(r.Context(), ownerID, chi.URLParam(r, "interviewID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, q)
}

// handleChatAnswer 提交文字回答
func (h *Handler) handleChatAnswer(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}

	var payload chatAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	res, err := h.manager.SubmitChat(r.Context(), ownerID, chi.URLParam(r, "interviewID"), payload.QuestionID, payload.Answer)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, res)
}

// handleVoiceAnswer 上传录音并作为回答提交
func (h *Handler) handleVoiceAnswer(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload+1<<20)
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		respondBadRequest(w, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondBadRequest(w, "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondBadRequest(w, "failed to read audio file")
		return
	}

	format := strings.TrimSpace(r.FormValue("format"))
	if format == "" {
		format = answer.InferAudioFormat(header.Filename, header.Header.Get("Content-Type"))
	}

	res, err := h.manager.SubmitVoice(r.Context(), ownerID, chi.URLParam(r, "interviewID"), r.FormValue("questionId"), answer.Audio{
		Data:     data,
		Format:   format,
		Language: strings.TrimSpace(r.FormValue("language")),
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, res)
}

// handleStop 提前结束面试，可重复调用
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	session, err := h.manager.Stop(r.Context(), ownerID, chi.URLParam(r, "interviewID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, stopResponse{
		Status:      "stopped",
		State:       session.State,
		StopReason:  session.StopReason,
		CompletedAt: session.CompletedAt,
	})
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	fb, err := h.manager.Feedback(r.Context(), ownerID, chi.URLParam(r, "interviewID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, fb)
}

// handleFeedbackStream 通过SSE推送反馈：未完成时发送status心跳，完成后发送feedback事件。
func (h *Handler) handleFeedbackStream(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	interviewID := chi.URLParam(r, "interviewID")

	// Reject unknown sessions before switching to the event stream.
	if _, err := h.manager.Session(r.Context(), ownerID, interviewID); err != nil {
		respondDomainError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	for {
		fb, err := h.manager.Feedback(ctx, ownerID, interviewID)
		switch {
		case err == nil:
			_ = utils.SendSSEEvent(w, flusher, "feedback", fb)
			return
		case errors.Is(err, model.ErrSessionNotCompleted):
			state, _ := model.StateOf(err)
			if sendErr := utils.SendSSEEvent(w, flusher, "status", map[string]any{
				"state": state,
				"time":  time.Now().UTC().Format(time.RFC3339),
			}); sendErr != nil {
				return
			}
		default:
			log.Warn().Err(err).Str("interview_id", interviewID).Msg("feedback stream failed")
			_ = utils.SendSSEEvent(w, flusher, "error", utils.ErrorBody{
				Error:     err.Error(),
				Code:      model.Code(err),
				Retryable: model.Retryable(err),
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	messages, err := h.manager.History(r.Context(), ownerID, chi.URLParam(r, "interviewID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}
