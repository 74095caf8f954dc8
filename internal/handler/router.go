package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-interview/backend/internal/auth"
	"github.com/zhouzirui/z-interview/backend/internal/handler/document"
	"github.com/zhouzirui/z-interview/backend/internal/handler/interview"
	documentModel "github.com/zhouzirui/z-interview/backend/internal/model/document"
	interviewService "github.com/zhouzirui/z-interview/backend/internal/service/interview"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// Deps 路由依赖
type Deps struct {
	Documents    documentModel.Store
	Interviews   *interviewService.Manager
	Auth         auth.Config
	AuthDisabled bool
	VoiceEnabled bool
	AIEnabled    bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"voice":  deps.VoiceEnabled,
			"ai":     deps.AIEnabled,
		})
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(auth.Middleware(deps.Auth, deps.AuthDisabled))

		document.New(deps.Documents).RegisterRoutes(api)
		interview.New(deps.Interviews).RegisterRoutes(api)
	})

	return r
}

// cors 允许浏览器前端跨域访问
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Authorization", "Content-Type", auth.DevOwnerHeader,
		}, ", "))
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
