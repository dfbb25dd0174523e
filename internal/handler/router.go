package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chathandler "github.com/zhouzirui/duet/backend/internal/handler/chat"
	"github.com/zhouzirui/duet/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/duet/backend/internal/middleware"
	chatservice "github.com/zhouzirui/duet/backend/internal/service/chat"
	"github.com/zhouzirui/duet/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. The reflector may be nil
// when no model is configured; sessions then wait in ai_reflect until an
// operator wires one.
func NewRouter(chatSvc *chatservice.Service, reflector chathandler.Reflector) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chathandler.New(chatSvc, reflector)
	streamHandler := stream.New(chatSvc)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
