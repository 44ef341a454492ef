// server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sammcj/deskchat/bridge"
	"github.com/sammcj/deskchat/config"
	"github.com/sammcj/deskchat/llm"
	"github.com/sammcj/deskchat/tools"
	"github.com/sammcj/deskchat/tools/leakdetector"
	"github.com/sammcj/deskchat/types"
)

// Options wires the server to the running application
type Options struct {
	Conversation *bridge.Conversation
	Tools        *tools.Registry
	Settings     *config.Manager
	Hub          *Hub
	Tracker      *leakdetector.Detector
	Logger       *log.Logger
}

// Server exposes the conversation over HTTP and the UI event channel over
// WebSocket.
type Server struct {
	conv     *bridge.Conversation
	tools    *tools.Registry
	settings *config.Manager
	hub      *Hub
	tracker  *leakdetector.Detector
	logger   *log.Logger
	router   chi.Router
	srv      *http.Server
}

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	Content []types.Content `json:"content"`
}

// SettingsView is the readable form of the settings; the API key is masked
type SettingsView struct {
	Model         string   `json:"model"`
	Endpoint      string   `json:"endpoint"`
	APIKey        string   `json:"api_key"`
	SystemPrompt  string   `json:"system_prompt"`
	ProviderOrder []string `json:"provider_order"`
	SearchModel   string   `json:"search_model"`
	MapModel      string   `json:"map_model"`
	MaxSteps      int      `json:"max_steps"`
	RootDir       string   `json:"root_dir"`
	SofficePath   string   `json:"soffice_path"`
}

// SettingsUpdate changes only the fields that are present
type SettingsUpdate struct {
	Model         *string   `json:"model"`
	Endpoint      *string   `json:"endpoint"`
	APIKey        *string   `json:"api_key"`
	SystemPrompt  *string   `json:"system_prompt"`
	ProviderOrder *[]string `json:"provider_order"`
	SearchModel   *string   `json:"search_model"`
	MapModel      *string   `json:"map_model"`
	MaxSteps      *int      `json:"max_steps"`
	RootDir       *string   `json:"root_dir"`
	SofficePath   *string   `json:"soffice_path"`
}

// ToolInfo describes one catalog entry
type ToolInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"input_schema"`
}

// New creates a server instance
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}
	s := &Server{
		conv:     opts.Conversation,
		tools:    opts.Tools,
		settings: opts.Settings,
		hub:      opts.Hub,
		tracker:  opts.Tracker,
		logger:   opts.Logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger, NoColor: true}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/cancel", s.handleCancel)
		r.Delete("/messages/{id}", s.handleDeleteMessage)
		r.Delete("/tool-calls/{toolCallID}", s.handleDeleteToolCall)
		r.Get("/history", s.handleHistory)
		r.Post("/history/clear", s.handleClearHistory)
		r.Post("/history/replay", s.handleReplayHistory)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Get("/tools", s.handleTools)
		r.Get("/ws", s.hub.ServeHTTP)
	})
	return r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen prepares the HTTP server for addr; the caller runs and stops it
func (s *Server) Listen(addr string) *http.Server {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.srv
}

// handleChat runs one turn. The turn outlives the request; it stops only
// through /api/cancel or a repair.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Content) == 0 {
		respondError(w, "content is required", http.StatusBadRequest)
		return
	}
	if err := types.ValidateContent(req.Content); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.conv.Chat(context.WithoutCancel(r.Context()), req.Content); err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	respondJSON(w, map[string]interface{}{"status": "ok", "history_length": s.conv.History().Len()}, http.StatusOK)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.conv.Cancel()
	respondJSON(w, map[string]bool{"cancelled": true}, http.StatusOK)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, "invalid message id", http.StatusBadRequest)
		return
	}
	found, err := s.conv.DeleteMessage(r.Context(), id)
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	if !found {
		respondError(w, "message not found", http.StatusNotFound)
		return
	}
	respondJSON(w, map[string]bool{"deleted": true}, http.StatusOK)
}

func (s *Server) handleDeleteToolCall(w http.ResponseWriter, r *http.Request) {
	found, err := s.conv.DeleteToolInteraction(r.Context(), chi.URLParam(r, "toolCallID"))
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	if !found {
		respondError(w, "tool call not found", http.StatusNotFound)
		return
	}
	respondJSON(w, map[string]bool{"deleted": true}, http.StatusOK)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, llm.RenderHistory(s.conv.History()), http.StatusOK)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.conv.ClearHistory(r.Context()); err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	respondJSON(w, map[string]bool{"cleared": true}, http.StatusOK)
}

func (s *Server) handleReplayHistory(w http.ResponseWriter, r *http.Request) {
	s.conv.ReplayHistory()
	respondJSON(w, map[string]int{"subscribers": s.hub.Count()}, http.StatusOK)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, viewSettings(s.settings.Settings()), http.StatusOK)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var upd SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	err := s.settings.Update(func(c *config.Config) {
		setIf(&c.LLM.Model, upd.Model)
		setIf(&c.LLM.Endpoint, upd.Endpoint)
		setIf(&c.LLM.APIKey, upd.APIKey)
		setIf(&c.LLM.SystemPrompt, upd.SystemPrompt)
		setIf(&c.LLM.ProviderOrder, upd.ProviderOrder)
		setIf(&c.LLM.SearchModel, upd.SearchModel)
		setIf(&c.LLM.MapModel, upd.MapModel)
		setIf(&c.LLM.MaxSteps, upd.MaxSteps)
		setIf(&c.Settings.RootDir, upd.RootDir)
		setIf(&c.Settings.SofficePath, upd.SofficePath)
	})
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	respondJSON(w, viewSettings(s.settings.Settings()), http.StatusOK)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	specs := s.tools.Specs()
	out := make([]ToolInfo, 0, len(specs))
	for _, spec := range specs {
		out = append(out, ToolInfo{Name: spec.Name, Description: spec.Description, InputSchema: spec.InputSchema})
	}
	respondJSON(w, out, http.StatusOK)
}

// handleHealth provides a health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pending := 0
	if s.tracker != nil {
		pending = s.tracker.Pending()
	}
	respondJSON(w, map[string]interface{}{
		"status":      "ok",
		"busy":        s.conv.Busy(),
		"tool_tasks":  pending,
		"subscribers": s.hub.Count(),
	}, http.StatusOK)
}

func viewSettings(st config.Settings) SettingsView {
	return SettingsView{
		Model:         st.Model,
		Endpoint:      st.Endpoint,
		APIKey:        maskKey(st.APIKey),
		SystemPrompt:  st.SystemPrompt,
		ProviderOrder: st.ProviderOrder,
		SearchModel:   st.SearchModel,
		MapModel:      st.MapModel,
		MaxSteps:      st.MaxSteps,
		RootDir:       st.RootDir,
		SofficePath:   st.SofficePath,
	}
}

func maskKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "********"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrLLMResponse):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrInvalidConfig), errors.Is(err, types.ErrInvalidContent):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
