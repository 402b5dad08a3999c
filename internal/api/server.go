// Package api serves sessions and the action planner over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/minijarvis/internal/action"
	"github.com/samcharles93/minijarvis/internal/bridge"
	"github.com/samcharles93/minijarvis/internal/inference"
	"github.com/samcharles93/minijarvis/internal/logger"
	"github.com/samcharles93/minijarvis/internal/session"
)

type Server struct {
	bridge   *bridge.Bridge
	store    *GenerationStore
	resolver ModelResolver
	log      logger.Logger
	clock    func() time.Time
}

func NewServer(b *bridge.Bridge, store *GenerationStore, resolver ModelResolver, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		bridge:   b,
		store:    store,
		resolver: resolver,
		log:      log,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/models", s.handleListModels)
	e.GET("/v1/sessions", s.handleListSessions)
	e.POST("/v1/sessions", s.handleCreateSession)
	e.POST("/v1/sessions/:handle/generate", s.handleGenerate)
	e.POST("/v1/sessions/:handle/reset", s.handleReset)
	e.DELETE("/v1/sessions/:handle", s.handleDeleteSession)
	e.GET("/v1/generations/:id", s.handleGetGeneration)
	e.POST("/v1/actions", s.handleAction)
}

func (s *Server) handleListModels(c *echo.Context) error {
	models, err := s.resolver.List()
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
	if models == nil {
		models = []Model{}
	}
	return writeJSON(c, http.StatusOK, ModelList{Object: "list", Data: models})
}

func (s *Server) handleListSessions(c *echo.Context) error {
	infos := s.bridge.Sessions()
	if infos == nil {
		infos = []bridge.SessionInfo{}
	}
	return writeJSON(c, http.StatusOK, SessionList{Object: "list", Data: infos})
}

func (s *Server) handleCreateSession(c *echo.Context) error {
	req, err := decodeJSON[CreateSessionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	path, err := s.resolver.Resolve(req.Model)
	if err != nil {
		return writeRequestError(c, err)
	}

	cfg := s.bridge.Defaults
	if req.ContextSize != nil {
		cfg.ContextSize = *req.ContextSize
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		cfg.MaxTokens = *req.MaxTokens
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}

	h, err := s.bridge.Open(c.Request().Context(), path, cfg)
	if err != nil {
		st := bridge.StatusOf(err)
		s.log.Error("init failed", "op", "init", "path", path, "kind", st.String(), "err", err)
		status := http.StatusBadRequest
		if st == bridge.StatusOutOfMemory || st == bridge.StatusInternal {
			status, _ = httpStatus(st)
		}
		return writeError(c, status, "invalid_request_error", err.Error(), st.String())
	}
	s.log.Info("session opened", "op", "init", "path", path, "handle", h)
	return writeJSON(c, http.StatusOK, CreateSessionResponse{Object: "session", Handle: h, Model: path})
}

func (s *Server) handleGenerate(c *echo.Context) error {
	h, err := handleParam(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx := logger.WithContext(c.Request().Context(), s.log.With("handle", h))
	var (
		text  string
		stats inference.Stats
	)
	err = s.bridge.Do(h, func(sess *session.Session) error {
		var gerr error
		text, gerr = sess.GenerateText(ctx, req.Prompt)
		stats = sess.Stats()
		return gerr
	})
	if err != nil {
		s.log.Error("generate failed", "op", "generate", "handle", h, "kind", bridge.StatusOf(err).String(), "err", err)
		return writeStatus(c, err)
	}

	gen := s.store.Create(Generation{
		Handle: h,
		Prompt: req.Prompt,
		Text:   text,
		Usage: Usage{
			PromptTokens: stats.PromptTokens,
			OutputTokens: stats.TokensGenerated,
			DurationMS:   stats.Duration.Milliseconds(),
			StopReason:   string(stats.StopReason),
		},
	}, s.clock())
	return writeJSON(c, http.StatusOK, gen)
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	id := c.Param("id")
	gen, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "generation not found")
	}
	return writeJSON(c, http.StatusOK, gen)
}

func (s *Server) handleReset(c *echo.Context) error {
	h, err := handleParam(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if err := s.bridge.Reset(h); err != nil {
		return writeStatus(c, err)
	}
	return writeJSON(c, http.StatusOK, HandleResult{Object: "session", Handle: h, Reset: true})
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	h, err := handleParam(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if st := s.bridge.CleanupStatus(h); st != bridge.StatusOK {
		status, errType := httpStatus(st)
		return writeError(c, status, errType, "session "+st.String(), st.String())
	}
	return writeJSON(c, http.StatusOK, HandleResult{Object: "session", Handle: h, Deleted: true})
}

func (s *Server) handleAction(c *echo.Context) error {
	req, err := decodeJSON[ActionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return writeBadRequest(c, "instruction is required")
	}
	if req.Handle == 0 {
		a := action.RulePlanner{}.Plan(req.Instruction, req.UI)
		return writeJSON(c, http.StatusOK, ActionResponse{Action: a, Source: "rules"})
	}

	ctx := logger.WithContext(c.Request().Context(), s.log.With("handle", req.Handle))
	planner := action.Planner{Grounded: req.Grounded}
	var (
		a       action.Action
		raw     string
		planErr error
	)
	err = s.bridge.Do(req.Handle, func(sess *session.Session) error {
		a, raw, planErr = planner.Plan(ctx, sess, req.Instruction, req.UI)
		return nil
	})
	if err != nil {
		return writeStatus(c, err)
	}
	resp := ActionResponse{Action: a, Source: "model", Response: raw}
	if planErr != nil {
		resp.Action = action.None()
		resp.Error = planErr.Error()
	}
	return writeJSON(c, http.StatusOK, resp)
}
