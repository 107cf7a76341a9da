// Package server exposes a set of per-layer rotary encoders over HTTP.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/rotary/internal/batch"
	"github.com/samcharles93/rotary/internal/logger"
	"github.com/samcharles93/rotary/internal/rope"
)

type Server struct {
	encoders map[string]*rope.Encoder
	names    []string
	log      logger.Logger
	newID    func() string
}

// New serves the given encoders keyed by layer name.
func New(log logger.Logger, encoders map[string]*rope.Encoder) *Server {
	if log == nil {
		log = logger.Discard()
	}
	names := make([]string, 0, len(encoders))
	for name := range encoders {
		names = append(names, name)
	}
	slices.Sort(names)
	return &Server{
		encoders: encoders,
		names:    names,
		log:      log,
		newID:    uuid.NewString,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/layers", s.handleListLayers)
	e.GET("/v1/layers/:name", s.handleGetLayer)
	e.POST("/v1/layers/:name/apply", s.handleApply)
	e.GET("/v1/alpha", s.handleAlpha)
}

func (s *Server) handleListLayers(c *echo.Context) error {
	out := LayerList{Layers: make([]LayerInfo, 0, len(s.names))}
	for _, name := range s.names {
		out.Layers = append(out.Layers, layerInfo(name, s.encoders[name]))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetLayer(c *echo.Context) error {
	name := c.Param("name")
	enc, ok := s.encoders[name]
	if !ok {
		return writeError(c, http.StatusNotFound, "not_found_error", fmt.Sprintf("layer %q not found", name))
	}
	return c.JSON(http.StatusOK, layerInfo(name, enc))
}

func (s *Server) handleApply(c *echo.Context) error {
	name := c.Param("name")
	enc, ok := s.encoders[name]
	if !ok {
		return writeError(c, http.StatusNotFound, "not_found_error", fmt.Sprintf("layer %q not found", name))
	}

	var req ApplyRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
	}

	id := s.newID()
	c.Response().Header().Set("X-Request-Id", id)
	log := s.log.With("request_id", id, "layer", name)

	md := batch.Metadata{PromptLens: req.PromptLens, ContextLens: req.ContextLens}
	q, k, err := enc.Apply(req.Positions, req.Query, req.Key, md)
	if err != nil {
		status, typ := classify(err)
		if status >= http.StatusInternalServerError {
			log.Error("apply failed", "error", err)
		} else {
			log.Debug("apply rejected", "error", err)
		}
		return writeError(c, status, typ, err.Error())
	}
	log.Debug("apply", "tokens", len(req.Positions), "rebuilds", enc.Rebuilds())

	return c.JSON(http.StatusOK, ApplyResponse{
		ID:    id,
		Layer: name,
		Query: q,
		Key:   k,
		Cache: cacheInfo(enc.Snapshot()),
	})
}

func (s *Server) handleAlpha(c *echo.Context) error {
	trueLen, err := strconv.Atoi(c.QueryParam("true_len"))
	if err != nil || trueLen <= 0 {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "true_len must be a positive integer")
	}
	ref, err := strconv.Atoi(c.QueryParam("reference_length"))
	if err != nil || ref <= 0 {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "reference_length must be a positive integer")
	}
	return c.JSON(http.StatusOK, AlphaResponse{
		TrueLen:         trueLen,
		ReferenceLength: ref,
		Alpha:           rope.NTKAlpha(trueLen, ref),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, rope.ErrCacheInvariant):
		return http.StatusInternalServerError, "server_error"
	case errors.Is(err, batch.ErrAmbiguousMetadata),
		errors.Is(err, batch.ErrMissingMetadata),
		errors.Is(err, batch.ErrInvalidLength),
		errors.Is(err, batch.ErrShortBatch),
		errors.Is(err, rope.ErrShapeMismatch),
		errors.Is(err, rope.ErrPositionOutOfRange):
		return http.StatusBadRequest, "invalid_request_error"
	}
	return http.StatusInternalServerError, "server_error"
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{Message: msg, Type: errType},
	})
}

func layerInfo(name string, enc *rope.Encoder) LayerInfo {
	cfg := enc.Config()
	return LayerInfo{
		Name:            name,
		Kind:            cfg.Kind.String(),
		Style:           cfg.Style.String(),
		HeadSize:        cfg.HeadSize,
		RotaryDim:       cfg.RotaryDim,
		MaxPositions:    cfg.MaxPositions,
		Base:            cfg.Base,
		ScalingFactor:   cfg.ScalingFactor,
		ReferenceLength: cfg.ReferenceLength,
		Rebuilds:        enc.Rebuilds(),
		Cache:           cacheInfo(enc.Snapshot()),
	}
}

func cacheInfo(s *rope.Snapshot) CacheInfo {
	return CacheInfo{
		CachedLength: s.Length,
		TableRows:    s.Table.Len(),
		CachedBase:   s.Base,
		Alpha:        s.Alpha,
	}
}
