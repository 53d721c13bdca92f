package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"quill/internal/app"
)

func (s *Server) personaService(c *gin.Context) (*app.PersonaService, bool) {
	if s.personas == nil {
		writeError(c, app.UnavailableError("persona service is not configured"))
		return nil, false
	}
	return s.personas, true
}

func (s *Server) handlePool(c *gin.Context) {
	svc, ok := s.personaService(c)
	if !ok {
		return
	}
	pool := svc.Pool(c.Request.Context(), callerID(c))
	writeData(c, http.StatusOK, gin.H{"personas": pool.Names(), "fallback": pool.IsFallback()})
}

func (s *Server) handleProfiles(c *gin.Context) {
	svc, ok := s.personaService(c)
	if !ok {
		return
	}
	profiles, err := svc.Profiles(c.Request.Context(), callerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"profiles": profiles})
}

func (s *Server) handleProfile(c *gin.Context) {
	svc, ok := s.personaService(c)
	if !ok {
		return
	}
	profile, err := svc.Profile(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, profile)
}

func (s *Server) handleGenerateProfile(c *gin.Context) {
	svc, ok := s.personaService(c)
	if !ok {
		return
	}
	var req app.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, app.ValidationError(fmt.Sprintf("invalid request: %v", err)))
		return
	}
	req.CallerID = callerID(c)

	generated, err := svc.GenerateProfile(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if generated.ID != "" {
		status = http.StatusCreated
	}
	writeData(c, status, generated)
}

func (s *Server) handleSetActive(c *gin.Context) {
	svc, ok := s.personaService(c)
	if !ok {
		return
	}
	var req ActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		writeError(c, app.ValidationError("body must be {\"active\": true|false}"))
		return
	}
	if err := svc.SetActive(c.Request.Context(), callerID(c), c.Param("id"), *req.Active); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Message: "updated"})
}
