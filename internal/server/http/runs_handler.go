package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quill/internal/app"
)

func (s *Server) handleStartRun(c *gin.Context) {
	var params app.Params
	if err := c.ShouldBindJSON(&params); err != nil {
		writeError(c, app.ValidationError(fmt.Sprintf("invalid request: %v", err)))
		return
	}
	params.CallerID = callerID(c)

	runID, err := s.runs.StartRun(c.Request.Context(), params)
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusAccepted, StartRunResponse{
		RunID:     runID,
		StatusURL: "/api/runs/" + runID,
		StreamURL: "/api/runs/" + runID + "/stream",
	})
}

func (s *Server) handleActiveRuns(c *gin.Context) {
	ids := s.runs.Active(callerID(c))
	if ids == nil {
		ids = []string{}
	}
	writeData(c, http.StatusOK, gin.H{"runs": ids})
}

func (s *Server) handlePoll(c *gin.Context) {
	snap, err := s.runs.Poll(callerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, ProgressResponse{Snapshot: snap, Fraction: snap.Fraction()})
}

func (s *Server) handleResult(c *gin.Context) {
	out, err := s.runs.Result(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, out)
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.runs.Cancel(callerID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, APIResponse{Success: true, Message: "cancellation requested"})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, app.ValidationError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	records, err := s.runs.History(c.Request.Context(), callerID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"records": records})
}

func (s *Server) handleHistoryRecord(c *gin.Context) {
	rec, err := s.runs.HistoryRecord(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, rec)
}

func (s *Server) handleDeleteHistory(c *gin.Context) {
	if err := s.runs.DeleteHistoryRecord(c.Request.Context(), callerID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Message: "deleted"})
}
