package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/veriplex/veriplex/internal/engine"
	usagedomain "github.com/veriplex/veriplex/internal/usagelog/domain"
)

// executeResponse wraps an engine result in the public envelope.
type executeResponse struct {
	Success bool `json:"success"`
	*engine.Result
}

// ExecuteService runs one billable call for the authenticated caller.
func (s *Server) ExecuteService(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	slug := strings.TrimSpace(c.Param("slug"))
	if slug == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	params := make(map[string]string, len(body))
	for k, v := range body {
		switch val := v.(type) {
		case string:
			params[k] = val
		default:
			params[k] = fmt.Sprint(val)
		}
	}

	result, err := s.exec.Execute(c.Request.Context(), engine.Caller{
		UserID:         identity.UserID,
		APIKeyID:       identity.APIKeyID,
		ServiceID:      identity.ServiceID,
		SubscriptionID: identity.SubscriptionID,
		Scopes:         identity.Scopes,
	}, slug, params)
	if err != nil {
		s.metrics.ObserveExecution(slug, "error")
		AbortWithError(c, err)
		return
	}

	s.metrics.ObserveExecution(slug, "success")
	s.metrics.ObserveDataSource(result.DataSource)
	c.JSON(http.StatusOK, executeResponse{Success: true, Result: result})
}

// ListServices exposes the active catalog. Public: pricing is part of the
// marketplace storefront.
func (s *Server) ListServices(c *gin.Context) {
	services, err := s.catalogSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": services})
}

// ListUsage returns the caller's recent usage rows, newest first.
func (s *Server) ListUsage(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	filter := usagedomain.ListFilter{UserID: identity.UserID}
	if raw := strings.TrimSpace(c.Query("service_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		filter.ServiceID = id
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		filter.Since = since
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		filter.Limit = limit
	}

	rows, err := s.usageSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": rows})
}

// GetBalance returns the caller's aggregate credit position.
func (s *Server) GetBalance(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	acct, err := s.ledgerSvc.Account(c.Request.Context(), identity.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":         acct.UserID,
		"total_allocated": acct.TotalAllocated,
		"used":            acct.Used,
		"remaining":       acct.Remaining(),
	})
}
