package company

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for company records.
type Handler struct {
	service *Service
}

// NewHandler creates a new company handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up company routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/companies", h.Register)
	r.GET("/companies/:id", h.GetCompany)
}

// RegisterAdminRoutes sets up admin-only company routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/companies", h.ListCompanies)
}

type registerRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required"`
}

// Register handles POST /v1/companies
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and email are required"})
		return
	}

	company, err := h.service.Register(c.Request.Context(), &Company{Name: req.Name, Email: req.Email})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCompany):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_company", "message": err.Error()})
		case errors.Is(err, ErrCompanyExists):
			c.JSON(http.StatusConflict, gin.H{"error": "already_exists", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"company": company})
}

// GetCompany handles GET /v1/companies/:id
func (h *Handler) GetCompany(c *gin.Context) {
	company, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrCompanyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No such company"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"company": company})
}

// ListCompanies handles GET /v1/admin/companies
func (h *Handler) ListCompanies(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	companies, err := h.service.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"companies": companies, "count": len(companies)})
}
