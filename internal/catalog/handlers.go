package catalog

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the package catalog.
type Handler struct {
	service *Service
}

// NewHandler creates a new catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/packages", h.ListPackages)
	r.GET("/packages/:id", h.GetPackage)
}

// RegisterAdminRoutes sets up admin-only catalog routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/packages", h.CreatePackage)
	r.PUT("/packages/:id", h.UpdatePackage)
	r.POST("/packages/:id/deactivate", h.DeactivatePackage)
}

// ListPackages handles GET /v1/packages
func (h *Handler) ListPackages(c *gin.Context) {
	activeOnly := c.Query("all") == ""
	pkgs, err := h.service.List(c.Request.Context(), activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": pkgs, "count": len(pkgs)})
}

// GetPackage handles GET /v1/packages/:id
func (h *Handler) GetPackage(c *gin.Context) {
	pkg, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No such package"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"package": pkg})
}

type packageRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Points      int    `json:"points" binding:"required"`
	BonusPoints int    `json:"bonusPoints"`
	Price       int64  `json:"price" binding:"required"`
}

// CreatePackage handles POST /v1/admin/packages
func (h *Handler) CreatePackage(c *gin.Context) {
	var req packageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	pkg, err := h.service.Create(c.Request.Context(), &Package{
		Name:        req.Name,
		Description: req.Description,
		Points:      req.Points,
		BonusPoints: req.BonusPoints,
		Price:       req.Price,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidPackage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_package", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"package": pkg})
}

// UpdatePackage handles PUT /v1/admin/packages/:id
func (h *Handler) UpdatePackage(c *gin.Context) {
	var req packageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	pkg, err := h.service.Update(c.Request.Context(), &Package{
		ID:          c.Param("id"),
		Name:        req.Name,
		Description: req.Description,
		Points:      req.Points,
		BonusPoints: req.BonusPoints,
		Price:       req.Price,
		Active:      true,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrPackageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No such package"})
		case errors.Is(err, ErrInvalidPackage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_package", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"package": pkg})
}

// DeactivatePackage handles POST /v1/admin/packages/:id/deactivate
func (h *Handler) DeactivatePackage(c *gin.Context) {
	pkg, err := h.service.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No such package"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"package": pkg})
}
