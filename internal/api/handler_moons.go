package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"moonmining-backend/internal/model"
)

// moonResponse is the flattened structure for the API response.
type moonResponse struct {
	ID                int64                 `json:"id"`
	Name              string                `json:"name"`
	Value             decimal.NullDecimal   `json:"value"`
	RarityClass       string                `json:"rarityClass"`
	ProductsUpdatedAt *time.Time            `json:"productsUpdatedAt"`
	ProductsUpdatedBy string                `json:"productsUpdatedBy"`
	Products          []moonProductResponse `json:"products"`
}

type moonProductResponse struct {
	OreTypeID int64   `json:"oreTypeId"`
	Amount    float64 `json:"amount"`
}

func toMoonResponse(moon model.Moon) moonResponse {
	products := make([]moonProductResponse, 0, len(moon.Products))
	for _, p := range moon.Products {
		products = append(products, moonProductResponse{OreTypeID: p.OreTypeID, Amount: p.Amount})
	}
	return moonResponse{
		ID:                moon.ID,
		Name:              moon.Name,
		Value:             moon.Value,
		RarityClass:       moon.RarityClass.String(),
		ProductsUpdatedAt: moon.ProductsUpdatedAt,
		ProductsUpdatedBy: moon.ProductsUpdatedBy,
		Products:          products,
	}
}

// GetMoons handles the GET /api/moons request.
func GetMoons(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var moons []model.Moon
		if err := db.Preload("Products").Order("id").Find(&moons).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve moons"})
			return
		}

		responses := make([]moonResponse, 0, len(moons))
		for _, moon := range moons {
			responses = append(responses, toMoonResponse(moon))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// GetMoon handles the GET /api/moons/{moon_id} request.
func GetMoon(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		moonID, err := strconv.ParseInt(c.Param("moon_id"), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid moon ID"})
			return
		}

		var moon model.Moon
		if err := db.Preload("Products").First(&moon, moonID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Moon not found"})
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve moon"})
			}
			return
		}
		c.JSON(http.StatusOK, toMoonResponse(moon))
	}
}

type postMoonProductsRequest struct {
	UpdatedBy string `json:"updated_by" binding:"required"`
	Products  []struct {
		OreTypeID int64   `json:"ore_type_id" binding:"required"`
		Amount    float64 `json:"amount"`
	} `json:"products" binding:"required"`
}

// PostMoonProducts handles a moon survey upload: the product set is replaced
// wholesale and the moon's derived fields are recomputed.
func (h *Handler) PostMoonProducts(c *gin.Context) {
	moonID, err := strconv.ParseInt(c.Param("moon_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid moon ID"})
		return
	}

	var req postMoonProductsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	products := make([]model.MoonProduct, 0, len(req.Products))
	seen := make(map[int64]bool, len(req.Products))
	for _, p := range req.Products {
		if p.Amount < 0 || p.Amount > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "product amount must be within [0,1]"})
			return
		}
		if seen[p.OreTypeID] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duplicate ore type in survey"})
			return
		}
		seen[p.OreTypeID] = true
		products = append(products, model.MoonProduct{OreTypeID: p.OreTypeID, Amount: p.Amount})
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetOrCreateMoon(ctx, moonID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.ReplaceMoonProducts(ctx, moonID, products, req.UpdatedBy, time.Now().UTC()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.aggregator.RefreshMoonAnalytics(ctx, moonID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}
