package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"moonmining-backend/internal/model"
	"moonmining-backend/internal/store"
)

// extractionResponse is the flattened structure for the API response.
type extractionResponse struct {
	ID         int64                       `json:"id"`
	RefineryID int64                       `json:"refineryId"`
	Status     model.ExtractionStatus      `json:"status"`
	ReadyTime  time.Time                   `json:"readyTime"`
	AutoTime   time.Time                   `json:"autoTime"`
	CanceledAt *time.Time                  `json:"canceledAt"`
	FinishedAt *time.Time                  `json:"finishedAt"`
	Value      decimal.NullDecimal         `json:"value"`
	IsJackpot  *bool                       `json:"isJackpot"`
	Products   []extractionProductResponse `json:"products"`
}

type extractionProductResponse struct {
	OreTypeID int64   `json:"oreTypeId"`
	Volume    float64 `json:"volume"`
}

func toExtractionResponse(extraction model.Extraction) extractionResponse {
	products := make([]extractionProductResponse, 0, len(extraction.Products))
	for _, p := range extraction.Products {
		products = append(products, extractionProductResponse{OreTypeID: p.OreTypeID, Volume: p.Volume})
	}
	return extractionResponse{
		ID:         extraction.ID,
		RefineryID: extraction.RefineryID,
		Status:     extraction.Status,
		ReadyTime:  extraction.ReadyTime,
		AutoTime:   extraction.AutoTime,
		CanceledAt: extraction.CanceledAt,
		FinishedAt: extraction.FinishedAt,
		Value:      extraction.Value,
		IsJackpot:  extraction.IsJackpot,
		Products:   products,
	}
}

// GetExtractions handles the GET /api/extractions request with an optional
// status filter.
func GetExtractions(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := store.ListExtractionsOpts{Limit: 500}
		if status := c.Query("status"); status != "" {
			switch model.ExtractionStatus(status) {
			case model.StatusStarted, model.StatusCanceled, model.StatusReady,
				model.StatusCompleted, model.StatusFractured, model.StatusUndefined:
				opts.Status = model.ExtractionStatus(status)
			default:
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
				return
			}
		}

		extractions, err := s.ListExtractions(c.Request.Context(), opts)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve extractions"})
			return
		}

		responses := make([]extractionResponse, 0, len(extractions))
		for _, extraction := range extractions {
			responses = append(responses, toExtractionResponse(extraction))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// GetRefineryExtractions handles GET /api/refineries/{refinery_id}/extractions.
func GetRefineryExtractions(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		refineryID, err := strconv.ParseInt(c.Param("refinery_id"), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid refinery ID"})
			return
		}

		extractions, err := s.ListExtractions(c.Request.Context(), store.ListExtractionsOpts{RefineryID: refineryID})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve extractions"})
			return
		}

		responses := make([]extractionResponse, 0, len(extractions))
		for _, extraction := range extractions {
			responses = append(responses, toExtractionResponse(extraction))
		}
		c.JSON(http.StatusOK, responses)
	}
}
