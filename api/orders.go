package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dronedelivery/cache"
	"example.com/dronedelivery/domain"
	"example.com/dronedelivery/repository"
)

// CreateOrderRequest is the inbound order payload. Business validation
// (weight, addresses) is the saga's first step; the API only requires the
// identifiers to be present.
type CreateOrderRequest struct {
	OrderID                string    `json:"orderId" validate:"required"`
	CustomerID             string    `json:"customerId" validate:"required"`
	FromAddress            string    `json:"fromAddress"`
	ToAddress              string    `json:"toAddress"`
	PackageWeight          float64   `json:"packageWeight"`
	RequestedDeliveryTime  time.Time `json:"requestedDeliveryTime"`
	MaxDeliveryTimeMinutes int       `json:"maxDeliveryTimeMinutes" validate:"omitempty,gte=1"`
}

// SagaResponse is the API view of a saga record
type SagaResponse struct {
	SagaID         string     `json:"sagaId"`
	OrderID        string     `json:"orderId"`
	Status         string     `json:"status"`
	CurrentStep    string     `json:"currentStep"`
	CompletedSteps []string   `json:"completedSteps"`
	FailureReason  string     `json:"failureReason,omitempty"`
	DeliveryID     string     `json:"deliveryId,omitempty"`
	DroneID        string     `json:"droneId,omitempty"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        *time.Time `json:"endTime,omitempty"`
}

func sagaToResponse(record *domain.SagaRecord) SagaResponse {
	steps := make([]string, 0, len(record.CompletedSteps))
	for _, step := range record.CompletedSteps {
		steps = append(steps, string(step))
	}

	return SagaResponse{
		SagaID:         record.SagaID,
		OrderID:        record.OrderID,
		Status:         string(record.Status),
		CurrentStep:    string(record.CurrentStep),
		CompletedSteps: steps,
		FailureReason:  record.FailureReason,
		DeliveryID:     record.DeliveryID,
		DroneID:        record.DroneID,
		StartTime:      record.StartTime,
		EndTime:        record.EndTime,
	}
}

// createOrder starts a new order saga
func (s *Server) createOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order := domain.OrderMessage{
		OrderID:                req.OrderID,
		CustomerID:             req.CustomerID,
		FromAddress:            req.FromAddress,
		ToAddress:              req.ToAddress,
		PackageWeight:          req.PackageWeight,
		RequestedDeliveryTime:  req.RequestedDeliveryTime,
		MaxDeliveryTimeMinutes: req.MaxDeliveryTimeMinutes,
	}

	record, err := s.coordinator.StartSaga(c.Request.Context(), order)
	if err != nil {
		log.Error().Err(err).Str("orderID", req.OrderID).Msg("Failed to start saga")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start order processing"})
		return
	}

	c.JSON(http.StatusAccepted, sagaToResponse(record))
}

// getOrderSaga returns the saga state for an order, served from cache when
// possible
func (s *Server) getOrderSaga(c *gin.Context) {
	orderID := c.Param("id")
	cacheKey := cache.GetSagaCacheKey(orderID)

	if s.cache != nil && s.cache.Enabled() {
		var cached SagaResponse
		if err := s.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	record, err := s.coordinator.GetSaga(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "saga not found"})
			return
		}
		log.Error().Err(err).Str("orderID", orderID).Msg("Failed to load saga")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load saga"})
		return
	}

	response := sagaToResponse(record)

	if s.cache != nil && s.cache.Enabled() {
		if err := s.cache.Set(c.Request.Context(), cacheKey, response, s.cfg.Saga.StatusCacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache saga status")
		}
	}

	c.JSON(http.StatusOK, response)
}

// getOrderEvents returns the drone events recorded for an order
func (s *Server) getOrderEvents(c *gin.Context) {
	orderID := c.Param("id")

	events, err := s.store.LoadStreamByOrder(c.Request.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Str("orderID", orderID).Msg("Failed to load events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orderId": orderID,
		"events":  eventsToResponse(events),
	})
}
