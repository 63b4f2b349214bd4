package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dronedelivery/domain"
	"example.com/dronedelivery/eventstore"
)

// DroneResponse is the API view of a drone aggregate
type DroneResponse struct {
	DroneID             string     `json:"droneId"`
	OrderID             string     `json:"orderId"`
	State               string     `json:"state"`
	Version             int64      `json:"version"`
	FromAddress         string     `json:"fromAddress"`
	ToAddress           string     `json:"toAddress"`
	DispatchTime        *time.Time `json:"dispatchTime,omitempty"`
	DeliveryTime        *time.Time `json:"deliveryTime,omitempty"`
	ReturnTime          *time.Time `json:"returnTime,omitempty"`
	ExpectedArrivalTime *time.Time `json:"expectedArrivalTime,omitempty"`
}

// DroneEventResponse is one event in a drone's lifecycle log
type DroneEventResponse struct {
	EventType      string    `json:"eventType"`
	DroneID        string    `json:"droneId"`
	OrderID        string    `json:"orderId"`
	SequenceNumber int64     `json:"sequenceNumber"`
	Timestamp      time.Time `json:"timestamp"`
}

func droneToResponse(drone *domain.DroneAggregate) DroneResponse {
	return DroneResponse{
		DroneID:             drone.DroneID,
		OrderID:             drone.Order.OrderID,
		State:               string(drone.State),
		Version:             drone.Version,
		FromAddress:         drone.Order.FromAddress,
		ToAddress:           drone.Order.ToAddress,
		DispatchTime:        drone.DispatchTime,
		DeliveryTime:        drone.DeliveryTime,
		ReturnTime:          drone.ReturnTime,
		ExpectedArrivalTime: drone.ExpectedArrivalTime,
	}
}

func eventsToResponse(events []domain.DroneEvent) []DroneEventResponse {
	responses := make([]DroneEventResponse, 0, len(events))
	for _, event := range events {
		responses = append(responses, DroneEventResponse{
			EventType:      event.EventType(),
			DroneID:        event.GetDroneID(),
			OrderID:        event.GetOrderID(),
			SequenceNumber: event.GetSequenceNumber(),
			Timestamp:      event.GetTimestamp(),
		})
	}
	return responses
}

// getDrone returns the current state of a drone
func (s *Server) getDrone(c *gin.Context) {
	droneID := c.Param("id")

	drone, err := s.drones.GetDrone(c.Request.Context(), droneID)
	if err != nil {
		if errors.Is(err, eventstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "drone not found"})
			return
		}
		log.Error().Err(err).Str("droneID", droneID).Msg("Failed to load drone")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load drone"})
		return
	}

	c.JSON(http.StatusOK, droneToResponse(drone))
}

// getDroneEvents returns the full lifecycle log of a drone
func (s *Server) getDroneEvents(c *gin.Context) {
	droneID := c.Param("id")

	events, err := s.store.LoadStream(c.Request.Context(), droneID)
	if err != nil {
		log.Error().Err(err).Str("droneID", droneID).Msg("Failed to load events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}

	if len(events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "drone not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"droneId": droneID,
		"events":  eventsToResponse(events),
	})
}

// rebuildDrone replays the drone's event stream and returns the
// reconstructed aggregate
func (s *Server) rebuildDrone(c *gin.Context) {
	droneID := c.Param("id")

	drone, err := s.store.Rebuild(c.Request.Context(), droneID)
	if err != nil {
		switch {
		case errors.Is(err, eventstore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "drone not found"})
		case errors.Is(err, eventstore.ErrCorruptStream):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "event stream is corrupt"})
		default:
			log.Error().Err(err).Str("droneID", droneID).Msg("Failed to rebuild drone")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rebuild drone"})
		}
		return
	}

	c.JSON(http.StatusOK, droneToResponse(drone))
}
