package domain

import "time"

// OrderMessage is the shared order payload passed between the coordinator,
// the delivery service and the drone service.
type OrderMessage struct {
	OrderID                string    `json:"order_id"`
	CustomerID             string    `json:"customer_id"`
	FromAddress            string    `json:"from_address"`
	ToAddress              string    `json:"to_address"`
	PackageWeight          float64   `json:"package_weight"`
	RequestedDeliveryTime  time.Time `json:"requested_delivery_time"`
	MaxDeliveryTimeMinutes int       `json:"max_delivery_time_minutes"`
}
