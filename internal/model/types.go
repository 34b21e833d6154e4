package model

import "time"

// Domain records and the plain snapshots exchanged with the optimizer.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// OrderStatus values are listed in lifecycle order; Rank compares them.
type OrderStatus string

const (
	OrderPlaced    OrderStatus = "PLACED"
	OrderAccepted  OrderStatus = "ACCEPTED"
	OrderPreparing OrderStatus = "PREPARING"
	OrderReady     OrderStatus = "READY"
	OrderPickUp    OrderStatus = "PICK_UP"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

var orderRank = map[OrderStatus]int{
	OrderPlaced:    0,
	OrderAccepted:  1,
	OrderPreparing: 2,
	OrderReady:     3,
	OrderPickUp:    4,
	OrderDelivered: 5,
	OrderCancelled: 6,
}

// Rank is the lifecycle position of s, -1 when unknown.
func (s OrderStatus) Rank() int {
	if r, ok := orderRank[s]; ok {
		return r
	}
	return -1
}

func (s OrderStatus) Valid() bool { return s.Rank() >= 0 }

type PartnerStatus string

const (
	PartnerOnline  PartnerStatus = "ONLINE"
	PartnerOffline PartnerStatus = "OFFLINE"
	PartnerBusy    PartnerStatus = "BUSY"
)

func (s PartnerStatus) Valid() bool {
	switch s {
	case PartnerOnline, PartnerOffline, PartnerBusy:
		return true
	}
	return false
}

type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customerId,omitempty"`
	PartnerID  string      `json:"partnerId,omitempty"`
	Status     OrderStatus `json:"status"`
	Delivery   *GeoPoint   `json:"delivery,omitempty"`
	PickedUpAt *time.Time  `json:"pickedUpAt,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

type Partner struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	Status    PartnerStatus `json:"status"`
	Active    bool          `json:"active"`
	Location  *GeoPoint     `json:"location,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// LocationSample is one row of a partner's location history.
type LocationSample struct {
	ID         string    `json:"id"`
	PartnerID  string    `json:"partnerId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recordedAt"`
}

// SolveRun is the persisted summary of one finished solve.
type SolveRun struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ProblemID   string    `json:"problemId"`
	RunID       string    `json:"runId"`
	Hard        int64     `json:"hard"`
	Soft        int64     `json:"soft"`
	Feasible    bool      `json:"feasible"`
	Iterations  int       `json:"iterations"`
	ElapsedMs   int64     `json:"elapsedMs"`
	Termination string    `json:"termination"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Optimizer snapshots.

type PartnerSnapshot struct {
	PartnerID   string   `json:"partnerId"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
	Online      bool     `json:"online"`
	CurrentLoad int      `json:"currentLoad"`
	MaxCapacity int      `json:"maxCapacity"`
}

type OrderSnapshot struct {
	OrderID string   `json:"orderId"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
}

type AssignmentProblem struct {
	Partners        []PartnerSnapshot `json:"partners"`
	Orders          []OrderSnapshot   `json:"orders"`
	AllowUnassigned bool              `json:"allowUnassigned,omitempty"`
	TimeLimitMs     int               `json:"timeLimitMs,omitempty"`
}

type VehicleSnapshot struct {
	VehicleID string  `json:"vehicleId"`
	PartnerID string  `json:"partnerId"`
	StartLat  float64 `json:"startLat"`
	StartLon  float64 `json:"startLon"`
	Capacity  int     `json:"capacity"`
}

type RouteProblem struct {
	Vehicle     VehicleSnapshot `json:"vehicle"`
	Stops       []OrderSnapshot `json:"stops"`
	TimeLimitMs int             `json:"timeLimitMs,omitempty"`
}

// Results.

type ScoreSummary struct {
	Hard     int64  `json:"hard"`
	Soft     int64  `json:"soft"`
	Feasible bool   `json:"feasible"`
	Text     string `json:"text"`
}

type ConstraintSummary struct {
	Name    string `json:"name"`
	Level   string `json:"level"`
	Matches int    `json:"matches"`
	Hard    int64  `json:"hard"`
	Soft    int64  `json:"soft"`
}

// AssignmentResult maps order id to partner id for every feasibly placed
// order. Orders left out are listed in Unassigned, never mapped to null.
type AssignmentResult struct {
	RunID       string              `json:"runId,omitempty"`
	Assignments map[string]string   `json:"assignments"`
	Unassigned  []string            `json:"unassigned,omitempty"`
	Score       ScoreSummary        `json:"score"`
	Constraints []ConstraintSummary `json:"constraints,omitempty"`
	Iterations  int                 `json:"iterations"`
	Termination string              `json:"termination,omitempty"`
}

// RouteStop is one visit of a planned route, Sequence counting from 1.
type RouteStop struct {
	OrderID  string   `json:"orderId"`
	Sequence int      `json:"sequenceNumber"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
}

type RoutePlan struct {
	RunID       string              `json:"runId,omitempty"`
	PartnerID   string              `json:"partnerId"`
	VehicleID   string              `json:"vehicleId"`
	Stops       []RouteStop         `json:"stops"`
	Score       ScoreSummary        `json:"score"`
	Constraints []ConstraintSummary `json:"constraints,omitempty"`
	Iterations  int                 `json:"iterations"`
	Termination string              `json:"termination,omitempty"`
}

// RouteBatch is the outcome of planning every active partner. A partner whose
// plan failed is listed in Failures and does not fail the batch.
type RouteBatch struct {
	Routes   []RoutePlan    `json:"routes"`
	Failures []RouteFailure `json:"failures,omitempty"`
}

type RouteFailure struct {
	PartnerID string `json:"partnerId"`
	Error     string `json:"error"`
}

// Tracking.

type LocationUpdate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationEvent is broadcast to the subscribers of an order.
type LocationEvent struct {
	OrderID   string    `json:"orderId"`
	PartnerID string    `json:"partnerId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

type RouteInfo struct {
	OrderID   string      `json:"orderId"`
	PartnerID string      `json:"partnerId,omitempty"`
	Status    OrderStatus `json:"status"`
	Partner   *GeoPoint   `json:"partner,omitempty"`
	Delivery  *GeoPoint   `json:"delivery,omitempty"`
	LocatedAt *time.Time  `json:"locatedAt,omitempty"`
}

type ETA struct {
	OrderID             string    `json:"orderId"`
	PrepMinutes         float64   `json:"prepMinutes"`
	TravelMinutes       float64   `json:"travelMinutes"`
	DistanceKm          float64   `json:"distanceKm"`
	EstimatedPickupAt   time.Time `json:"estimatedPickupAt"`
	EstimatedDeliveryAt time.Time `json:"estimatedDeliveryAt"`
}
