package api

import (
	"fmt"
	"math"

	"courieropt/internal/model"
)

func validCoord(lat, lon *float64) error {
	if (lat == nil) != (lon == nil) {
		return fmt.Errorf("lat and lon must be given together")
	}
	if lat != nil && (math.Abs(*lat) > 90 || math.Abs(*lon) > 180) {
		return fmt.Errorf("coordinates out of range: %v,%v", *lat, *lon)
	}
	return nil
}

func validateAssignmentProblem(p *model.AssignmentProblem) error {
	if p.TimeLimitMs < 0 {
		return fmt.Errorf("timeLimitMs must be >= 0")
	}
	for i, ps := range p.Partners {
		if ps.PartnerID == "" {
			return fmt.Errorf("partners[%d]: partnerId required", i)
		}
		if ps.MaxCapacity <= 0 {
			return fmt.Errorf("partners[%d]: maxCapacity must be > 0", i)
		}
		if ps.CurrentLoad < 0 {
			return fmt.Errorf("partners[%d]: currentLoad must be >= 0", i)
		}
		if err := validCoord(ps.Lat, ps.Lon); err != nil {
			return fmt.Errorf("partners[%d]: %w", i, err)
		}
	}
	for i, o := range p.Orders {
		if o.OrderID == "" {
			return fmt.Errorf("orders[%d]: orderId required", i)
		}
		if err := validCoord(o.Lat, o.Lon); err != nil {
			return fmt.Errorf("orders[%d]: %w", i, err)
		}
	}
	return nil
}

func validateRouteProblem(p *model.RouteProblem) error {
	if p.TimeLimitMs < 0 {
		return fmt.Errorf("timeLimitMs must be >= 0")
	}
	if p.Vehicle.PartnerID == "" && p.Vehicle.VehicleID == "" {
		return fmt.Errorf("vehicle: partnerId or vehicleId required")
	}
	if p.Vehicle.Capacity < 0 {
		return fmt.Errorf("vehicle: capacity must be >= 0")
	}
	lat, lon := p.Vehicle.StartLat, p.Vehicle.StartLon
	if err := validCoord(&lat, &lon); err != nil {
		return fmt.Errorf("vehicle: %w", err)
	}
	for i, s := range p.Stops {
		if s.OrderID == "" {
			return fmt.Errorf("stops[%d]: orderId required", i)
		}
		if err := validCoord(s.Lat, s.Lon); err != nil {
			return fmt.Errorf("stops[%d]: %w", i, err)
		}
	}
	return nil
}

func validateLocationUpdate(u *model.LocationUpdate) error {
	return validCoord(&u.Lat, &u.Lng)
}
