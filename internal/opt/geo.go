package opt

import "math"

const earthRadiusM = 6371000.0

// Location is a latitude/longitude pair in degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceTo returns the great-circle distance in meters.
func (l Location) DistanceTo(o Location) float64 {
	return haversine(l.Lat, l.Lng, o.Lat, o.Lng)
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// distancePenalty is the soft penalty for travelling from a to b: one point per 10m.
func distancePenalty(a, b *Location) int64 {
	if a == nil || b == nil {
		return 0
	}
	return int64(math.Round(a.DistanceTo(*b) / 10.0))
}
