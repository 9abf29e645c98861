package mission

import "math"

const earthRadiusMetres float64 = 6371000

// Great-circle distance between two coordinates in metres
func distance(from Coordinate, to Coordinate) float64 {
	var deltaLat = (to.Latitude - from.Latitude) * (math.Pi / 180)
	var deltaLon = (to.Longitude - from.Longitude) * (math.Pi / 180)

	var a = math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(from.Latitude*(math.Pi/180))*math.Cos(to.Latitude*(math.Pi/180))*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	var c = 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMetres * c
}

// Distance between two waypoints including the altitude difference
func waypointDistance(from *Waypoint, to *Waypoint) float64 {
	d := distance(from.Coordinate, to.Coordinate)
	dz := to.Altitude - from.Altitude
	return math.Sqrt(d*d + dz*dz)
}
