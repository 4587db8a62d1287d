package photo

import "math"

// DMS is a coordinate in degrees, minutes, and seconds with a compass
// direction (N/S for latitude, E/W for longitude).
type DMS struct {
	Degrees   int     `json:"degrees" dynamodbav:"degrees"`
	Minutes   int     `json:"minutes" dynamodbav:"minutes"`
	Seconds   float64 `json:"seconds" dynamodbav:"seconds"`
	Direction string  `json:"direction" dynamodbav:"direction"`
}

// GeoLocation is where a photo was taken.
type GeoLocation struct {
	Latitude  DMS `json:"latitude" dynamodbav:"latitude"`
	Longitude DMS `json:"longitude" dynamodbav:"longitude"`
}

// Coordinates are signed decimal degrees as read from EXIF GPS tags.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ToDMS decomposes a signed decimal degree value. positive and negative name
// the direction letters used for each sign, e.g. "N" and "S".
func ToDMS(v float64, positive, negative string) DMS {
	dir := positive
	if v < 0 {
		dir = negative
	}
	abs := math.Abs(v)
	deg := math.Floor(abs)
	minutesFrac := (abs - deg) * 60
	mins := math.Floor(minutesFrac)
	sec := (minutesFrac - mins) * 60
	return DMS{
		Degrees:   int(deg),
		Minutes:   int(mins),
		Seconds:   sec,
		Direction: dir,
	}
}

// NewGeoLocation converts decimal coordinates into a GeoLocation.
func NewGeoLocation(c Coordinates) *GeoLocation {
	return &GeoLocation{
		Latitude:  ToDMS(c.Latitude, "N", "S"),
		Longitude: ToDMS(c.Longitude, "E", "W"),
	}
}
