package domain

import "context"

// GeocodeResult holds the road attributes returned by a reverse-geocode
// provider. Empty fields mean the provider had no answer for them.
type GeocodeResult struct {
	RoadName string
	HwyRef   string
	Region   string // administrative region (state/province)
	County   string
	City     string
	Locality string // finest-grained named place (suburb, hamlet, ...)
}

// Empty reports whether the provider returned nothing usable.
func (r GeocodeResult) Empty() bool {
	return r.RoadName == "" && r.HwyRef == "" && r.Region == "" &&
		r.County == "" && r.City == "" && r.Locality == ""
}

// ShortLocation builds the human-readable shorthand shown in listings:
// "Road • Locality", falling back through city and region.
func (r GeocodeResult) ShortLocation() string {
	if r.RoadName == "" {
		return r.Locality
	}
	switch {
	case r.Locality != "":
		return r.RoadName + " • " + r.Locality
	case r.City != "":
		return r.RoadName + " • " + r.City
	case r.Region != "":
		return r.RoadName + " • " + r.Region
	}
	return r.RoadName
}

// Geocoder is the reverse-geocode capability this core depends on. Lookups
// are expected to apply their own bounded timeout; a failed or timed-out
// lookup returns an error and the record simply stays ungeocoded until a
// later batch run.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodeResult, error)
}
