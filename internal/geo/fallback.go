package geo

import (
	"strings"

	"github.com/zulandar/droptrack/internal/models"
)

// City is one entry of the fallback table.
type City struct {
	Name      string
	Formatted string
	Point     models.LatLng
}

// DefaultCity is used when no fallback entry matches.
var DefaultCity = City{"são paulo", "São Paulo, SP, Brasil", models.LatLng{Lat: -23.5505, Lng: -46.6333}}

// FallbackCities are matched by substring against the folded address.
var FallbackCities = []City{
	DefaultCity,
	{"rio de janeiro", "Rio de Janeiro, RJ, Brasil", models.LatLng{Lat: -22.9068, Lng: -43.1729}},
	{"brasília", "Brasília, DF, Brasil", models.LatLng{Lat: -15.7939, Lng: -47.8828}},
	{"belo horizonte", "Belo Horizonte, MG, Brasil", models.LatLng{Lat: -19.9167, Lng: -43.9345}},
	{"salvador", "Salvador, BA, Brasil", models.LatLng{Lat: -12.9777, Lng: -38.5016}},
	{"fortaleza", "Fortaleza, CE, Brasil", models.LatLng{Lat: -3.7319, Lng: -38.5267}},
	{"manaus", "Manaus, AM, Brasil", models.LatLng{Lat: -3.1190, Lng: -60.0217}},
	{"curitiba", "Curitiba, PR, Brasil", models.LatLng{Lat: -25.4284, Lng: -49.2733}},
	{"recife", "Recife, PE, Brasil", models.LatLng{Lat: -8.0476, Lng: -34.8770}},
	{"porto alegre", "Porto Alegre, RS, Brasil", models.LatLng{Lat: -30.0346, Lng: -51.2177}},
	{"belém", "Belém, PA, Brasil", models.LatLng{Lat: -1.4558, Lng: -48.4902}},
	{"goiânia", "Goiânia, GO, Brasil", models.LatLng{Lat: -16.6869, Lng: -49.2648}},
	{"campinas", "Campinas, SP, Brasil", models.LatLng{Lat: -22.9099, Lng: -47.0626}},
	{"florianópolis", "Florianópolis, SC, Brasil", models.LatLng{Lat: -27.5954, Lng: -48.5480}},
}

var accentFolder = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

func fold(s string) string {
	return accentFolder.Replace(strings.ToLower(s))
}

// MatchCity returns the first fallback city named in address, or
// DefaultCity.
func MatchCity(address string) City {
	a := fold(address)
	for _, c := range FallbackCities {
		if strings.Contains(a, fold(c.Name)) {
			return c
		}
	}
	return DefaultCity
}

// IsFallbackPoint reports whether p is one of the table coordinates.
func IsFallbackPoint(p models.LatLng) bool {
	for _, c := range FallbackCities {
		if c.Point == p {
			return true
		}
	}
	return false
}
