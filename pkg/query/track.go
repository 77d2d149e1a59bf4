// Package query defines the normalized search query used as cache and
// coalescing key, together with input validation for raw search criteria.
package query

import (
	"strings"
)

// Track is one of the fixed vocational education tracks a search can target.
type Track string

// Supported education tracks.
const (
	TrackMedewerkerHovenier       Track = "Medewerker Hovenier"
	TrackVakbekwaamHovenier       Track = "Vakbekwaam Hovenier"
	TrackMedewerkerGroeneRuimte   Track = "Medewerker Groene Ruimte"
	TrackVakbekwaamGroeneRuimte   Track = "Vakbekwaam Medewerker Groene Ruimte"
	TrackOpzichterUitvoerderGroen Track = "Opzichter/Uitvoerder Groene Ruimte"
)

// Tracks lists every supported track in display order.
var Tracks = []Track{
	TrackMedewerkerHovenier,
	TrackVakbekwaamHovenier,
	TrackMedewerkerGroeneRuimte,
	TrackVakbekwaamGroeneRuimte,
	TrackOpzichterUitvoerderGroen,
}

// ParseTrack maps user input to a canonical Track.
// Matching ignores surrounding whitespace and letter case.
func ParseTrack(s string) (Track, bool) {
	s = strings.Join(strings.Fields(s), " ")
	for _, t := range Tracks {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// Valid reports whether t is one of the supported tracks.
func (t Track) Valid() bool {
	for _, known := range Tracks {
		if t == known {
			return true
		}
	}
	return false
}

// Slug returns a lower-case, dash separated form of the track name.
func (t Track) Slug() string {
	r := strings.NewReplacer("/", "-", " ", "-")
	return strings.ToLower(r.Replace(string(t)))
}
