package sounding

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultBaseURL is the University of Wyoming upper-air site.
const DefaultBaseURL = "http://weather.uwyo.edu"

// SoundingRegion is the region parameter used for text-list queries; the
// site resolves stations worldwide under it.
const SoundingRegion = "naconf"

// Endpoint renders request URLs against a base address.
type Endpoint struct {
	BaseURL string
}

// NewEndpoint returns an Endpoint, falling back to DefaultBaseURL.
func NewEndpoint(baseURL string) Endpoint {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return Endpoint{BaseURL: baseURL}
}

// SoundingURL builds the single-sounding text-list query for r. FROM and TO
// carry the same day and hour.
func (e Endpoint) SoundingURL(r Request) (string, error) {
	if err := r.validate(); err != nil {
		return "", err
	}
	day := fmt.Sprintf("%02d%s", r.Date.Day(), r.Hour)
	return fmt.Sprintf(
		"%s/cgi-bin/sounding?region=%s&TYPE=TEXT%%3ALIST&YEAR=%d&MONTH=%02d&FROM=%s&TO=%s&STNM=%s",
		e.base(), SoundingRegion, r.Date.Year(), int(r.Date.Month()), day, day, url.QueryEscape(r.StationID),
	), nil
}

// RegionURL returns the station index page for a region code.
func (e Endpoint) RegionURL(code string) string {
	return fmt.Sprintf("%s/upperair/%s.html", e.base(), url.PathEscape(code))
}

func (e Endpoint) base() string {
	if e.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(e.BaseURL, "/")
}
