// Package catalog lists the radiosonde stations published on the University
// of Wyoming regional index pages.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

// Region is one of the fixed index pages.
type Region struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Regions lists every index page in the order they are reported.
var Regions = []Region{
	{Code: "samer", Name: "South America"},
	{Code: "europe", Name: "Europe"},
	{Code: "naconf", Name: "North America"},
	{Code: "pac", Name: "South Pacific"},
	{Code: "nz", Name: "New Zealand"},
	{Code: "ant", Name: "Antartica"},
	{Code: "np", Name: "Artic"},
	{Code: "africa", Name: "Africa"},
	{Code: "seasia", Name: "South-East Asia"},
	{Code: "mideast", Name: "Middle East"},
}

// LookupRegion resolves a region code.
func LookupRegion(code string) (Region, bool) {
	for _, r := range Regions {
		if r.Code == code {
			return r, true
		}
	}
	return Region{}, false
}

// Station is a single entry of a regional index.
type Station struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// Catalog fetches and parses regional index pages.
type Catalog struct {
	fetcher  sounding.Fetcher
	endpoint sounding.Endpoint
	logger   *zap.Logger
	limit    int
}

// New builds a Catalog. Pages are fetched with at most limit requests in
// flight; limit < 1 fetches sequentially.
func New(fetcher sounding.Fetcher, endpoint sounding.Endpoint, limit int, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit < 1 {
		limit = 1
	}
	return &Catalog{fetcher: fetcher, endpoint: endpoint, logger: logger, limit: limit}
}

// List fetches every region and returns stations keyed by region name.
func (c *Catalog) List(ctx context.Context) (map[string][]Station, error) {
	if c.fetcher == nil {
		return nil, sounding.Configurationf("catalog requires a fetcher")
	}
	pages := make([][]Station, len(Regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for i, region := range Regions {
		g.Go(func() error {
			stations, err := c.Region(gctx, region)
			if err != nil {
				return err
			}
			pages[i] = stations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string][]Station, len(Regions))
	for i, region := range Regions {
		out[region.Name] = pages[i]
	}
	return out, nil
}

// Region fetches and parses one regional index page.
func (c *Catalog) Region(ctx context.Context, region Region) ([]Station, error) {
	url := c.endpoint.RegionURL(region.Code)
	resp, err := c.fetcher.Fetch(ctx, sounding.FetchRequest{URL: url})
	if err != nil {
		return nil, fmt.Errorf("fetch region %s: %w", region.Code, err)
	}
	stations, err := ParseRegionPage(resp.Body, region.Name)
	if err != nil {
		return nil, fmt.Errorf("parse region %s: %w", region.Code, err)
	}
	c.logger.Debug("region index parsed",
		zap.String("region", region.Code),
		zap.Int("stations", len(stations)),
	)
	return stations, nil
}

var areaPattern = regexp.MustCompile(`(\d+)[',\s]+([^'")]+)`)

// ParseRegionPage extracts stations from the onmouseover attribute of each
// <area> element. Parsing stops at the first element that does not carry an
// id followed by a name.
func ParseRegionPage(raw []byte, region string) ([]Station, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sounding.ErrParse, err)
	}
	var stations []Station
	doc.Find("area").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		attr, _ := s.Attr("onmouseover")
		m := areaPattern.FindStringSubmatch(attr)
		if m == nil {
			return false
		}
		name := strings.TrimSpace(m[2])
		if name == "" {
			return false
		}
		stations = append(stations, Station{ID: m[1], Name: name, Region: region})
		return true
	})
	return stations, nil
}

// Flatten returns all stations region by region in Regions order, keeping
// each region's index-page order. Regions missing from Regions follow, sorted
// by name.
func Flatten(byRegion map[string][]Station) []Station {
	var out []Station
	known := make(map[string]bool, len(Regions))
	for _, r := range Regions {
		known[r.Name] = true
		out = append(out, byRegion[r.Name]...)
	}
	var extra []string
	for name := range byRegion {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		out = append(out, byRegion[name]...)
	}
	return out
}
