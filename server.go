package main

import (
	"time"

	"github.com/akhenakh/swathgeo/geoloc"
)

const (
	opGeoLocation   = "get_geo_location"
	opPixelLocation = "get_pixel_location"
	opFindPixel     = "find_pixel"
)

type pixelLocator interface {
	GetGeoLocation(x, y float64) (geoloc.GeoPos, bool)
	GetPixelLocation(lon, lat float64) (geoloc.PixelPos, bool)
}

type pixelFinder interface {
	FindPixel(lon, lat float64) (geoloc.PixelPos, bool)
}

// Server answers REST and gRPC lookups against one swath.
type Server struct {
	locator    pixelLocator
	finder     pixelFinder
	metrics    *lookupMetrics
	batchLimit int
}

// NewServer wires the engine. batchLimit bounds concurrent lookups per batch
// request; values below 1 mean 1.
func NewServer(locator pixelLocator, finder pixelFinder, metrics *lookupMetrics, batchLimit int) *Server {
	return &Server{
		locator:    locator,
		finder:     finder,
		metrics:    metrics,
		batchLimit: max(batchLimit, 1),
	}
}

func (s *Server) geoLocation(x, y float64) (geoloc.GeoPos, bool) {
	start := time.Now()
	pos, ok := s.locator.GetGeoLocation(x, y)
	s.metrics.observe(opGeoLocation, start, ok)
	return pos, ok
}

func (s *Server) pixelLocation(lat, lon float64) (geoloc.PixelPos, bool) {
	start := time.Now()
	pos, ok := s.locator.GetPixelLocation(lon, lat)
	s.metrics.observe(opPixelLocation, start, ok)
	return pos, ok
}

func (s *Server) findPixel(lat, lon float64) (geoloc.PixelPos, bool) {
	start := time.Now()
	pos, ok := s.finder.FindPixel(lon, lat)
	s.metrics.observe(opFindPixel, start, ok)
	return pos, ok
}
