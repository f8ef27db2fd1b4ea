package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// locateResult is one entry of a batch answer, in request order.
type locateResult struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Found     bool     `json:"found"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
}

// locateBatch runs GetPixelLocation for every [lat, lon] pair with at most
// batchLimit lookups in flight. It stops early when ctx is done.
func (s *Server) locateBatch(ctx context.Context, points [][]float64) ([]locateResult, error) {
	for i, p := range points {
		if len(p) != 2 {
			return nil, fmt.Errorf("point %d: want [lat, lon], got %d values", i, len(p))
		}
	}

	results := make([]locateResult, len(points))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchLimit)
	for i, p := range points {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := locateResult{Latitude: p[0], Longitude: p[1]}
			if pos, ok := s.pixelLocation(p[0], p[1]); ok {
				r.Found, r.X, r.Y = true, &pos.X, &pos.Y
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
