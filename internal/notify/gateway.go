package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/photo"
	"github.com/fpang/photo-pipeline/internal/store"
)

// Gateway wraps a store.Gateway and publishes a change event after every
// successful Create or Update. A publish failure is logged; the write has
// already happened and is not reported as failed.
type Gateway struct {
	store.Gateway
	pub Publisher
}

var _ store.Gateway = (*Gateway)(nil)

// Wrap returns g unchanged when pub is nil.
func Wrap(g store.Gateway, pub Publisher) store.Gateway {
	if pub == nil {
		return g
	}
	return &Gateway{Gateway: g, pub: pub}
}

func (g *Gateway) Create(ctx context.Context, p *photo.Photo) (*photo.Photo, error) {
	rec, err := g.Gateway.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	g.publish(ctx, rec)
	return rec, nil
}

func (g *Gateway) Update(ctx context.Context, id string, patch photo.Patch, expect photo.Status) (*photo.Photo, error) {
	rec, err := g.Gateway.Update(ctx, id, patch, expect)
	if err != nil {
		return nil, err
	}
	g.publish(ctx, rec)
	return rec, nil
}

func (g *Gateway) publish(ctx context.Context, rec *photo.Photo) {
	if err := g.pub.PhotoChanged(ctx, rec); err != nil {
		log.Warn().Err(err).Str("id", rec.ID).Str("status", string(rec.ProcessingStatus)).Msg("Failed to publish PhotoChanged")
	}
}
