package provider

import "context"

// resolveThumbnails resolves thumbnails for the given entries that have none
// yet and waits for all of them. Entries already resolved, or being resolved
// by another call, are skipped.
func (p *Provider[T, V]) resolveThumbnails(ctx context.Context, ids []string) {
	if p.batch == nil || len(ids) == 0 {
		return
	}

	p.mu.Lock()
	gen := p.generation
	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		entry, ok := p.byID[id]
		if !ok || entry.ThumbnailResolved || p.resolving[id] {
			continue
		}
		p.resolving[id] = true
		pending = append(pending, id)
	}
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	results := p.batch.ResolveAll(ctx, pending)

	p.mu.Lock()
	var discard int
	for _, id := range pending {
		res := results[id]
		if gen == p.generation {
			delete(p.resolving, id)
		}
		entry, ok := p.byID[id]
		if gen != p.generation || !ok || entry.ThumbnailResolved {
			// Cache was reset; the handle has no owner.
			res.Asset.Release()
			discard++
			continue
		}
		if res.Err != nil {
			// Left unresolved so a later load retries it.
			continue
		}
		entry.Thumbnail = res.Asset
		entry.ThumbnailResolved = true
	}
	p.mu.Unlock()

	if discard > 0 {
		p.logger.Debug().Int("discarded", discard).Msg("Released thumbnails for dropped entries")
	}
}
