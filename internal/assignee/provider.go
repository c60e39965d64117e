package assignee

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/clickup"
)

// MemberSource lists the members of a ClickUp list.
type MemberSource interface {
	ListMembers(ctx context.Context, listID string) ([]clickup.Member, error)
}

// Provider hands out the member directory for a list, reusing a disk
// cache while entries stay fresh.
type Provider struct {
	source MemberSource
	cache  *memberCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewProvider creates a directory provider. ttl at or below zero disables
// the cache: every call fetches and nothing is persisted.
func NewProvider(source MemberSource, cachePath string, ttl time.Duration, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		source: source,
		cache:  &memberCache{path: cachePath, logger: logger},
		ttl:    ttl,
		logger: logger,
	}
}

// Directory returns the name directory for the list. Fetch failures are
// logged and yield an empty directory so the run continues with override
// entries only.
func (p *Provider) Directory(ctx context.Context, listID string) Directory {
	if listID == "" {
		return Directory{}
	}

	if p.ttl > 0 {
		if dir, ok := p.cache.load(listID, p.ttl, time.Now()); ok {
			p.logger.Debug("Using cached ClickUp members", zap.String("list_id", listID))
			return dir
		}
	}

	members, err := p.source.ListMembers(ctx, listID)
	if err != nil {
		p.logger.Warn("Failed to fetch ClickUp list members",
			zap.String("list_id", listID),
			zap.Error(err))
		return Directory{}
	}

	dir := FromMembers(members)
	if p.ttl > 0 {
		p.cache.save(listID, dir, time.Now())
	}
	return dir
}
