package store

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultPruneInterval = 6 * time.Hour

// Pruner deletes stored service responses past their retention period.
type Pruner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
}

func NewPruner(s *Store, retentionDays int, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &Pruner{store: s, retentionDays: retentionDays, interval: interval}
}

// Run prunes once immediately and then every interval until ctx is done.
func (p *Pruner) Run(ctx context.Context) {
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("pruner: shutting down")
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Pruner) prune() {
	n, err := p.store.CleanupOldRawPayloads(p.retentionDays)
	if err != nil {
		log.Warnf("pruner: cleanup raw payloads: %v", err)
		return
	}
	if n > 0 {
		log.Infof("pruner: deleted %d raw payloads older than %d days", n, p.retentionDays)
	}
}
