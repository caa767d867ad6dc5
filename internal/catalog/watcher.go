package catalog

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Watcher rescans the media directory on a fixed interval and invokes
// onChange whenever the reconciled path set differs from before.
type Watcher struct {
	cat      *Catalog
	clk      clockwork.Clock
	interval time.Duration
	onChange func()
	log      zerolog.Logger
}

func NewWatcher(cat *Catalog, clk clockwork.Clock, interval time.Duration, onChange func(), log zerolog.Logger) *Watcher {
	return &Watcher{cat: cat, clk: clk, interval: interval, onChange: onChange, log: log}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	t := w.clk.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			changed, err := w.cat.Rescan()
			if err != nil {
				w.log.Error().Err(err).Msg("media directory rescan failed")
				continue
			}
			if changed {
				w.log.Info().Msg("media directory changed, notifying clients")
				w.onChange()
			}
		}
	}
}
