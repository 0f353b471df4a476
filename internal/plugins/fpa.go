package plugins

import (
	"context"

	"github.com/joshp123/gofpa/internal/config"
	"github.com/joshp123/gofpa/internal/core"
	"github.com/joshp123/gofpa/plugins/fpa"
)

func init() {
	Register(func(ctx context.Context, cfg *config.Config) (core.Plugin, bool) {
		if cfg.FPA == nil {
			return nil, false
		}
		return fpa.NewPlugin(ctx, cfg), true
	})
}
