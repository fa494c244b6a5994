package main

import (
	"fmt"
	"log/slog"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
	"github.com/jensholdgaard/auction-settlement/internal/clock"
	"github.com/jensholdgaard/auction-settlement/internal/config"
	"github.com/jensholdgaard/auction-settlement/internal/notify"
	"github.com/jensholdgaard/auction-settlement/internal/store"
)

// buildNotifier combines the configured notifier kinds. A single kind is
// returned as is.
func buildNotifier(cfg config.NotifierConfig, repos *store.Repositories, ev auction.Evaluator, clk clock.Clock, logger *slog.Logger) (notify.Notifier, error) {
	var all notify.Multi
	for _, kind := range cfg.Kinds {
		switch kind {
		case "log":
			all = append(all, notify.Log{Logger: logger, Evaluator: ev})
		case "event":
			all = append(all, notify.NewEvents(repos.Events, ev, clk))
		case "discord":
			d, err := notify.NewDiscord(cfg.Discord.Token, cfg.Discord.ChannelID, ev)
			if err != nil {
				return nil, err
			}
			all = append(all, d)
		default:
			return nil, fmt.Errorf("unsupported notifier %q", kind)
		}
	}

	switch len(all) {
	case 0:
		return notify.Log{Logger: logger, Evaluator: ev}, nil
	case 1:
		return all[0], nil
	default:
		return all, nil
	}
}
