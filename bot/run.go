package bot

import (
	"context"
)

// Run opens the bot and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Open(ctx); err != nil {
		return err
	}
	b.log.Info("bot is now running")
	<-ctx.Done()
	b.Close()
	return nil
}
