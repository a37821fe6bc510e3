package app

import (
	"context"
	"svcmon/internal/monitor"
	"svcmon/internal/telegram"
	logx "svcmon/pkg/logx"
)

// Channel is the notification channel shared by the loops and the webhook.
// *telegram.Client implements it; a Channel that also implements
// monitor.CommandMenu gets the bot command list published at startup.
type Channel interface {
	monitor.UpdateSource
	monitor.Sender
}

// logChannel stands in when telegram is disabled: sends are logged and no
// updates ever arrive.
type logChannel struct {
	log logx.Logger
}

func (c logChannel) Send(_ context.Context, text string, chatIDs []int64) error {
	c.log.Info("notification (telegram disabled)", logx.Int64s("chat_ids", chatIDs), logx.String("text", text))
	return nil
}

func (logChannel) FetchNewUpdates(context.Context) ([]telegram.Update, error) { return nil, nil }

func (logChannel) DrainPending(context.Context) int { return 0 }
