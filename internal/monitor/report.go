package monitor

import (
	"context"
	"strings"
	"svcmon/internal/probe"
	"svcmon/internal/telegram"
)

// Sender delivers text to chats; nil or empty chatIDs means the default
// groups. *telegram.Client implements it.
type Sender interface {
	Send(ctx context.Context, text string, chatIDs []int64) error
}

// FormatReport renders one line per failure, each followed by "\n", or
// fallback when the report is empty.
func FormatReport(report probe.Report, fallback string) string {
	if len(report) == 0 {
		return fallback
	}
	var b strings.Builder
	for _, line := range report {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Reporter is the single place outbound monitor text is escaped.
type Reporter struct {
	sender Sender
}

func NewReporter(sender Sender) *Reporter { return &Reporter{sender: sender} }

// Handle sends the report.
//
// With a success message exactly one message goes out: the failures, or the
// success message when there are none. Without one (success == "") an empty
// report sends nothing, which keeps the unattended loop quiet.
func (r *Reporter) Handle(ctx context.Context, report probe.Report, success string, chatIDs []int64) error {
	if success == "" && len(report) == 0 {
		return nil
	}
	return r.Notify(ctx, FormatReport(report, success), chatIDs)
}

// Notify escapes text and sends it.
func (r *Reporter) Notify(ctx context.Context, text string, chatIDs []int64) error {
	return r.sender.Send(ctx, telegram.EscapeMarkdown(text), chatIDs)
}
