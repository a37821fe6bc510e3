// Package monitor ties the probe engine, the pause state and the
// notification channel together: it dispatches bot commands, runs the
// periodic website check and formats reports.
package monitor

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

const (
	CmdCheckAll      = "/check_all"
	CmdCheckAPI      = "/check_api"
	CmdCheckFrontend = "/check_frontend"
	CmdCheckCerts    = "/check_certs"
	CmdPause         = "/pause"
	CmdUnpause       = "/unpause"
)

// Replies sent to chats.
const (
	MsgAPIOK       = "✅ Api is working fine."
	MsgFrontendOK  = "✅ Frontend is working fine."
	MsgCertsOK     = "✅ Certificates are OK."
	MsgPaused      = "✅ Service is paused, if you want to resume it use the command " + CmdUnpause + "."
	MsgResumed     = "✅ Service is resumed."
	MsgReminder    = "⚠️ REMINDER\nService monitor is in pause."
	MsgDigestOK    = "✅ Scheduled digest: every check passed."
	MsgDigestPause = "⏸ Scheduled digest skipped: service monitor is in pause."
)

// Commands is the menu published with setMyCommands.
func Commands() []tele.Command {
	return []tele.Command{
		{Text: CmdCheckAll, Description: "Validate all."},
		{Text: CmdCheckAPI, Description: "Validate api."},
		{Text: CmdCheckFrontend, Description: "Validate frontend."},
		{Text: CmdCheckCerts, Description: "Validate certificates."},
		{Text: CmdPause, Description: "Pause validations."},
		{Text: CmdUnpause, Description: "Unpause validations."},
	}
}

// ExtractCommand drops an "@botname" suffix. The suffix is not validated.
func ExtractCommand(s string) string {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[:i]
	}
	return s
}
