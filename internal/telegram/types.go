package telegram

import (
	"unicode/utf16"

	tele "gopkg.in/telebot.v4"
)

// KindBotCommand is the entity kind Telegram uses for "/command" spans.
const KindBotCommand = string(tele.EntityCommand)

// Update is one inbound update. Only message updates are requested, so
// Message is nil only for update kinds this service ignores.
type Update struct {
	ID      int
	Message *Message
}

type Message struct {
	ChatID   int64
	Text     string
	Entities []Entity
}

// Entity marks a span of Message.Text. Offset and Length count UTF-16 code
// units, as Telegram does.
type Entity struct {
	Kind   string
	Offset int
	Length int
}

// EntityText returns the substring of m.Text covered by e.
// It reports false if the span falls outside the text.
func (m *Message) EntityText(e Entity) (string, bool) {
	if m == nil || e.Offset < 0 || e.Length < 0 {
		return "", false
	}
	units := utf16.Encode([]rune(m.Text))
	end := e.Offset + e.Length
	if end > len(units) {
		return "", false
	}
	return string(utf16.Decode(units[e.Offset:end])), true
}

func fromTele(u tele.Update) Update {
	out := Update{ID: u.ID}
	m := u.Message
	if m == nil {
		return out
	}
	msg := &Message{Text: m.Text}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if len(m.Entities) > 0 {
		msg.Entities = make([]Entity, 0, len(m.Entities))
		for _, e := range m.Entities {
			msg.Entities = append(msg.Entities, Entity{Kind: string(e.Type), Offset: e.Offset, Length: e.Length})
		}
	}
	out.Message = msg
	return out
}
