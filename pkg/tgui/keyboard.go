package tgui

import tele "gopkg.in/telebot.v4"

// MaxCallbackData is Telegram's callback_data limit in bytes.
const MaxCallbackData = 64

// Button is one inline button. Data is sent back verbatim on press.
type Button struct {
	Text string
	Data string
}

// Keyboard lays buttons out perRow per row. It returns nil for no buttons
// so the markup can be passed to Send/Edit unconditionally.
func Keyboard(perRow int, buttons ...Button) *tele.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	if perRow <= 0 {
		perRow = 2
	}
	var rows [][]tele.InlineButton
	for i := 0; i < len(buttons); i += perRow {
		end := min(i+perRow, len(buttons))
		row := make([]tele.InlineButton, 0, end-i)
		for _, b := range buttons[i:end] {
			row = append(row, tele.InlineButton{Text: TruncRunes(b.Text, 64), Data: b.Data})
		}
		rows = append(rows, row)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}
