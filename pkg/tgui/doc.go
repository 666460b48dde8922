// Package tgui provides small Telegram UI helpers:
//   - HTML fragments that are safe for ParseMode="HTML" (auto escaping)
//   - Inline keyboards built from (title, payload) pairs
//   - A TTL token store for callback payloads longer than Telegram allows
package tgui
