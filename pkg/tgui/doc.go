// Package tgui provides small Telegram text helpers:
//   - Safe HTML builders for ParseMode="HTML" (auto escaping)
//   - Rendering of the markdown subset used in substitution entries
//   - Rune-aware truncation and chunking for message size limits
package tgui
