// Package logx configures marketwire's structured logging.
//
// logx.Logger is a small value type on top of zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON
//   - an optional Telegram sink mirrors WARN+ lines (min-level + rate limiting)
package logx
