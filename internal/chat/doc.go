// Package chat keeps the ordered list of chat sessions shown in the sidebar
// and mirrors it into a key-value backend.
//
// A SessionStore is built once at startup and handed to whatever drives it
// (the TUI, the CLI subcommands). Every mutating call persists the full list
// before returning; subscribers are told about changes but never persist.
package chat
