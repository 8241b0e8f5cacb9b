// Package transport defines the chat platform boundary. Core code talks to
// an Adapter; adapters live in subpackages.
package transport

import "context"

// Message is an incoming chat message.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Update struct {
	Message *Message
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error

	// CanBroadcast reports whether the bot may send a chat-wide mention
	// to chat.
	CanBroadcast(ctx context.Context, chat int64) (bool, error)
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters with a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// Reactor is implemented by adapters that can react to a sent message.
type Reactor interface {
	React(ctx context.Context, ref MessageRef, emoji string) error
}
