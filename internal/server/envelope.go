package server

// Inbound envelope types.
const (
	TypeLogin       = "login"
	TypeCreateRoom  = "create-chat-room"
	TypeChatMessage = "chat-message"
	TypeStartTyping = "start-typing"
	TypeStopTyping  = "stop-typing"
	TypeInviteUsers = "invite-users"
	TypeLeaveRoom   = "leave-room"
)

// Outbound envelope types.
const (
	TypeLoginSuccess  = "login-success"
	TypeUpdateUsers   = "update-users"
	TypeRoomCreated   = "room-created"
	TypeRoomUpdated   = "room-updated"
	TypeSystemMessage = "system-message"
	TypeFileMessage   = "file-message"
	TypeUserTyping    = "user-typing"
)

// Envelope is the inbound tagged message. The fields of every recognized
// variant are disjoint, so a single flat struct covers all of them; the
// router validates per declared type.
type Envelope struct {
	Type          string   `json:"type"`
	Name          string   `json:"name,omitempty"`
	Participants  []string `json:"participants,omitempty"`
	RoomID        string   `json:"roomId,omitempty"`
	Content       string   `json:"content,omitempty"`
	UsersToInvite []string `json:"usersToInvite,omitempty"`
}

// User is a directory entry: an authenticated session's id and display name.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomView is the wire snapshot of a room.
type RoomView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

// FileDescriptor describes a finished upload. The relay never inspects it
// beyond relaying it inside a file-message.
type FileDescriptor struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Outbound envelopes.

type LoginSuccess struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type UpdateUsers struct {
	Type  string `json:"type"`
	Users []User `json:"users"`
}

type RoomCreated struct {
	Type string   `json:"type"`
	Room RoomView `json:"room"`
}

type RoomUpdated struct {
	Type string   `json:"type"`
	Room RoomView `json:"room"`
}

type SystemMessage struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type ChatMessage struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

type FileMessage struct {
	Type       string         `json:"type"`
	RoomID     string         `json:"roomId"`
	SenderID   string         `json:"senderId"`
	SenderName string         `json:"senderName"`
	Timestamp  int64          `json:"timestamp"`
	File       FileDescriptor `json:"file"`
}

type UserTyping struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}
