package wire

import (
	"encoding/json"
	"fmt"

	"uk.co.dudmesh.courier/internal/model"
)

// Frame types. Every frame on the wire is a JSON object carrying at
// least a "type" field; the remaining fields depend on the type.
const (
	TypeAuth                = "auth"
	TypeAuthSuccess         = "auth_success"
	TypeMessage             = "message"
	TypeMessageConfirmation = "message_confirmation"
	TypeMessageHistory      = "message_history"
	TypeTyping              = "typing"
	TypeUserList            = "user_list"
	TypeError               = "error"
)

// Close codes for non-normal closure during or before the handshake.
const (
	CloseAuthTimeout  = 4001
	CloseUserNotFound = 4002
	CloseAuthFailed   = 4003
	CloseUnauthorized = 4004
)

// Envelope is the decoded shape of an inbound frame. Only the fields
// relevant to the tagged type are populated.
type Envelope struct {
	Type        string       `json:"type"`
	Token       string       `json:"token,omitempty"`
	RecipientID model.UserID `json:"recipientId,omitempty"`
	Content     string       `json:"content,omitempty"`
	AuxData     string       `json:"auxData,omitempty"`
	IsTyping    bool         `json:"isTyping"`
}

func Decode(data []byte) (*Envelope, error) {
	envelope := &Envelope{}
	if err := json.Unmarshal(data, envelope); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("frame has no type tag")
	}
	return envelope, nil
}

type AuthSuccess struct {
	Type string   `json:"type"`
	User UserInfo `json:"user"`
}

type UserInfo struct {
	ID          model.UserID `json:"id"`
	DisplayName string       `json:"displayName"`
}

func NewAuthSuccess(user *model.User) *AuthSuccess {
	return &AuthSuccess{
		Type: TypeAuthSuccess,
		User: UserInfo{ID: user.ID, DisplayName: user.DisplayName},
	}
}

// MessageFrame is the server-to-client rendering of a stored message.
type MessageFrame struct {
	Type string `json:"type"`
	model.Message
}

func NewMessageFrame(message *model.Message) *MessageFrame {
	return &MessageFrame{Type: TypeMessage, Message: *message}
}

type MessageConfirmation struct {
	Type        string              `json:"type"`
	MessageID   model.MessageID     `json:"messageId"`
	RecipientID model.UserID        `json:"recipientId"`
	Status      model.MessageStatus `json:"status"`
}

func NewMessageConfirmation(message *model.Message) *MessageConfirmation {
	return &MessageConfirmation{
		Type:        TypeMessageConfirmation,
		MessageID:   message.ID,
		RecipientID: message.RecipientID,
		Status:      message.Status,
	}
}

// MessageHistory carries every conversation the identity participates
// in, keyed by counterpart id, each ordered by creation time ascending.
type MessageHistory struct {
	Type          string                           `json:"type"`
	Conversations map[model.UserID][]model.Message `json:"conversations"`
}

func NewMessageHistory(conversations map[model.UserID][]model.Message) *MessageHistory {
	return &MessageHistory{Type: TypeMessageHistory, Conversations: conversations}
}

type TypingFrame struct {
	Type        string       `json:"type"`
	SenderID    model.UserID `json:"senderId"`
	RecipientID model.UserID `json:"recipientId"`
	IsTyping    bool         `json:"isTyping"`
}

type UserList struct {
	Type  string              `json:"type"`
	Users []model.RosterEntry `json:"users"`
}

func NewUserList(users []model.RosterEntry) *UserList {
	return &UserList{Type: TypeUserList, Users: users}
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) *ErrorFrame {
	return &ErrorFrame{Type: TypeError, Message: message}
}
