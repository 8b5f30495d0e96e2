// services/chat_service.go
package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wfunc/xoserver/apperr"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/models"
	"github.com/wfunc/xoserver/persistence"
)

// ChatService 聊天服务。db 为 nil 时只校验不存储
type ChatService struct {
	db        persistence.Database
	maxLength int
	now       func() time.Time
}

func NewChatService(db persistence.Database, maxLength int) *ChatService {
	return &ChatService{db: db, maxLength: maxLength, now: time.Now}
}

// Post validates a chat line and stores it. Exactly one of recipientID and
// roomID must be set. A storage failure is logged and the message is still
// returned for delivery.
func (s *ChatService) Post(ctx context.Context, senderID, recipientID, roomID, body string) (models.ChatMessage, error) {
	body = strings.TrimSpace(body)
	switch {
	case body == "":
		return models.ChatMessage{}, apperr.Wrap(apperr.ErrInvalidInput, "empty message")
	case s.maxLength > 0 && utf8.RuneCountInString(body) > s.maxLength:
		return models.ChatMessage{}, apperr.Wrap(apperr.ErrInvalidInput, "message longer than %d characters", s.maxLength)
	case (recipientID == "") == (roomID == ""):
		return models.ChatMessage{}, apperr.Wrap(apperr.ErrInvalidInput, "chat needs either toUserId or roomId")
	case recipientID == senderID:
		return models.ChatMessage{}, apperr.Wrap(apperr.ErrInvalidInput, "cannot message yourself")
	}

	msg := models.ChatMessage{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		RoomID:      roomID,
		Body:        body,
		SentAt:      s.now(),
	}
	if s.db != nil {
		if err := s.db.SaveChatMessage(ctx, &msg); err != nil {
			logger.Log.Errorw("save chat message", "id", msg.ID, "sender", senderID, "error", err)
		}
	}
	return msg, nil
}

// History 查询聊天记录
func (s *ChatService) History(ctx context.Context, q models.ChatQuery) ([]models.ChatMessage, error) {
	if q.RoomID == "" && (q.UserID == "" || q.PeerID == "") {
		return nil, apperr.Wrap(apperr.ErrInvalidInput, "history needs a room or a peer")
	}
	if s.db == nil {
		return []models.ChatMessage{}, nil
	}
	return s.db.ChatHistory(ctx, q)
}
