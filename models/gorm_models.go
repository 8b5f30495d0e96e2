// models/gorm_models.go
package models

import (
	"time"
)

// GormPlayer 玩家模型
type GormPlayer struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex;size:128;not null"`
	Games     int    `gorm:"not null;default:0"`
	Wins      int    `gorm:"not null;default:0"`
	Losses    int    `gorm:"not null;default:0"`
	Draws     int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (GormPlayer) TableName() string { return "players" }

func (p *GormPlayer) Stats() *PlayerStats {
	return &PlayerStats{
		UserID:    p.UserID,
		Games:     p.Games,
		Wins:      p.Wins,
		Losses:    p.Losses,
		Draws:     p.Draws,
		UpdatedAt: p.UpdatedAt,
	}
}

// GormGameRecord 游戏记录模型
type GormGameRecord struct {
	ID        uint         `gorm:"primaryKey"`
	GameID    string       `gorm:"uniqueIndex;size:64;not null"`
	RoomID    string       `gorm:"index;size:64;not null"`
	PlayerX   string       `gorm:"index;size:128;not null"`
	PlayerO   string       `gorm:"index;size:128;not null"`
	Status    string       `gorm:"size:32;not null"`
	Winner    string       `gorm:"size:128"`
	Condition string       `gorm:"size:32"`
	Moves     []MoveRecord `gorm:"serializer:json;type:text"`
	StartedAt time.Time
	EndedAt   time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (GormGameRecord) TableName() string { return "game_records" }

func NewGormGameRecord(r *GameRecord) *GormGameRecord {
	return &GormGameRecord{
		GameID:    r.GameID,
		RoomID:    r.RoomID,
		PlayerX:   r.PlayerX,
		PlayerO:   r.PlayerO,
		Status:    r.Status,
		Winner:    r.Winner,
		Condition: r.Condition,
		Moves:     r.Moves,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
}

// GormInvitation 邀请
type GormInvitation struct {
	ID          string    `gorm:"primaryKey;size:64"`
	RoomID      string    `gorm:"index;size:64;not null"`
	InviterID   string    `gorm:"size:128;not null"`
	InviteeID   string    `gorm:"index;size:128;not null"`
	Status      string    `gorm:"size:16;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
	ExpiresAt   time.Time
	RespondedAt *time.Time
}

func (GormInvitation) TableName() string { return "invitations" }

func NewGormInvitation(inv *Invitation) *GormInvitation {
	return &GormInvitation{
		ID:          inv.ID,
		RoomID:      inv.RoomID,
		InviterID:   inv.InviterID,
		InviteeID:   inv.InviteeID,
		Status:      inv.Status,
		CreatedAt:   inv.CreatedAt,
		ExpiresAt:   inv.ExpiresAt,
		RespondedAt: inv.RespondedAt,
	}
}

func (g *GormInvitation) Invitation() Invitation {
	return Invitation{
		ID:          g.ID,
		RoomID:      g.RoomID,
		InviterID:   g.InviterID,
		InviteeID:   g.InviteeID,
		Status:      g.Status,
		CreatedAt:   g.CreatedAt,
		ExpiresAt:   g.ExpiresAt,
		RespondedAt: g.RespondedAt,
	}
}

// GormChatMessage 聊天消息
type GormChatMessage struct {
	ID          string    `gorm:"primaryKey;size:64"`
	SenderID    string    `gorm:"index;size:128;not null"`
	RecipientID string    `gorm:"index;size:128"`
	RoomID      string    `gorm:"index;size:64"`
	Body        string    `gorm:"type:text;not null"`
	SentAt      time.Time `gorm:"index"`
}

func (GormChatMessage) TableName() string { return "chat_messages" }

func NewGormChatMessage(m *ChatMessage) *GormChatMessage {
	return &GormChatMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		RoomID:      m.RoomID,
		Body:        m.Body,
		SentAt:      m.SentAt,
	}
}

func (g *GormChatMessage) Message() ChatMessage {
	return ChatMessage{
		ID:          g.ID,
		SenderID:    g.SenderID,
		RecipientID: g.RecipientID,
		RoomID:      g.RoomID,
		Body:        g.Body,
		SentAt:      g.SentAt,
	}
}
