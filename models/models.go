// models/models.go
package models

import (
	"time"
)

// Game outcomes from one player's point of view.
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
	OutcomeDraw = "draw"
	OutcomeNone = "none"
)

// GameRecord 游戏记录模型
type GameRecord struct {
	GameID    string       `json:"gameId"`
	RoomID    string       `json:"roomId"`
	PlayerX   string       `json:"playerX"`
	PlayerO   string       `json:"playerO"`
	Status    string       `json:"status"`
	Winner    string       `json:"winner,omitempty"` // user id
	Condition string       `json:"condition,omitempty"`
	Moves     []MoveRecord `json:"moves"`
	StartedAt time.Time    `json:"startedAt"`
	EndedAt   time.Time    `json:"endedAt"`
	// RatedPlayers are the users whose stats this game updates.
	RatedPlayers []string `json:"-"`
}

type MoveRecord struct {
	Seq      int       `json:"seq"`
	Mark     string    `json:"mark"`
	UserID   string    `json:"userId"`
	Position int       `json:"position"`
	At       time.Time `json:"at"`
}

// Outcome reports how the game ended for userID.
func (r *GameRecord) Outcome(userID string) string {
	switch {
	case r.Winner == userID:
		return OutcomeWin
	case r.Winner != "":
		return OutcomeLoss
	case r.Status == "drawn":
		return OutcomeDraw
	default:
		return OutcomeNone
	}
}

// PlayerStats 玩家统计信息
type PlayerStats struct {
	UserID    string    `json:"userId"`
	Games     int       `json:"games"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Draws     int       `json:"draws"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Invitation struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"roomId"`
	InviterID   string     `json:"inviterId"`
	InviteeID   string     `json:"inviteeId"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
}

// ChatMessage is either direct (RecipientID set) or room-scoped (RoomID set).
type ChatMessage struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId,omitempty"`
	RoomID      string    `json:"roomId,omitempty"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sentAt"`
}

// ChatQuery selects a conversation: a room's history when RoomID is set,
// otherwise the direct messages between UserID and PeerID.
type ChatQuery struct {
	UserID string
	PeerID string
	RoomID string
	Before time.Time
	Limit  int
}
