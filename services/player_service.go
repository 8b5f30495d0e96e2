// services/player_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/xoserver/game"
	"github.com/wfunc/xoserver/models"
	"github.com/wfunc/xoserver/persistence"
	"github.com/wfunc/xoserver/room"
)

type PlayerService struct {
	db persistence.Database
}

func NewPlayerService(db persistence.Database) *PlayerService {
	return &PlayerService{db: db}
}

// NewGameRecord converts a terminal game into its archive row. The AI
// seat is never rated.
func NewGameRecord(g *game.Game) (*models.GameRecord, error) {
	if !g.Status.Terminal() {
		return nil, fmt.Errorf("game %s is still in progress", g.ID)
	}
	rec := &models.GameRecord{
		GameID:    g.ID,
		RoomID:    g.RoomID,
		PlayerX:   g.PlayerX,
		PlayerO:   g.PlayerO,
		Status:    string(g.Status),
		Winner:    g.UserOf(g.Winner),
		Condition: string(g.Condition),
		Moves:     make([]models.MoveRecord, 0, len(g.Moves)),
		StartedAt: g.CreatedAt,
		EndedAt:   g.EndedAt,
	}
	for _, mv := range g.Moves {
		rec.Moves = append(rec.Moves, models.MoveRecord{
			Seq:      mv.Seq,
			Mark:     mv.Player.String(),
			UserID:   mv.UserID,
			Position: mv.Position,
			At:       mv.At,
		})
	}
	for _, userID := range []string{g.PlayerX, g.PlayerO} {
		if userID != room.AIUserID {
			rec.RatedPlayers = append(rec.RatedPlayers, userID)
		}
	}
	return rec, nil
}

// RecordGame 保存对局并更新双方战绩
func (s *PlayerService) RecordGame(ctx context.Context, g *game.Game) error {
	rec, err := NewGameRecord(g)
	if err != nil {
		return err
	}
	if err := s.db.SaveGameRecord(ctx, rec); err != nil {
		return fmt.Errorf("save game %s: %w", g.ID, err)
	}
	return nil
}

// GetPlayerWithStats 获取玩家统计，没有记录时返回全零
func (s *PlayerService) GetPlayerWithStats(ctx context.Context, userID string) (*models.PlayerStats, error) {
	stats, err := s.db.GetPlayerStats(ctx, userID)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return &models.PlayerStats{UserID: userID}, nil
	}
	return stats, err
}
