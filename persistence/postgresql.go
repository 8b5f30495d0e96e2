// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"

	"github.com/wfunc/xoserver/config"
	"github.com/wfunc/xoserver/models"
)

// PostgreSQL 数据库实现 (database/sql + lib/pq)，表结构与 GormStore 相同
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(cfg config.PostgresConfig) (*PostgreSQL, error) {
	return NewPostgreSQLFromDSN(cfg.PostgresDSN())
}

func NewPostgreSQLFromDSN(dsn string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS players (
            id BIGSERIAL PRIMARY KEY,
            user_id VARCHAR(128) UNIQUE NOT NULL,
            games BIGINT NOT NULL DEFAULT 0,
            wins BIGINT NOT NULL DEFAULT 0,
            losses BIGINT NOT NULL DEFAULT 0,
            draws BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS game_records (
            id BIGSERIAL PRIMARY KEY,
            game_id VARCHAR(64) UNIQUE NOT NULL,
            room_id VARCHAR(64) NOT NULL,
            player_x VARCHAR(128) NOT NULL,
            player_o VARCHAR(128) NOT NULL,
            status VARCHAR(32) NOT NULL,
            winner VARCHAR(128),
            condition VARCHAR(32),
            moves TEXT,
            started_at TIMESTAMPTZ,
            ended_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS invitations (
            id VARCHAR(64) PRIMARY KEY,
            room_id VARCHAR(64) NOT NULL,
            inviter_id VARCHAR(128) NOT NULL,
            invitee_id VARCHAR(128) NOT NULL,
            status VARCHAR(16) NOT NULL,
            created_at TIMESTAMPTZ,
            expires_at TIMESTAMPTZ,
            responded_at TIMESTAMPTZ
        )`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
            id VARCHAR(64) PRIMARY KEY,
            sender_id VARCHAR(128) NOT NULL,
            recipient_id VARCHAR(128),
            room_id VARCHAR(64),
            body TEXT NOT NULL,
            sent_at TIMESTAMPTZ
        )`,
		// 创建索引以提高查询性能
		`CREATE INDEX IF NOT EXISTS idx_game_records_room_id ON game_records(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_game_records_ended_at ON game_records(ended_at)`,
		`CREATE INDEX IF NOT EXISTS idx_invitations_invitee_id ON invitations(invitee_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_room_id ON chat_messages(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_sender_id ON chat_messages(sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_sent_at ON chat_messages(sent_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveGameRecord 保存游戏记录
func (p *PostgreSQL) SaveGameRecord(ctx context.Context, record *models.GameRecord) error {
	moves, err := json.Marshal(record.Moves)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO game_records (game_id, room_id, player_x, player_o, status, winner, condition, moves, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (game_id) DO NOTHING
    `, record.GameID, record.RoomID, record.PlayerX, record.PlayerO, record.Status,
		record.Winner, record.Condition, string(moves), record.StartedAt, record.EndedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return tx.Commit()
	}

	// 使用 UPSERT 操作 (PostgreSQL 9.5+)
	for _, userID := range record.RatedPlayers {
		wins, losses, draws := statDeltas(record.Outcome(userID))
		_, err := tx.ExecContext(ctx, `
            INSERT INTO players (user_id, games, wins, losses, draws)
            VALUES ($1, 1, $2, $3, $4)
            ON CONFLICT (user_id)
            DO UPDATE SET games = players.games + 1,
                wins = players.wins + EXCLUDED.wins,
                losses = players.losses + EXCLUDED.losses,
                draws = players.draws + EXCLUDED.draws,
                updated_at = CURRENT_TIMESTAMP
        `, userID, wins, losses, draws)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgreSQL) GetPlayerStats(ctx context.Context, userID string) (*models.PlayerStats, error) {
	stats := models.PlayerStats{UserID: userID}
	err := p.db.QueryRowContext(ctx,
		`SELECT games, wins, losses, draws, updated_at FROM players WHERE user_id = $1`, userID,
	).Scan(&stats.Games, &stats.Wins, &stats.Losses, &stats.Draws, &stats.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &stats, nil
}

func (p *PostgreSQL) SaveInvitation(ctx context.Context, inv *models.Invitation) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO invitations (id, room_id, inviter_id, invitee_id, status, created_at, expires_at, responded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id)
        DO UPDATE SET status = EXCLUDED.status, responded_at = EXCLUDED.responded_at
    `, inv.ID, inv.RoomID, inv.InviterID, inv.InviteeID, inv.Status, inv.CreatedAt, inv.ExpiresAt, inv.RespondedAt)
	return err
}

func (p *PostgreSQL) SaveChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO chat_messages (id, sender_id, recipient_id, room_id, body, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, msg.ID, msg.SenderID, msg.RecipientID, msg.RoomID, msg.Body, msg.SentAt)
	return err
}

func (p *PostgreSQL) ChatHistory(ctx context.Context, q models.ChatQuery) ([]models.ChatMessage, error) {
	before := q.Before
	if before.IsZero() {
		before = time.Now().Add(time.Hour)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if q.RoomID != "" {
		rows, err = p.db.QueryContext(ctx, `
            SELECT id, sender_id, recipient_id, room_id, body, sent_at FROM chat_messages
            WHERE room_id = $1 AND sent_at < $2
            ORDER BY sent_at DESC LIMIT $3
        `, q.RoomID, before, historyLimit(q.Limit))
	} else {
		rows, err = p.db.QueryContext(ctx, `
            SELECT id, sender_id, recipient_id, room_id, body, sent_at FROM chat_messages
            WHERE room_id = '' AND sent_at < $3
              AND ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
            ORDER BY sent_at DESC LIMIT $4
        `, q.UserID, q.PeerID, before, historyLimit(q.Limit))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.RoomID, &m.Body, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
