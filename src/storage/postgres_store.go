package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"clanhall/src/models"
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the durable clan store backed by a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) LoadClans(ctx context.Context) ([]models.Clan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, leader, motd, kills, deaths, special_kills, created_at
		FROM clans
		ORDER BY code ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query clans: %w", err)
	}
	defer rows.Close()

	clans := make([]models.Clan, 0)
	for rows.Next() {
		var clan models.Clan
		if err := rows.Scan(&clan.Code, &clan.Leader, &clan.Motd, &clan.Kills, &clan.Deaths,
			&clan.SpecialKills, &clan.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan clan row: %w", err)
		}
		clans = append(clans, clan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clan rows: %w", err)
	}
	return clans, nil
}

func (s *PostgresStore) LoadRosters(ctx context.Context) (map[string][]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, member
		FROM clan_members
		ORDER BY code ASC, joined_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query clan members: %w", err)
	}
	defer rows.Close()

	rosters := make(map[string][]string)
	for rows.Next() {
		var code, member string
		if err := rows.Scan(&code, &member); err != nil {
			return nil, fmt.Errorf("scan clan member row: %w", err)
		}
		rosters[code] = append(rosters[code], member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clan members: %w", err)
	}
	return rosters, nil
}

func (s *PostgresStore) LoadInvites(ctx context.Context) (map[string][]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player, code
		FROM clan_invites
		ORDER BY player ASC, code ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query clan invites: %w", err)
	}
	defer rows.Close()

	invites := make(map[string][]string)
	for rows.Next() {
		var player, code string
		if err := rows.Scan(&player, &code); err != nil {
			return nil, fmt.Errorf("scan clan invite row: %w", err)
		}
		invites[player] = append(invites[player], code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clan invites: %w", err)
	}
	return invites, nil
}

func (s *PostgresStore) UpsertClan(ctx context.Context, clan models.Clan) error {
	return upsertClanPG(ctx, s.pool, clan)
}

func upsertClanPG(ctx context.Context, db execer, clan models.Clan) error {
	_, err := db.Exec(ctx, `
		INSERT INTO clans (code, leader, motd, kills, deaths, special_kills, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO NOTHING
	`, clan.Code, clan.Leader, clan.Motd, clan.Kills, clan.Deaths, clan.SpecialKills, clan.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert clan: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteClan(ctx context.Context, code string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM clans WHERE code = $1`, code); err != nil {
		return fmt.Errorf("delete clan: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMotd(ctx context.Context, code, motd string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE clans SET motd = $2 WHERE code = $1`, code, motd); err != nil {
		return fmt.Errorf("update clan motd: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCounter(ctx context.Context, code string, counter models.Counter, value int) error {
	column, err := counterColumn(counter)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE clans SET %s = $2 WHERE code = $1`, column)
	if _, err := s.pool.Exec(ctx, query, code, value); err != nil {
		return fmt.Errorf("update clan %s: %w", column, err)
	}
	return nil
}

func (s *PostgresStore) SetLeader(ctx context.Context, code, leader string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE clans SET leader = $2 WHERE code = $1`, code, leader); err != nil {
		return fmt.Errorf("set clan leader: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertMembership(ctx context.Context, membership models.Membership) error {
	return insertMembershipPG(ctx, s.pool, membership)
}

func insertMembershipPG(ctx context.Context, db execer, membership models.Membership) error {
	_, err := db.Exec(ctx, `
		INSERT INTO clan_members (member, code, joined_at)
		VALUES ($1, $2, $3)
	`, membership.Member, membership.Code, membership.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert clan member: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMembership(ctx context.Context, identity string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM clan_members WHERE member = $1`, identity); err != nil {
		return fmt.Errorf("delete clan member: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAllMemberships(ctx context.Context, code string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM clan_members WHERE code = $1`, code); err != nil {
		return fmt.Errorf("delete clan roster: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertInvite(ctx context.Context, invite models.Invite) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clan_invites (code, player)
		VALUES ($1, $2)
		ON CONFLICT (code, player) DO NOTHING
	`, invite.Code, invite.Player)
	if err != nil {
		return fmt.Errorf("insert clan invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteInvite(ctx context.Context, invite models.Invite) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM clan_invites WHERE code = $1 AND player = $2
	`, invite.Code, invite.Player)
	if err != nil {
		return fmt.Errorf("delete clan invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAllInvitesFor(ctx context.Context, identity string) error {
	return deleteInvitesForPG(ctx, s.pool, identity)
}

func deleteInvitesForPG(ctx context.Context, db execer, identity string) error {
	if _, err := db.Exec(ctx, `DELETE FROM clan_invites WHERE player = $1`, identity); err != nil {
		return fmt.Errorf("delete player invites: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAllInvitesForClan(ctx context.Context, code string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM clan_invites WHERE code = $1`, code); err != nil {
		return fmt.Errorf("delete clan invites: %w", err)
	}
	return nil
}

func (s *PostgresStore) JoinedAt(ctx context.Context, identity string) (int64, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT joined_at FROM clan_members WHERE member = $1`, identity)

	var joinedAt int64
	if err := row.Scan(&joinedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("scan member joined_at: %w", err)
	}
	return joinedAt, true, nil
}

// FoundClan inserts a clan, its founding roster and clears the founders'
// invitations in one transaction.
func (s *PostgresStore) FoundClan(ctx context.Context, clan models.Clan, members []models.Membership) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO clans (code, leader, motd, kills, deaths, special_kills, created_at)
			VALUES ($1, $2, $3, 0, 0, 0, $4)
			ON CONFLICT (code) DO NOTHING
		`, clan.Code, clan.Leader, clan.Motd, clan.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert founded clan: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("insert founded clan: code %s already stored", clan.Code)
		}
		for _, member := range members {
			if err := deleteInvitesForPG(ctx, tx, member.Member); err != nil {
				return err
			}
			if err := insertMembershipPG(ctx, tx, member); err != nil {
				return err
			}
		}
		return nil
	})
}

// DisbandClan removes a clan together with its roster and invitations.
func (s *PostgresStore) DisbandClan(ctx context.Context, code string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM clan_invites WHERE code = $1`, code); err != nil {
			return fmt.Errorf("delete clan invites: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM clan_members WHERE code = $1`, code); err != nil {
			return fmt.Errorf("delete clan roster: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM clans WHERE code = $1`, code); err != nil {
			return fmt.Errorf("delete clan: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
