package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"clanhall/src/models"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS clans (
	code          TEXT PRIMARY KEY,
	leader        TEXT NOT NULL,
	motd          TEXT NOT NULL DEFAULT '',
	kills         INTEGER NOT NULL DEFAULT 0,
	deaths        INTEGER NOT NULL DEFAULT 0,
	special_kills INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS clan_members (
	member    TEXT PRIMARY KEY,
	code      TEXT NOT NULL,
	joined_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clan_members_code ON clan_members (code);

CREATE TABLE IF NOT EXISTS clan_invites (
	code   TEXT NOT NULL,
	player TEXT NOT NULL,
	PRIMARY KEY (code, player)
);

CREATE INDEX IF NOT EXISTS idx_clan_invites_player ON clan_invites (player);
`

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLiteStore is the embedded clan store used for single-node deployments
// and local development.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; avoids SQLITE_BUSY under concurrent callers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadClans(ctx context.Context) ([]models.Clan, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteStore) LoadRosters(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteStore) LoadInvites(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteStore) UpsertClan(ctx context.Context, clan models.Clan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clans (code, leader, motd, kills, deaths, special_kills, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO NOTHING
	`, clan.Code, clan.Leader, clan.Motd, clan.Kills, clan.Deaths, clan.SpecialKills, clan.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert clan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteClan(ctx context.Context, code string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clans WHERE code = ?`, code); err != nil {
		return fmt.Errorf("delete clan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateMotd(ctx context.Context, code, motd string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE clans SET motd = ? WHERE code = ?`, motd, code); err != nil {
		return fmt.Errorf("update clan motd: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateCounter(ctx context.Context, code string, counter models.Counter, value int) error {
	column, err := counterColumn(counter)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE clans SET %s = ? WHERE code = ?`, column)
	if _, err := s.db.ExecContext(ctx, query, value, code); err != nil {
		return fmt.Errorf("update clan %s: %w", column, err)
	}
	return nil
}

func (s *SQLiteStore) SetLeader(ctx context.Context, code, leader string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE clans SET leader = ? WHERE code = ?`, leader, code); err != nil {
		return fmt.Errorf("set clan leader: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertMembership(ctx context.Context, membership models.Membership) error {
	return insertMembershipSQL(ctx, s.db, membership)
}

func insertMembershipSQL(ctx context.Context, db sqlExecer, membership models.Membership) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO clan_members (member, code, joined_at)
		VALUES (?, ?, ?)
	`, membership.Member, membership.Code, membership.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert clan member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteMembership(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clan_members WHERE member = ?`, identity); err != nil {
		return fmt.Errorf("delete clan member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAllMemberships(ctx context.Context, code string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clan_members WHERE code = ?`, code); err != nil {
		return fmt.Errorf("delete clan roster: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertInvite(ctx context.Context, invite models.Invite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clan_invites (code, player)
		VALUES (?, ?)
		ON CONFLICT (code, player) DO NOTHING
	`, invite.Code, invite.Player)
	if err != nil {
		return fmt.Errorf("insert clan invite: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteInvite(ctx context.Context, invite models.Invite) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM clan_invites WHERE code = ? AND player = ?
	`, invite.Code, invite.Player)
	if err != nil {
		return fmt.Errorf("delete clan invite: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAllInvitesFor(ctx context.Context, identity string) error {
	return deleteInvitesForSQL(ctx, s.db, identity)
}

func deleteInvitesForSQL(ctx context.Context, db sqlExecer, identity string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM clan_invites WHERE player = ?`, identity); err != nil {
		return fmt.Errorf("delete player invites: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAllInvitesForClan(ctx context.Context, code string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clan_invites WHERE code = ?`, code); err != nil {
		return fmt.Errorf("delete clan invites: %w", err)
	}
	return nil
}

func (s *SQLiteStore) JoinedAt(ctx context.Context, identity string) (int64, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT joined_at FROM clan_members WHERE member = ?`, identity)

	var joinedAt int64
	if err := row.Scan(&joinedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("scan member joined_at: %w", err)
	}
	return joinedAt, true, nil
}

func (s *SQLiteStore) FoundClan(ctx context.Context, clan models.Clan, members []models.Membership) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO clans (code, leader, motd, kills, deaths, special_kills, created_at)
			VALUES (?, ?, ?, 0, 0, 0, ?)
			ON CONFLICT (code) DO NOTHING
		`, clan.Code, clan.Leader, clan.Motd, clan.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert founded clan: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("insert founded clan: code %s already stored", clan.Code)
		}
		for _, member := range members {
			if err := deleteInvitesForSQL(ctx, tx, member.Member); err != nil {
				return err
			}
			if err := insertMembershipSQL(ctx, tx, member); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) DisbandClan(ctx context.Context, code string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM clan_invites WHERE code = ?`, code); err != nil {
			return fmt.Errorf("delete clan invites: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM clan_members WHERE code = ?`, code); err != nil {
			return fmt.Errorf("delete clan roster: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM clans WHERE code = ?`, code); err != nil {
			return fmt.Errorf("delete clan: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
