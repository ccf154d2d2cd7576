package lib

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/nbd-wtf/go-nostr"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config contains runtime configuration loaded from environment variables.
type Config struct {
	StoreDriver  string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL  string `env:"DATABASE_URL"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"clanhall.db"`
	RelayPubKey  string `env:"RELAY_PUBKEY"`
	RelayPrivKey string `env:"RELAY_PRIVKEY"`
	HTTPAddr     string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"INFO"`

	ClanSize         int      `env:"CLAN_SIZE" envDefault:"20"`
	MemberScore      int      `env:"RANK_MEMBER_SCORE" envDefault:"1"`
	KillScore        int      `env:"RANK_KILL_SCORE" envDefault:"2"`
	SpecialKillScore int      `env:"RANK_SPECIAL_KILL_SCORE" envDefault:"10"`
	ClanZones        []string `env:"CLAN_ZONES" envDefault:"world" envSeparator:","`
	ClanTagFormat    string   `env:"CLAN_TAG_FORMAT" envDefault:"[%s] "`
	SpecialKillEvent string   `env:"SPECIAL_KILL_EVENT" envDefault:"dragon.slay"`

	CombatWindow time.Duration `env:"COMBAT_WINDOW" envDefault:"10s"`
	NoticeDelay  time.Duration `env:"NOTICE_DELAY" envDefault:"3s"`

	InviteBurst     int `env:"INVITE_BURST" envDefault:"5"`
	InvitePerMinute int `env:"INVITE_PER_MIN" envDefault:"10"`
	Workers         int `env:"WORKERS" envDefault:"8"`
	FeedBacklog     int `env:"FEED_BACKLOG" envDefault:"1000"`
}

func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.RelayPubKey = strings.ToLower(strings.TrimSpace(cfg.RelayPubKey))
	cfg.RelayPrivKey = strings.ToLower(strings.TrimSpace(cfg.RelayPrivKey))
	cfg.ClanZones = trimList(cfg.ClanZones)

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return Config{}, fmt.Errorf("SQLITE_PATH is required")
		}
	default:
		return Config{}, fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverSQLite)
	}

	if cfg.RelayPrivKey == "" {
		return Config{}, fmt.Errorf("RELAY_PRIVKEY is required")
	}
	derivedPubKey, err := nostr.GetPublicKey(cfg.RelayPrivKey)
	if err != nil {
		return Config{}, fmt.Errorf("RELAY_PRIVKEY is invalid: %w", err)
	}
	derivedPubKey = strings.ToLower(strings.TrimSpace(derivedPubKey))
	if cfg.RelayPubKey == "" {
		cfg.RelayPubKey = derivedPubKey
	}
	if !strings.EqualFold(cfg.RelayPubKey, derivedPubKey) {
		return Config{}, fmt.Errorf("RELAY_PUBKEY does not match RELAY_PRIVKEY")
	}

	if cfg.ClanSize < 3 {
		return Config{}, fmt.Errorf("CLAN_SIZE must be >= 3")
	}
	if len(cfg.ClanZones) == 0 {
		return Config{}, fmt.Errorf("CLAN_ZONES must name at least one zone")
	}
	if !strings.Contains(cfg.ClanTagFormat, "%s") {
		return Config{}, fmt.Errorf("CLAN_TAG_FORMAT must contain %%s")
	}
	if cfg.CombatWindow <= 0 {
		return Config{}, fmt.Errorf("COMBAT_WINDOW must be > 0")
	}
	if cfg.NoticeDelay < 0 {
		return Config{}, fmt.Errorf("NOTICE_DELAY must be >= 0")
	}
	if cfg.InviteBurst <= 0 {
		return Config{}, fmt.Errorf("INVITE_BURST must be > 0")
	}
	if cfg.InvitePerMinute <= 0 {
		return Config{}, fmt.Errorf("INVITE_PER_MIN must be > 0")
	}
	if cfg.Workers <= 0 {
		return Config{}, fmt.Errorf("WORKERS must be > 0")
	}
	if cfg.FeedBacklog <= 0 {
		return Config{}, fmt.Errorf("FEED_BACKLOG must be > 0")
	}

	return cfg, nil
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
