package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	"github.com/mattn/go-sqlite3"
)

// --- Phase 1: Configuration & Environment ---

type Config struct {
	Token             string
	GuildID           string
	DatabasePath      string
	OwnerIDs          []string
	Silent            bool
	PendingTTL        time.Duration
	ProfileStaleAfter time.Duration
	CommandInterval   time.Duration
	CommandBurst      int
	MetricsAddr       string
}

const (
	defaultPendingTTL        = 14 * time.Minute
	defaultProfileStaleAfter = 30 * 24 * time.Hour
	defaultCommandInterval   = 3 * time.Second
	defaultCommandBurst      = 3
)

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))

	var ownerIDs []string
	if ownerIDsStr := os.Getenv("OWNER_IDS"); ownerIDsStr != "" {
		ownerIDs = strings.Split(ownerIDsStr, ",")
		for i := range ownerIDs {
			ownerIDs[i] = strings.TrimSpace(ownerIDs[i])
		}
	}

	pendingTTL, err := envDuration("PENDING_TTL", defaultPendingTTL)
	if err != nil {
		return nil, err
	}
	staleAfter, err := envDuration("PROFILE_STALE_AFTER", defaultProfileStaleAfter)
	if err != nil {
		return nil, err
	}
	cmdInterval, err := envDuration("COMMAND_RATE", defaultCommandInterval)
	if err != nil {
		return nil, err
	}

	burst := defaultCommandBurst
	if b := os.Getenv("COMMAND_BURST"); b != "" {
		if burst = Atoi(b); burst <= 0 {
			return nil, fmt.Errorf("invalid COMMAND_BURST: %q", b)
		}
	}

	cfg := &Config{
		Token:             os.Getenv("DISCORD_TOKEN"),
		GuildID:           os.Getenv("GUILD_ID"),
		DatabasePath:      dbPath,
		OwnerIDs:          ownerIDs,
		Silent:            silent,
		PendingTTL:        pendingTTL,
		ProfileStaleAfter: staleAfter,
		CommandInterval:   cmdInterval,
		CommandBurst:      burst,
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}
	return nil
}

// IsOwner reports whether userID is listed in OWNER_IDS. An empty list allows everyone.
func (c *Config) IsOwner(userID snowflake.ID) bool {
	if len(c.OwnerIDs) == 0 {
		return true
	}
	id := userID.String()
	for _, owner := range c.OwnerIDs {
		if owner == id {
			return true
		}
	}
	return false
}

// envDuration reads a duration like "90s", "14m" or "720h". Unset falls back to def, "0" disables.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def, nil
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf(MsgConfigBadDuration, key, err)
	}
	return d, nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "bot"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") || strings.HasSuffix(projectName, ".test") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}

// --- Phase 2: Database Connection & Lifecycle ---

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	db, err := openDatabase(ctx, dataSourceName)
	if err != nil {
		return err
	}
	DB = db
	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

// openDatabase opens the sqlite file, applies pragmas and brings the schema up to date.
func openDatabase(ctx context.Context, dataSourceName string) (*sql.DB, error) {
	// The driver registers itself via its init() function
	_ = sqlite3.SQLiteDriver{}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := db.ExecContext(initCtx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	if err := migrate(initCtx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS physique_profiles (
			user_id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			weight REAL,
			height REAL,
			age INTEGER,
			sex TEXT,
			activity TEXT,
			training_days INTEGER,
			session_minutes INTEGER,
			intensity TEXT,
			consent INTEGER,
			updated_at DATETIME NOT NULL
		)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	migrations := []string{
		"ALTER TABLE physique_profiles ADD COLUMN tef REAL",
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}
	}
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Phase 3: Infrastructure & Bot Persistence ---

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Phase 4: Application Logic (Physique Profiles) ---

// SQLProfileStore persists physique profiles in the physique_profiles table.
type SQLProfileStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLProfileStore(db *sql.DB) *SQLProfileStore {
	return &SQLProfileStore{db: db, now: time.Now}
}

const profileColumns = `user_id, username, weight, height, age, sex, activity,
	training_days, session_minutes, intensity, tef, consent, updated_at`

func (s *SQLProfileStore) GetProfile(ctx context.Context, userID snowflake.ID) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+profileColumns+" FROM physique_profiles WHERE user_id = ?", userID.String())

	p := &Profile{}
	var idStr string
	var weight, height, tef sql.NullFloat64
	var age, days, minutes sql.NullInt64
	var sex, activity, intensity sql.NullString
	var consent sql.NullBool

	err := row.Scan(&idStr, &p.Username, &weight, &height, &age, &sex, &activity,
		&days, &minutes, &intensity, &tef, &consent, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", userID, err)
	}

	p.UserID, err = snowflake.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user ID '%s' for profile: %w", idStr, err)
	}
	p.Data = PhysiqueData{
		Weight:         nullFloat(weight),
		Height:         nullFloat(height),
		Age:            nullInt(age),
		Sex:            nullEnum[Sex](sex),
		Activity:       nullEnum[ActivityLevel](activity),
		TrainingDays:   nullInt(days),
		SessionMinutes: nullInt(minutes),
		Intensity:      nullEnum[Intensity](intensity),
		TEF:            nullFloat(tef),
	}
	switch {
	case !consent.Valid:
		p.Consent = ConsentUnset
	case consent.Bool:
		p.Consent = ConsentGranted
	default:
		p.Consent = ConsentDenied
	}
	return p, nil
}

func (s *SQLProfileStore) CreateProfile(ctx context.Context, userID snowflake.ID, username string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO physique_profiles (user_id, username, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID.String(), username, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create profile %s: %w", userID, err)
	}
	return nil
}

// MergeAndPersist writes every non-nil attribute of data and keeps stored values for the rest.
func (s *SQLProfileStore) MergeAndPersist(ctx context.Context, userID snowflake.ID, data PhysiqueData) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE physique_profiles SET
			weight = COALESCE(?, weight),
			height = COALESCE(?, height),
			age = COALESCE(?, age),
			sex = COALESCE(?, sex),
			activity = COALESCE(?, activity),
			training_days = COALESCE(?, training_days),
			session_minutes = COALESCE(?, session_minutes),
			intensity = COALESCE(?, intensity),
			tef = COALESCE(?, tef),
			updated_at = ?
		WHERE user_id = ?
	`, sqlFloat(data.Weight), sqlFloat(data.Height), sqlInt(data.Age), sqlEnum(data.Sex),
		sqlEnum(data.Activity), sqlInt(data.TrainingDays), sqlInt(data.SessionMinutes),
		sqlEnum(data.Intensity), sqlFloat(data.TEF), s.now().UTC(), userID.String())
	if err != nil {
		return fmt.Errorf("failed to persist profile %s: %w", userID, err)
	}
	return nil
}

func (s *SQLProfileStore) SetConsent(ctx context.Context, userID snowflake.ID, consent bool) error {
	_, err := s.db.ExecContext(ctx, "UPDATE physique_profiles SET consent = ? WHERE user_id = ?", boolToInt(consent), userID.String())
	if err != nil {
		return fmt.Errorf("failed to set consent for %s: %w", userID, err)
	}
	return nil
}

func (s *SQLProfileStore) CountProfiles(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM physique_profiles").Scan(&count)
	return count, err
}

// --- Null helpers ---

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullEnum[T ~string](v sql.NullString) *T {
	if !v.Valid || v.String == "" {
		return nil
	}
	e := T(v.String)
	return &e
}

func sqlFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func sqlInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func sqlEnum[T ~string](v *T) any {
	if v == nil {
		return nil
	}
	return string(*v)
}
