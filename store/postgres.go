// Package store persists users, profiles, preferences and match history in
// PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"gitea.kood.tech/petrkubec/matrimony/backend/model"
)

// ErrConflict wraps unique-constraint violations.
var ErrConflict = errors.New("already exists")

const uniqueViolation = "23505"

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cannot reach the database: %w", err)
	}
	return db, nil
}

// Postgres implements every store operation the server needs.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// withTx wraps fn in a transaction: COMMIT on success, ROLLBACK on error or
// panic.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func conflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return err
}

// --- accounts ---

// CreateAccount inserts the user, profile and preference rows together and
// fills in their generated ids.
func (s *Postgres) CreateAccount(ctx context.Context, u *model.User, passwordHash string, p *model.Profile, pref *model.Preference) error {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO users (username, email, password_hash, first_name, last_name)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, u.Username, u.Email, passwordHash, u.FirstName, u.LastName).Scan(&u.ID, &u.CreatedAt)
		if err != nil {
			return err
		}
		p.UserID = u.ID
		if err := insertProfile(ctx, tx, p); err != nil {
			return err
		}
		pref.UserID = u.ID
		return insertPreference(ctx, tx, pref)
	})
	if err != nil {
		return fmt.Errorf("create account: %w", conflict(err))
	}
	return nil
}

// Credentials returns the password hash for a username.
func (s *Postgres) Credentials(ctx context.Context, username string) (int, string, bool, error) {
	var (
		id   int
		hash string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE username = $1`, username).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("load credentials: %w", err)
	}
	return id, hash, true, nil
}

func (s *Postgres) TouchLastLogin(ctx context.Context, userID int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = NOW() WHERE id = $1`, userID)
	return err
}

// --- profiles ---

const profileColumns = `
	id, user_id, created_by, gender, name, date_of_birth, email, height, age, weight,
	education, country, address, phone_number, hide_phone_number, language, religion,
	latitude, longitude, location, profile_picture_file, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (model.Profile, error) {
	var (
		p                   model.Profile
		dob                 time.Time
		height, weight      sql.NullFloat64
		latitude, longitude sql.NullFloat64
		picture             sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.CreatedBy, &p.Gender, &p.Name, &dob, &p.Email, &height, &p.Age, &weight,
		&p.Education, &p.Country, &p.Address, &p.PhoneNumber, &p.HidePhoneNumber, &p.Language, &p.Religion,
		&latitude, &longitude, &p.Location, &picture, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.Profile{}, err
	}
	p.DateOfBirth = model.Date{Time: dob}
	p.Height = nullFloat(height)
	p.Weight = nullFloat(weight)
	p.Latitude = nullFloat(latitude)
	p.Longitude = nullFloat(longitude)
	if picture.Valid {
		p.ProfilePicture = picture.String
	}
	return p, nil
}

func (s *Postgres) queryProfiles(ctx context.Context, query string, args ...any) ([]model.Profile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) queryProfile(ctx context.Context, query string, args ...any) (model.Profile, bool, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, false, nil
	}
	if err != nil {
		return model.Profile{}, false, err
	}
	return p, true, nil
}

func (s *Postgres) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	ps, err := s.queryProfiles(ctx, `SELECT`+profileColumns+` FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return ps, nil
}

// ProfilesExcluding lists every profile except the given user's.
func (s *Postgres) ProfilesExcluding(ctx context.Context, userID int) ([]model.Profile, error) {
	ps, err := s.queryProfiles(ctx, `SELECT`+profileColumns+` FROM profiles WHERE user_id <> $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list profiles excluding %d: %w", userID, err)
	}
	return ps, nil
}

func (s *Postgres) ProfileByID(ctx context.Context, id int) (model.Profile, bool, error) {
	p, found, err := s.queryProfile(ctx, `SELECT`+profileColumns+` FROM profiles WHERE id = $1`, id)
	if err != nil {
		return p, false, fmt.Errorf("load profile %d: %w", id, err)
	}
	return p, found, nil
}

func (s *Postgres) ProfileByUser(ctx context.Context, userID int) (model.Profile, bool, error) {
	p, found, err := s.queryProfile(ctx, `SELECT`+profileColumns+` FROM profiles WHERE user_id = $1`, userID)
	if err != nil {
		return p, false, fmt.Errorf("load profile of user %d: %w", userID, err)
	}
	return p, found, nil
}

// LastJoinedProfile returns the most recently created profile.
func (s *Postgres) LastJoinedProfile(ctx context.Context) (model.Profile, bool, error) {
	p, found, err := s.queryProfile(ctx, `SELECT`+profileColumns+` FROM profiles ORDER BY created_at DESC, id DESC LIMIT 1`)
	if err != nil {
		return p, false, fmt.Errorf("load last joined profile: %w", err)
	}
	return p, found, nil
}

func insertProfile(ctx context.Context, tx *sql.Tx, p *model.Profile) error {
	return tx.QueryRowContext(ctx, `
		INSERT INTO profiles (
			user_id, created_by, gender, name, date_of_birth, email, height, age, weight,
			education, country, address, phone_number, hide_phone_number, language, religion,
			latitude, longitude, location
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, created_at, updated_at
	`,
		p.UserID, p.CreatedBy, p.Gender, p.Name, p.DateOfBirth.Time, p.Email, p.Height, p.Age, p.Weight,
		p.Education, p.Country, p.Address, p.PhoneNumber, p.HidePhoneNumber, p.Language, p.Religion,
		p.Latitude, p.Longitude, p.Location,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// CreateProfile inserts a profile for an existing user.
func (s *Postgres) CreateProfile(ctx context.Context, p *model.Profile) error {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		return insertProfile(ctx, tx, p)
	})
	if err != nil {
		return fmt.Errorf("create profile: %w", conflict(err))
	}
	return nil
}

// UpdateProfile overwrites every mutable column of the profile with p.ID.
func (s *Postgres) UpdateProfile(ctx context.Context, p *model.Profile) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE profiles SET
			created_by = $2, gender = $3, name = $4, date_of_birth = $5, email = $6, height = $7,
			age = $8, weight = $9, education = $10, country = $11, address = $12, phone_number = $13,
			hide_phone_number = $14, language = $15, religion = $16, latitude = $17, longitude = $18,
			location = $19, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`,
		p.ID, p.CreatedBy, p.Gender, p.Name, p.DateOfBirth.Time, p.Email, p.Height,
		p.Age, p.Weight, p.Education, p.Country, p.Address, p.PhoneNumber,
		p.HidePhoneNumber, p.Language, p.Religion, p.Latitude, p.Longitude,
		p.Location,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update profile %d: %w", p.ID, conflict(err))
	}
	return nil
}

func (s *Postgres) DeleteProfile(ctx context.Context, id int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete profile %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetProfilePicture stores (or clears, when file is nil) the image file name.
// It reports false when the user has no profile yet.
func (s *Postgres) SetProfilePicture(ctx context.Context, userID int, file *string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET profile_picture_file = $1, updated_at = NOW() WHERE user_id = $2
	`, file, userID)
	if err != nil {
		return false, fmt.Errorf("set profile picture: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ProfileCards loads the display subset for a batch of users.
func (s *Postgres) ProfileCards(ctx context.Context, userIDs []int) (map[int]model.ProfileCard, error) {
	ids := make([]int64, len(userIDs))
	for i, id := range userIDs {
		ids[i] = int64(id)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, name, COALESCE(profile_picture_file, '')
		FROM profiles
		WHERE user_id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load profile cards: %w", err)
	}
	defer rows.Close()

	out := make(map[int]model.ProfileCard, len(userIDs))
	for rows.Next() {
		var c model.ProfileCard
		if err := rows.Scan(&c.UserID, &c.Name, &c.Image); err != nil {
			return nil, err
		}
		out[c.UserID] = c
	}
	return out, rows.Err()
}

// --- preferences ---

const preferenceColumns = `
	user_id, email, preferred_height_min, preferred_height_max, preferred_age_min, preferred_age_max,
	preferred_weight_min, preferred_weight_max, preferred_education, preferred_location, created_at, updated_at`

func scanPreference(row rowScanner) (model.Preference, error) {
	var (
		p                    model.Preference
		email                sql.NullString
		heightMin, heightMax sql.NullFloat64
		ageMin, ageMax       sql.NullInt64
		weightMin, weightMax sql.NullFloat64
		education, location  sql.NullString
	)
	err := row.Scan(&p.UserID, &email, &heightMin, &heightMax, &ageMin, &ageMax,
		&weightMin, &weightMax, &education, &location, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Preference{}, err
	}
	p.Email = nullString(email)
	p.HeightMin, p.HeightMax = nullFloat(heightMin), nullFloat(heightMax)
	p.AgeMin, p.AgeMax = nullInt(ageMin), nullInt(ageMax)
	p.WeightMin, p.WeightMax = nullFloat(weightMin), nullFloat(weightMax)
	p.Education, p.Location = nullString(education), nullString(location)
	return p, nil
}

func (s *Postgres) PreferenceByUser(ctx context.Context, userID int) (model.Preference, bool, error) {
	p, err := scanPreference(s.db.QueryRowContext(ctx, `SELECT`+preferenceColumns+` FROM preferences WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Preference{}, false, nil
	}
	if err != nil {
		return model.Preference{}, false, fmt.Errorf("load preferences of user %d: %w", userID, err)
	}
	return p, true, nil
}

// EnsurePreference returns the user's preference row, creating an empty one
// first if none exists.
func (s *Postgres) EnsurePreference(ctx context.Context, userID int) (model.Preference, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, email)
		SELECT id, email FROM users WHERE id = $1
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return model.Preference{}, fmt.Errorf("ensure preferences: %w", err)
	}
	p, found, err := s.PreferenceByUser(ctx, userID)
	if err != nil {
		return model.Preference{}, err
	}
	if !found {
		return model.Preference{}, fmt.Errorf("ensure preferences: user %d does not exist", userID)
	}
	return p, nil
}

func insertPreference(ctx context.Context, tx *sql.Tx, p *model.Preference) error {
	return tx.QueryRowContext(ctx, `
		INSERT INTO preferences (
			user_id, email, preferred_height_min, preferred_height_max, preferred_age_min, preferred_age_max,
			preferred_weight_min, preferred_weight_max, preferred_education, preferred_location
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`,
		p.UserID, p.Email, p.HeightMin, p.HeightMax, p.AgeMin, p.AgeMax,
		p.WeightMin, p.WeightMax, p.Education, p.Location,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// UpdatePreference overwrites the user's preference row.
func (s *Postgres) UpdatePreference(ctx context.Context, p *model.Preference) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE preferences SET
			email = $2, preferred_height_min = $3, preferred_height_max = $4,
			preferred_age_min = $5, preferred_age_max = $6,
			preferred_weight_min = $7, preferred_weight_max = $8,
			preferred_education = $9, preferred_location = $10, updated_at = NOW()
		WHERE user_id = $1
		RETURNING updated_at
	`,
		p.UserID, p.Email, p.HeightMin, p.HeightMax, p.AgeMin, p.AgeMax,
		p.WeightMin, p.WeightMax, p.Education, p.Location,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update preferences of user %d: %w", p.UserID, err)
	}
	return nil
}

// --- match history ---

// SaveMatchRecords appends the records in one transaction.
func (s *Postgres) SaveMatchRecords(ctx context.Context, records []model.MatchRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO match_records (user_id, matched_user_id, match_percentage, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i := range records {
			r := &records[i]
			if err := stmt.QueryRowContext(ctx, r.UserID, r.MatchedUserID, r.MatchPercentage, r.CreatedAt).Scan(&r.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save match records: %w", err)
	}
	return nil
}

// MatchHistory returns the user's newest records first.
func (s *Postgres) MatchHistory(ctx context.Context, userID, limit int) ([]model.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, matched_user_id, match_percentage, created_at
		FROM match_records
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load match history: %w", err)
	}
	defer rows.Close()

	out := make([]model.MatchRecord, 0)
	for rows.Next() {
		var r model.MatchRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.MatchedUserID, &r.MatchPercentage, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneMatchRecords deletes records created before the cutoff.
func (s *Postgres) PruneMatchRecords(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM match_records WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune match records: %w", err)
	}
	return res.RowsAffected()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
