package stores

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kartik102005/ecolearn/internal/core/profile"
	"github.com/kartik102005/ecolearn/internal/data/db"
)

// ProfileRows persists profiles in the profiles table. Missing rows are
// reported as errors wrapping sql.ErrNoRows; callers classify them.
type ProfileRows struct {
	db *db.DB
}

func NewProfileRows(db *db.DB) *ProfileRows {
	return &ProfileRows{db: db}
}

const profileColumns = `id, email, username, full_name, avatar_url, bio, level, total_xp, eco_coins, created_at, updated_at`

func (s *ProfileRows) Select(ctx context.Context, id string) (profile.Profile, error) {
	row := s.db.Conn().QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("select profile %s: %w", id, err)
	}
	return p, nil
}

func (s *ProfileRows) Insert(ctx context.Context, p profile.Profile) error {
	_, err := s.db.Conn().ExecContext(ctx, `INSERT INTO profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, p.Username, p.FullName, p.AvatarURL, p.Bio,
		p.Level, p.TotalXP, p.EcoCoins, p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert profile %s: %w", p.ID, err)
	}
	return nil
}

// Update applies patch and returns the stored row. An empty patch still bumps updated_at.
func (s *ProfileRows) Update(ctx context.Context, id string, patch profile.Patch) (profile.Profile, error) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if patch.Username != nil {
		add("username", *patch.Username)
	}
	if patch.FullName != nil {
		add("full_name", *patch.FullName)
	}
	if patch.AvatarURL != nil {
		add("avatar_url", *patch.AvatarURL)
	}
	if patch.Bio != nil {
		add("bio", *patch.Bio)
	}
	if patch.Level != nil {
		add("level", *patch.Level)
	}
	if patch.TotalXP != nil {
		add("total_xp", *patch.TotalXP)
	}
	if patch.EcoCoins != nil {
		add("eco_coins", *patch.EcoCoins)
	}
	stamp := patch.UpdatedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	add("updated_at", stamp.UnixNano())

	var out profile.Profile
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id = ?`, append(args, id)...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		out, err = scanProfile(tx.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return profile.Profile{}, fmt.Errorf("update profile %s: %w", id, err)
	}
	return out, nil
}

func scanProfile(row *sql.Row) (profile.Profile, error) {
	var (
		p                profile.Profile
		created, updated int64
	)
	err := row.Scan(&p.ID, &p.Email, &p.Username, &p.FullName, &p.AvatarURL, &p.Bio,
		&p.Level, &p.TotalXP, &p.EcoCoins, &created, &updated)
	if err != nil {
		return profile.Profile{}, err
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, nil
}
