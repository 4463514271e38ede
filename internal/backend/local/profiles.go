package local

import (
	"context"

	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/core/profile"
	"github.com/kartik102005/ecolearn/internal/data/stores"
)

const profilesTable = "profiles"

// Profiles is a profile.Store over the demo profiles table. Every write is
// published to the hub so realtime subscribers see it.
type Profiles struct {
	rows *stores.ProfileRows
	hub  *Hub
}

var _ profile.Store = (*Profiles)(nil)

func NewProfiles(rows *stores.ProfileRows, hub *Hub) *Profiles {
	return &Profiles{rows: rows, hub: hub}
}

func (p *Profiles) Select(ctx context.Context, id string) (*profile.Profile, error) {
	const op = "profiles.select"

	row, err := p.rows.Select(ctx, id)
	if err != nil {
		return nil, classifyRowErr(op, err)
	}
	return &row, nil
}

func (p *Profiles) Insert(ctx context.Context, in profile.Profile) (*profile.Profile, error) {
	const op = "profiles.insert"

	if err := p.rows.Insert(ctx, in); err != nil {
		return nil, classifyRowErr(op, err)
	}
	row, err := p.rows.Select(ctx, in.ID)
	if err != nil {
		return nil, classifyRowErr(op, err)
	}

	p.publish("INSERT", row)
	return &row, nil
}

func (p *Profiles) Update(ctx context.Context, id string, patch profile.Patch) (*profile.Profile, error) {
	const op = "profiles.update"

	row, err := p.rows.Update(ctx, id, patch)
	if err != nil {
		return nil, classifyRowErr(op, err)
	}

	p.publish("UPDATE", row)
	return &row, nil
}

func (p *Profiles) publish(changeType string, row profile.Profile) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(profilesTable, changeType, map[string]any{
		"id":         row.ID,
		"username":   row.Username,
		"updated_at": row.UpdatedAt,
	})
}

func classifyRowErr(op string, err error) error {
	switch {
	case stores.IsNotFoundError(err):
		return fault.NotFound(op, fault.CodeNoRows)
	case stores.IsUniqueViolation(err):
		return &fault.Error{
			Kind:    fault.KindProviderRejected,
			Op:      op,
			Message: "duplicate key value violates unique constraint",
			Status:  409,
			Code:    "23505",
			Err:     err,
		}
	default:
		return fault.Classify(op, err)
	}
}
