package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"quill/internal/persona"
)

// PersonaProfile is a generated persona profile owned by one caller. Active
// profiles contribute their micro agent list to the caller's persona pool.
type PersonaProfile struct {
	ID          string          `json:"id"`
	CallerID    string          `json:"caller_id"`
	SourceType  string          `json:"source_type"`
	SourceValue string          `json:"source_value,omitempty"`
	Profile     persona.Profile `json:"profile"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SavePersonaProfile inserts p as active and returns its identifier.
func (s *Store) SavePersonaProfile(ctx context.Context, p PersonaProfile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := json.Marshal(p.Profile)
	if err != nil {
		return "", fmt.Errorf("encode profile: %w", err)
	}
	id := newID()
	_, err = s.db.ExecContext(ctx, `INSERT INTO persona_profiles
(id, caller_id, source_type, source_value, role, tone, style, profile_json, is_active, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		id, p.CallerID, p.SourceType, p.SourceValue, p.Profile.Role, p.Profile.Tone, p.Profile.Style, string(body), s.timestamp())
	if err != nil {
		return "", fmt.Errorf("insert persona profile: %w", err)
	}
	return id, nil
}

// ListPersonaProfiles returns every profile of callerID, newest first.
func (s *Store) ListPersonaProfiles(ctx context.Context, callerID string) ([]PersonaProfile, error) {
	return s.queryProfiles(ctx, `WHERE caller_id = ?`, callerID)
}

// SetPersonaProfileActive enables or disables a profile.
func (s *Store) SetPersonaProfileActive(ctx context.Context, callerID, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE persona_profiles SET is_active = ? WHERE id = ? AND caller_id = ?`,
		boolToInt(active), id, callerID)
	if err != nil {
		return fmt.Errorf("update persona profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivePersonas returns the micro agent names of the caller's active
// profiles, newest profile first, without duplicates.
func (s *Store) ActivePersonas(ctx context.Context, callerID string) ([]persona.Weighted, error) {
	profiles, err := s.queryProfiles(ctx, `WHERE caller_id = ? AND is_active = 1`, callerID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []persona.Weighted
	for _, p := range profiles {
		for _, name := range p.Profile.MicroAgentList {
			name = strings.TrimSpace(name)
			key := strings.ToLower(name)
			if name == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, persona.Weighted{Name: name})
		}
	}
	return out, nil
}

// Personas implements persona.Source.
func (s *Store) Personas(ctx context.Context, callerID string) ([]persona.Weighted, error) {
	return s.ActivePersonas(ctx, callerID)
}

var _ persona.Source = (*Store)(nil)

func (s *Store) queryProfiles(ctx context.Context, where string, args ...any) ([]PersonaProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, caller_id, source_type, source_value, profile_json, is_active, created_at
FROM persona_profiles `+where+` ORDER BY id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query persona profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []PersonaProfile
	for rows.Next() {
		var (
			p           PersonaProfile
			sourceType  sql.NullString
			sourceValue sql.NullString
			body        string
			active      int
			created     string
		)
		if err := rows.Scan(&p.ID, &p.CallerID, &sourceType, &sourceValue, &body, &active, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &p.Profile); err != nil {
			s.logger.Warn("skipping persona profile %s: %v", p.ID, err)
			continue
		}
		p.SourceType = sourceType.String
		p.SourceValue = sourceValue.String
		p.Active = active == 1
		p.CreatedAt = parseTimestamp(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadPersonaProfile returns one profile owned by callerID.
func (s *Store) LoadPersonaProfile(ctx context.Context, callerID, id string) (PersonaProfile, error) {
	profiles, err := s.queryProfiles(ctx, `WHERE caller_id = ? AND id = ?`, callerID, id)
	if err != nil {
		return PersonaProfile{}, err
	}
	if len(profiles) == 0 {
		return PersonaProfile{}, ErrNotFound
	}
	return profiles[0], nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
