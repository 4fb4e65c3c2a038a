package librarydb

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ProfileContent is the JSON-facing shape of a site user's profile.
type ProfileContent struct {
	Theme     map[string]any `json:"theme"`
	Features  map[string]any `json:"features"`
	UpdatedAt int64          `json:"updated_at,omitempty"`
}

// ProfilePatch carries the fields a client may change. Nil maps are left
// untouched; within a map, only recognized keys with valid values apply.
type ProfilePatch struct {
	Theme    map[string]any `json:"theme"`
	Features map[string]any `json:"features"`
}

var themeColors = map[string]bool{
	"default": true,
	"orange":  true,
	"green":   true,
	"yuuka":   true,
}

var featureFlags = []string{"savePassword", "autoLogin", "autoCheckin"}

func decodeMap(raw string) map[string]any {
	out := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return map[string]any{}
		}
	}
	return out
}

// GetProfile returns the user's profile, empty maps if none is stored.
func (lib *LibraryDB) GetProfile(user string) (*ProfileContent, error) {
	out := &ProfileContent{Theme: map[string]any{}, Features: map[string]any{}}
	if user == "" {
		return out, nil
	}
	rec := Profile{}
	err := lib.DB.First(&rec, "user = ?", user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, nil
	} else if err != nil {
		return nil, err
	}
	out.Theme = decodeMap(rec.Theme)
	out.Features = decodeMap(rec.Features)
	out.UpdatedAt = rec.UpdatedAt
	return out, nil
}

// PatchProfile merges validated patch fields into the stored profile and
// returns the result.
func (lib *LibraryDB) PatchProfile(user string, patch ProfilePatch) (*ProfileContent, error) {
	if user == "" {
		return nil, ErrInvalidInput
	}
	cur, err := lib.GetProfile(user)
	if err != nil {
		return nil, err
	}
	if patch.Theme != nil {
		if dark, ok := patch.Theme["dark"].(bool); ok {
			cur.Theme["dark"] = dark
		}
		if color, ok := patch.Theme["color"].(string); ok {
			color = strings.ToLower(strings.TrimSpace(color))
			if themeColors[color] {
				cur.Theme["color"] = color
			}
		}
	}
	if patch.Features != nil {
		for _, flag := range featureFlags {
			if v, ok := patch.Features[flag].(bool); ok {
				cur.Features[flag] = v
			}
		}
	}
	cur.UpdatedAt = time.Now().Unix()

	themeRaw, err := json.Marshal(cur.Theme)
	if err != nil {
		return nil, err
	}
	featuresRaw, err := json.Marshal(cur.Features)
	if err != nil {
		return nil, err
	}
	err = lib.DB.Exec(`
		INSERT INTO profile (user, theme, features, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user) DO UPDATE SET
			theme = excluded.theme,
			features = excluded.features,
			updated_at = excluded.updated_at`,
		user, string(themeRaw), string(featuresRaw), cur.UpdatedAt).Error
	if err != nil {
		return nil, err
	}
	return cur, nil
}
