// Package prefs manages per-user client preferences and the chat credential.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Storage keys.
const (
	KeyModel          = "hydra-model"
	KeyContextEnabled = "hydra-context-enabled"
	KeyTheme          = "hydra-theme"
	KeyAPIKey         = "openai_api_key"
)

// Themes.
const (
	ThemePrimary   = "primary"
	ThemeSecondary = "secondary"
)

// DefaultModel is the completion model used until the user picks one.
const DefaultModel = "gpt-4o-mini"

// ErrInvalidTheme is returned for a theme other than primary or secondary.
var ErrInvalidTheme = errors.New("theme must be primary or secondary")

// Preferences is the typed view over a user's stored preference values.
type Preferences struct {
	Model          string `json:"model"`
	ContextEnabled bool   `json:"context_enabled"`
	Theme          string `json:"theme"`
	APIKey         string `json:"-"`
	HasAPIKey      bool   `json:"has_api_key"`

	// modelChosen is set when Model came from the user rather than a default.
	modelChosen bool
}

// Patch is a partial preferences update. An empty APIKey removes the stored key.
type Patch struct {
	Model          *string `json:"model,omitempty"`
	ContextEnabled *bool   `json:"context_enabled,omitempty"`
	Theme          *string `json:"theme,omitempty"`
	APIKey         *string `json:"api_key,omitempty"`
}

// Defaults returns the preferences of a user who never changed anything.
func Defaults() Preferences {
	return Preferences{
		Model:          DefaultModel,
		ContextEnabled: true,
		Theme:          ThemePrimary,
	}
}

// Decode builds Preferences from raw stored values. Unknown or corrupt values
// fall back to their defaults.
func Decode(values map[string]string, sealer *Sealer) Preferences {
	p := Defaults()
	if m := strings.TrimSpace(values[KeyModel]); m != "" {
		p.Model = m
		p.modelChosen = true
	}
	if v, ok := values[KeyContextEnabled]; ok {
		p.ContextEnabled = v != "false"
	}
	if t := values[KeyTheme]; t == ThemePrimary || t == ThemeSecondary {
		p.Theme = t
	}
	if token := values[KeyAPIKey]; token != "" && sealer != nil {
		key, err := sealer.Open(token)
		if err != nil {
			slog.Debug("Stored API key unreadable, treating as absent", "error", err)
		} else {
			p.APIKey = key
		}
	}
	p.HasAPIKey = p.APIKey != ""
	return p
}

// Merge applies patch over p. An empty model reverts to the default.
func Merge(p Preferences, patch Patch) (Preferences, error) {
	if patch.Model != nil {
		p.Model = strings.TrimSpace(*patch.Model)
		p.modelChosen = p.Model != ""
		if !p.modelChosen {
			p.Model = DefaultModel
		}
	}
	if patch.ContextEnabled != nil {
		p.ContextEnabled = *patch.ContextEnabled
	}
	if patch.Theme != nil {
		if *patch.Theme != ThemePrimary && *patch.Theme != ThemeSecondary {
			return p, ErrInvalidTheme
		}
		p.Theme = *patch.Theme
	}
	if patch.APIKey != nil {
		p.APIKey = strings.TrimSpace(*patch.APIKey)
	}
	p.HasAPIKey = p.APIKey != ""
	return p, nil
}

// Encode converts p to raw stored values. The API key is sealed. An empty
// value marks the key for deletion, so a model the user never chose is not
// stored and keeps following the server default.
func Encode(p Preferences, sealer *Sealer) (map[string]string, error) {
	model := ""
	if p.modelChosen {
		model = p.Model
	}
	values := map[string]string{
		KeyModel:          model,
		KeyContextEnabled: fmt.Sprintf("%t", p.ContextEnabled),
		KeyTheme:          p.Theme,
		KeyAPIKey:         "",
	}
	if p.APIKey != "" {
		if sealer == nil {
			return nil, errors.New("no sealer configured for API key")
		}
		token, err := sealer.Seal(p.APIKey)
		if err != nil {
			return nil, fmt.Errorf("seal api key: %w", err)
		}
		values[KeyAPIKey] = token
	}
	return values, nil
}

// ToggleTheme flips between the two themes.
func ToggleTheme(theme string) string {
	if theme == ThemeSecondary {
		return ThemePrimary
	}
	return ThemeSecondary
}

// Credential sources, in precedence order.
const (
	SourceUser        = "user"
	SourceEnvironment = "environment"
	SourceNone        = "none"
)

// ResolveAPIKey picks the completion credential: the user's own key, then the
// server-wide key, else none.
func ResolveAPIKey(p Preferences, envKey string) (key, source string, ok bool) {
	if p.APIKey != "" {
		return p.APIKey, SourceUser, true
	}
	if envKey = strings.TrimSpace(envKey); envKey != "" {
		return envKey, SourceEnvironment, true
	}
	return "", SourceNone, false
}

// Store is the persistence the preferences service needs.
type Store interface {
	GetPreferences(ctx context.Context, userID string) (map[string]string, error)
	SetPreferences(ctx context.Context, userID string, values map[string]string) error
}

// Service loads and saves preferences.
type Service struct {
	store        Store
	sealer       *Sealer
	defaultModel string
}

// NewService creates a preferences service. defaultModel replaces DefaultModel
// for users who never picked one.
func NewService(store Store, sealer *Sealer, defaultModel string) *Service {
	return &Service{store: store, sealer: sealer, defaultModel: defaultModel}
}

// Load returns the user's preferences.
func (s *Service) Load(ctx context.Context, userID string) (Preferences, error) {
	values, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return Defaults(), fmt.Errorf("load preferences: %w", err)
	}
	return s.withDefaultModel(Decode(values, s.sealer)), nil
}

func (s *Service) withDefaultModel(p Preferences) Preferences {
	if !p.modelChosen && s.defaultModel != "" {
		p.Model = s.defaultModel
	}
	return p
}

// Save stores p in full.
func (s *Service) Save(ctx context.Context, userID string, p Preferences) error {
	values, err := Encode(p, s.sealer)
	if err != nil {
		return err
	}
	if err := s.store.SetPreferences(ctx, userID, values); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Update loads, merges and saves.
func (s *Service) Update(ctx context.Context, userID string, patch Patch) (Preferences, error) {
	p, err := s.Load(ctx, userID)
	if err != nil {
		return p, err
	}
	merged, err := Merge(p, patch)
	if err != nil {
		return p, err
	}
	if err := s.Save(ctx, userID, merged); err != nil {
		return p, err
	}
	return s.withDefaultModel(merged), nil
}

// ToggleTheme flips and saves the user's theme.
func (s *Service) ToggleTheme(ctx context.Context, userID string) (Preferences, error) {
	p, err := s.Load(ctx, userID)
	if err != nil {
		return p, err
	}
	theme := ToggleTheme(p.Theme)
	return s.Update(ctx, userID, Patch{Theme: &theme})
}
