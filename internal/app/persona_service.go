package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"quill/internal/persona"
	"quill/internal/shared/logging"
	"quill/internal/store"
)

// PersonaStore persists persona profiles.
type PersonaStore interface {
	SavePersonaProfile(ctx context.Context, p store.PersonaProfile) (string, error)
	LoadPersonaProfile(ctx context.Context, callerID, id string) (store.PersonaProfile, error)
	ListPersonaProfiles(ctx context.Context, callerID string) ([]store.PersonaProfile, error)
	SetPersonaProfileActive(ctx context.Context, callerID, id string, active bool) error
}

// Source types accepted by GenerateProfile.
const (
	SourceText = "text"
	SourceURL  = "url"
)

// ProfileRequest asks for a profile generated from a writing sample.
type ProfileRequest struct {
	CallerID    string `json:"-"`
	SourceType  string `json:"source_type"`
	SourceValue string `json:"source_value"`
	Topic       string `json:"topic,omitempty"`
	// Save stores the generated profile as active.
	Save bool `json:"save"`
}

// PersonaService manages the persona profiles behind each caller's pool.
type PersonaService struct {
	generator  *persona.Generator
	profiles   PersonaStore
	resolver   *persona.Resolver
	httpClient *http.Client
	logger     logging.Logger
}

// NewPersonaService wires profile generation and storage. profiles and
// resolver may be nil.
func NewPersonaService(generator *persona.Generator, profiles PersonaStore, resolver *persona.Resolver) *PersonaService {
	if generator == nil {
		generator = persona.NewGenerator(nil, nil)
	}
	return &PersonaService{
		generator:  generator,
		profiles:   profiles,
		resolver:   resolver,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logging.NewComponentLogger("PersonaService"),
	}
}

// GeneratedProfile is a generated profile and, when saved, its record id.
type GeneratedProfile struct {
	ID      string          `json:"id,omitempty"`
	Profile persona.Profile `json:"profile"`
}

// GenerateProfile derives a profile from pasted text or a fetched article.
func (s *PersonaService) GenerateProfile(ctx context.Context, req ProfileRequest) (GeneratedProfile, error) {
	value := strings.TrimSpace(req.SourceValue)
	if value == "" {
		return GeneratedProfile{}, ValidationError("source_value must not be blank")
	}

	text := value
	switch req.SourceType {
	case SourceText, "":
		req.SourceType = SourceText
	case SourceURL:
		fetched, err := persona.FetchArticle(ctx, s.httpClient, value)
		if err != nil {
			return GeneratedProfile{}, ValidationError(fmt.Sprintf("fetch article: %v", err))
		}
		text = fetched
	default:
		return GeneratedProfile{}, ValidationError(fmt.Sprintf("unknown source_type %q", req.SourceType))
	}

	profile, err := s.generator.Generate(ctx, text, req.Topic)
	if err != nil {
		return GeneratedProfile{}, ValidationError(err.Error())
	}
	out := GeneratedProfile{Profile: profile}
	if !req.Save {
		return out, nil
	}

	sourceValue := value
	if req.SourceType == SourceText && len(sourceValue) > 200 {
		sourceValue = sourceValue[:200]
	}
	id, err := s.SaveProfile(ctx, store.PersonaProfile{
		CallerID:    req.CallerID,
		SourceType:  req.SourceType,
		SourceValue: sourceValue,
		Profile:     profile,
	})
	if err != nil {
		return out, err
	}
	out.ID = id
	return out, nil
}

// SaveProfile stores p as an active profile and refreshes the caller's pool.
func (s *PersonaService) SaveProfile(ctx context.Context, p store.PersonaProfile) (string, error) {
	if s.profiles == nil {
		return "", UnavailableError("persona storage is not configured")
	}
	id, err := s.profiles.SavePersonaProfile(ctx, p)
	if err != nil {
		return "", err
	}
	s.resolver.Invalidate(p.CallerID)
	s.logger.Info("saved persona profile %s for %q (%d agents)", id, p.CallerID, len(p.Profile.MicroAgentList))
	return id, nil
}

// Profiles lists the caller's profiles.
func (s *PersonaService) Profiles(ctx context.Context, callerID string) ([]store.PersonaProfile, error) {
	if s.profiles == nil {
		return nil, UnavailableError("persona storage is not configured")
	}
	return s.profiles.ListPersonaProfiles(ctx, callerID)
}

// Profile returns one of the caller's profiles.
func (s *PersonaService) Profile(ctx context.Context, callerID, id string) (store.PersonaProfile, error) {
	if s.profiles == nil {
		return store.PersonaProfile{}, UnavailableError("persona storage is not configured")
	}
	p, err := s.profiles.LoadPersonaProfile(ctx, callerID, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.PersonaProfile{}, NotFoundError(fmt.Sprintf("persona profile %s", id))
	}
	return p, err
}

// SetActive enables or disables a profile for future runs.
func (s *PersonaService) SetActive(ctx context.Context, callerID, id string, active bool) error {
	if s.profiles == nil {
		return UnavailableError("persona storage is not configured")
	}
	err := s.profiles.SetPersonaProfileActive(ctx, callerID, id, active)
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundError(fmt.Sprintf("persona profile %s", id))
	}
	if err != nil {
		return err
	}
	s.resolver.Invalidate(callerID)
	return nil
}

// Pool returns the pool the next run of callerID would draw from.
func (s *PersonaService) Pool(ctx context.Context, callerID string) *persona.Pool {
	return s.resolver.Pool(ctx, callerID, nil)
}
