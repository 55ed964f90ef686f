package profile

import (
	"context"
	"fmt"
	"sort"

	"codejudge/internal/judge/sandbox/security"
	appErr "codejudge/pkg/errors"
)

// LanguageRepository loads language specifications.
type LanguageRepository interface {
	GetLanguageSpec(ctx context.Context, id string) (LanguageSpec, error)
	ListLanguages(ctx context.Context) []LanguageSpec
}

// LocalRepository serves language specs from configuration held in memory.
// It also resolves isolation profiles, which are keyed by language id.
type LocalRepository struct {
	languages  map[string]LanguageSpec
	seccompDef string
}

// NewLocalRepository validates and indexes the configured languages.
// defaultSeccomp is used by languages that do not name their own profile.
func NewLocalRepository(languages []LanguageSpec, defaultSeccomp string) (*LocalRepository, error) {
	langMap := make(map[string]LanguageSpec, len(languages))
	for _, lang := range languages {
		if err := lang.Validate(); err != nil {
			return nil, err
		}
		if _, dup := langMap[lang.ID]; dup {
			return nil, fmt.Errorf("language %s declared twice", lang.ID)
		}
		langMap[lang.ID] = lang
	}
	if len(langMap) == 0 {
		return nil, fmt.Errorf("no languages configured")
	}
	return &LocalRepository{languages: langMap, seccompDef: defaultSeccomp}, nil
}

// GetLanguageSpec returns a language spec.
func (r *LocalRepository) GetLanguageSpec(ctx context.Context, id string) (LanguageSpec, error) {
	if id == "" {
		return LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	lang, ok := r.languages[id]
	if !ok {
		return LanguageSpec{}, appErr.Newf(appErr.LanguageNotSupported, "language not supported: %s", id)
	}
	return lang, nil
}

// ListLanguages returns the configured languages ordered by id.
func (r *LocalRepository) ListLanguages(ctx context.Context) []LanguageSpec {
	out := make([]LanguageSpec, 0, len(r.languages))
	for _, lang := range r.languages {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve maps a profile name (the language id) to isolation settings.
func (r *LocalRepository) Resolve(profileName string) (security.IsolationProfile, error) {
	if profileName == "" {
		return security.IsolationProfile{}, appErr.ValidationError("profile", "required")
	}
	lang, ok := r.languages[profileName]
	if !ok {
		return security.IsolationProfile{}, appErr.New(appErr.NotFound).WithMessage("profile not found")
	}
	seccompProfile := lang.SeccompProfile
	if seccompProfile == "" {
		seccompProfile = r.seccompDef
	}
	return security.IsolationProfile{
		RootFS:         lang.RootFS,
		SeccompProfile: seccompProfile,
		DisableNetwork: true,
	}.Normalize(), nil
}
