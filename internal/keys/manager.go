package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"torntracker/internal/api"

	"github.com/rs/zerolog"
)

// Credential is the persisted metadata for one registered API key. The
// secret itself never lives in the metadata file; EnvVar names the
// environment variable that holds it.
type Credential struct {
	Owner         string   `json:"owner"`
	EnvVar        string   `json:"env_var"`
	AccessLevel   string   `json:"access_level"`
	KeyType       string   `json:"key_type"`
	Scopes        []string `json:"permissions"`
	LastValidated string   `json:"last_validated,omitempty"`
}

type metadata struct {
	Keys map[string]*Credential `json:"keys"`
}

// SharedOwner marks a credential usable by any requester.
const SharedOwner = "shared"

// Introspector resolves a key's access level and selections remotely.
// *api.Client satisfies it.
type Introspector interface {
	KeyInfo(ctx context.Context, key string) (*api.KeyInfoResponse, error)
}

// Manager is the credential registry. The metadata document is loaded at
// startup and rewritten wholesale on every mutation.
type Manager struct {
	mu     sync.RWMutex
	path   string
	meta   metadata
	client Introspector
	logger zerolog.Logger
}

func NewManager(path string, client Introspector, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		path:   path,
		meta:   metadata{Keys: map[string]*Credential{}},
		client: client,
		logger: logger,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read key metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &m.meta); err != nil {
		return fmt.Errorf("parse key metadata: %w", err)
	}
	if m.meta.Keys == nil {
		m.meta.Keys = map[string]*Credential{}
	}
	return nil
}

func (m *Manager) save() error {
	raw, err := json.MarshalIndent(m.meta, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create key metadata dir: %w", err)
		}
	}
	if err := os.WriteFile(m.path, raw, 0o600); err != nil {
		return fmt.Errorf("write key metadata: %w", err)
	}
	return nil
}

// Mask renders a key for display and history tagging, keeping only the
// last four characters.
func Mask(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****-****-****-" + key[len(key)-4:]
}

// Secret resolves the actual key value of an alias from the environment.
func (m *Manager) Secret(alias string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.meta.Keys[alias]
	if !ok || cred.EnvVar == "" {
		return ""
	}
	return os.Getenv(cred.EnvVar)
}

func (m *Manager) Add(alias, envVar, owner, keyType string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.meta.Keys[alias]; exists {
		return nil, fmt.Errorf("key alias %q already exists", alias)
	}
	if os.Getenv(envVar) == "" {
		return nil, fmt.Errorf("environment variable %q not set", envVar)
	}
	if keyType == "" {
		keyType = "user"
	}

	cred := &Credential{
		Owner:       owner,
		EnvVar:      envVar,
		AccessLevel: "Unknown",
		KeyType:     keyType,
		Scopes:      []string{},
	}
	m.meta.Keys[alias] = cred
	if err := m.save(); err != nil {
		delete(m.meta.Keys, alias)
		return nil, err
	}

	m.logger.Info().Str("alias", alias).Str("owner", owner).Msg("credential registered")
	return cred, nil
}

func (m *Manager) Remove(alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.meta.Keys[alias]
	if !ok {
		return fmt.Errorf("key alias %q not found", alias)
	}
	delete(m.meta.Keys, alias)
	if err := m.save(); err != nil {
		m.meta.Keys[alias] = cred
		return err
	}

	m.logger.Info().Str("alias", alias).Msg("credential removed")
	return nil
}

// Get returns a copy of one credential's metadata.
func (m *Manager) Get(alias string) (Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.meta.Keys[alias]
	if !ok {
		return Credential{}, false
	}
	return *cred, true
}

// ListedCredential is the display form of a credential, with the secret
// masked.
type ListedCredential struct {
	Alias         string `json:"alias"`
	Owner         string `json:"owner"`
	KeyType       string `json:"key_type"`
	AccessLevel   string `json:"access_level"`
	LastValidated string `json:"last_validated,omitempty"`
	MaskedKey     string `json:"masked_key"`
}

// ListForOwner returns the requester's own credentials plus shared ones.
func (m *Manager) ListForOwner(owner string) []ListedCredential {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ListedCredential
	for alias, cred := range m.meta.Keys {
		if cred.Owner != owner && cred.Owner != SharedOwner {
			continue
		}
		out = append(out, ListedCredential{
			Alias:         alias,
			Owner:         cred.Owner,
			KeyType:       cred.KeyType,
			AccessLevel:   cred.AccessLevel,
			LastValidated: cred.LastValidated,
			MaskedKey:     Mask(os.Getenv(cred.EnvVar)),
		})
	}
	return out
}

// HasScope checks whether an alias holds a scope. Scope names may be
// nested ("faction.crimes"); holding the base section implies the nested
// scope, and full-access keys hold everything.
func (m *Manager) HasScope(alias, scope string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasScopeLocked(alias, scope)
}

func (m *Manager) hasScopeLocked(alias, scope string) bool {
	cred, ok := m.meta.Keys[alias]
	if !ok {
		return false
	}
	if cred.AccessLevel == "Full Access" {
		return true
	}
	base := scope
	if i := strings.IndexByte(scope, '.'); i > 0 {
		base = scope[:i]
	}
	for _, held := range cred.Scopes {
		if held == "*" || held == scope || held == base {
			return true
		}
	}
	return false
}

// Select finds a usable credential for a scope: the requester's own keys
// first, then shared ones. Returns the empty string when nothing holds
// the scope.
func (m *Manager) Select(scope, owner string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for alias, cred := range m.meta.Keys {
		if cred.Owner == owner && m.hasScopeLocked(alias, scope) && os.Getenv(cred.EnvVar) != "" {
			return alias
		}
	}
	for alias, cred := range m.meta.Keys {
		if cred.Owner == SharedOwner && m.hasScopeLocked(alias, scope) && os.Getenv(cred.EnvVar) != "" {
			return alias
		}
	}
	return ""
}

// ScopedAliases returns every alias holding a scope with a resolvable
// secret, for callers that rotate across credentials.
func (m *Manager) ScopedAliases(scope string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for alias := range m.meta.Keys {
		if m.hasScopeLocked(alias, scope) && os.Getenv(m.meta.Keys[alias].EnvVar) != "" {
			out = append(out, alias)
		}
	}
	return out
}

// AffiliationProbe resolves the owner faction of a credential secret.
type AffiliationProbe func(ctx context.Context, secret string) (int64, error)

// SelectAffiliated orders the scoped aliases so that credentials whose
// owner belongs to factionID come first. Probe failures demote the
// alias rather than excluding it; any scoped credential may still work.
func (m *Manager) SelectAffiliated(ctx context.Context, scope string, factionID int64, probe AffiliationProbe) []string {
	aliases := m.ScopedAliases(scope)
	if probe == nil || factionID == 0 {
		return aliases
	}

	var affiliated, rest []string
	for _, alias := range aliases {
		owner, err := probe(ctx, m.Secret(alias))
		if err != nil {
			m.logger.Debug().Err(err).Str("alias", alias).Msg("affiliation probe failed")
			rest = append(rest, alias)
			continue
		}
		if owner == factionID {
			affiliated = append(affiliated, alias)
		} else {
			rest = append(rest, alias)
		}
	}
	return append(affiliated, rest...)
}

// ValidationResult reports the outcome of validating one credential.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	AccessLevel string   `json:"access_level,omitempty"`
	Scopes      []string `json:"permissions,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// Validate introspects a key against the remote API and persists the
// returned scope set. A failed validation leaves prior scope data
// untouched and reports the reason.
func (m *Manager) Validate(ctx context.Context, alias string) (ValidationResult, error) {
	secret := m.Secret(alias)
	if secret == "" {
		return ValidationResult{}, fmt.Errorf("key value not found for alias %q", alias)
	}

	info, err := m.client.KeyInfo(ctx, secret)
	if err != nil {
		m.logger.Warn().Err(err).Str("alias", alias).Msg("key validation failed")
		return ValidationResult{Valid: false, Reason: err.Error()}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.meta.Keys[alias]
	if !ok {
		return ValidationResult{}, fmt.Errorf("key alias %q not found", alias)
	}

	prior := *cred
	cred.AccessLevel = accessLevelName(info.AccessLevel, info.AccessType)
	cred.Scopes = info.ScopeNames()
	cred.LastValidated = time.Now().UTC().Format(time.RFC3339)
	if err := m.save(); err != nil {
		*cred = prior
		return ValidationResult{}, err
	}

	m.logger.Info().
		Str("alias", alias).
		Str("access_level", cred.AccessLevel).
		Int("scopes", len(cred.Scopes)).
		Msg("credential validated")

	return ValidationResult{
		Valid:       true,
		AccessLevel: cred.AccessLevel,
		Scopes:      cred.Scopes,
	}, nil
}

func accessLevelName(level int64, accessType string) string {
	if accessType != "" {
		return accessType
	}
	switch level {
	case 1:
		return "Public Only"
	case 2:
		return "Minimal Access"
	case 3:
		return "Limited Access"
	case 4:
		return "Full Access"
	default:
		return "Unknown"
	}
}
