package keys

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"torntracker/internal/api"

	"github.com/rs/zerolog"
)

type fakeIntrospector struct {
	info *api.KeyInfoResponse
	err  error
}

func (f *fakeIntrospector) KeyInfo(context.Context, string) (*api.KeyInfoResponse, error) {
	return f.info, f.err
}

func newTestManager(t *testing.T, client Introspector) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.json")
	m, err := NewManager(path, client, zerolog.Nop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestAddAndRemove(t *testing.T) {
	m := newTestManager(t, nil)
	t.Setenv("TORN_KEY_ALICE", "abcd1234efgh5678")

	cred, err := m.Add("alice", "TORN_KEY_ALICE", "discord:1", "user")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if cred.AccessLevel != "Unknown" {
		t.Errorf("fresh credential must await validation, got level %q", cred.AccessLevel)
	}

	if _, err := m.Add("alice", "TORN_KEY_ALICE", "discord:1", "user"); err == nil {
		t.Error("duplicate alias must be rejected")
	}
	if _, err := m.Add("bob", "TORN_KEY_UNSET", "discord:2", "user"); err == nil {
		t.Error("missing environment variable must be rejected")
	}

	if got := m.Secret("alice"); got != "abcd1234efgh5678" {
		t.Errorf("secret lookup: got %q", got)
	}

	if err := m.Remove("alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := m.Get("alice"); ok {
		t.Error("credential still present after remove")
	}
	if err := m.Remove("alice"); err == nil {
		t.Error("removing an unknown alias must fail")
	}
}

func TestMetadataSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	t.Setenv("TORN_KEY_ALICE", "abcd1234efgh5678")

	m, err := NewManager(path, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Add("alice", "TORN_KEY_ALICE", "shared", "faction"); err != nil {
		t.Fatalf("add: %v", err)
	}

	reloaded, err := NewManager(path, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cred, ok := reloaded.Get("alice")
	if !ok {
		t.Fatal("credential lost across reload")
	}
	if cred.Owner != "shared" || cred.KeyType != "faction" {
		t.Errorf("metadata mangled across reload: %+v", cred)
	}
}

func TestMask(t *testing.T) {
	if got := Mask("abcd1234efgh5678"); got != "****-****-****-5678" {
		t.Errorf("mask: got %q", got)
	}
	if got := Mask("ab"); got != "****" {
		t.Errorf("short key mask: got %q", got)
	}
}

func TestHasScope(t *testing.T) {
	m := newTestManager(t, nil)
	t.Setenv("TORN_KEY_A", "keyvalue11112222")
	if _, err := m.Add("scoped", "TORN_KEY_A", "shared", "faction"); err != nil {
		t.Fatalf("add: %v", err)
	}

	m.mu.Lock()
	m.meta.Keys["scoped"].AccessLevel = "Limited Access"
	m.meta.Keys["scoped"].Scopes = []string{"faction"}
	m.mu.Unlock()

	if !m.HasScope("scoped", "faction") {
		t.Error("exact scope must match")
	}
	if !m.HasScope("scoped", "faction.crimes") {
		t.Error("holding the base section implies its sub-scopes")
	}
	if m.HasScope("scoped", "user") {
		t.Error("unrelated scope must not match")
	}
	if m.HasScope("missing", "faction") {
		t.Error("unknown alias must not match")
	}

	m.mu.Lock()
	m.meta.Keys["scoped"].AccessLevel = "Full Access"
	m.meta.Keys["scoped"].Scopes = nil
	m.mu.Unlock()

	if !m.HasScope("scoped", "user.profile") {
		t.Error("full access implies every scope")
	}
}

func TestSelectPrefersOwnKeys(t *testing.T) {
	m := newTestManager(t, nil)
	t.Setenv("TORN_KEY_OWN", "ownkey1111122222")
	t.Setenv("TORN_KEY_SHARED", "sharedkey1112222")

	for alias, fixture := range map[string][2]string{
		"own":    {"TORN_KEY_OWN", "discord:1"},
		"pooled": {"TORN_KEY_SHARED", SharedOwner},
	} {
		if _, err := m.Add(alias, fixture[0], fixture[1], "user"); err != nil {
			t.Fatalf("add %s: %v", alias, err)
		}
		m.mu.Lock()
		m.meta.Keys[alias].Scopes = []string{"user"}
		m.mu.Unlock()
	}

	if got := m.Select("user", "discord:1"); got != "own" {
		t.Errorf("requester's own key must win, got %q", got)
	}
	if got := m.Select("user", "discord:99"); got != "pooled" {
		t.Errorf("stranger falls back to the shared pool, got %q", got)
	}
	if got := m.Select("faction.crimes", "discord:1"); got != "" {
		t.Errorf("no key holds the scope, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	client := &fakeIntrospector{
		info: &api.KeyInfoResponse{
			AccessLevel: 3,
			Selections:  map[string][]string{"faction": {"crimes", "basic"}},
		},
	}
	m := newTestManager(t, client)
	t.Setenv("TORN_KEY_A", "keyvalue11112222")
	if _, err := m.Add("main", "TORN_KEY_A", "shared", "faction"); err != nil {
		t.Fatalf("add: %v", err)
	}

	res, err := m.Validate(context.Background(), "main")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Valid || res.AccessLevel != "Limited Access" {
		t.Errorf("unexpected result: %+v", res)
	}
	if !m.HasScope("main", "faction.crimes") {
		t.Error("validated scopes must be persisted")
	}

	// A remote failure reports invalid without destroying known scopes.
	client.info, client.err = nil, fmt.Errorf("key read error")
	res, err = m.Validate(context.Background(), "main")
	if err != nil {
		t.Fatalf("validate after failure: %v", err)
	}
	if res.Valid {
		t.Error("remote failure must report invalid")
	}
	if !m.HasScope("main", "faction.crimes") {
		t.Error("failed validation must leave prior scopes untouched")
	}

	if _, err := m.Validate(context.Background(), "ghost"); err == nil {
		t.Error("validation of unknown alias must fail")
	}
}

func TestSelectAffiliatedOrdering(t *testing.T) {
	m := newTestManager(t, nil)
	aliases := map[string]string{
		"far":  "TORN_KEY_FAR",
		"home": "TORN_KEY_HOME",
	}
	for alias, envVar := range aliases {
		t.Setenv(envVar, "secret_"+alias+"_1234")
		if _, err := m.Add(alias, envVar, SharedOwner, "faction"); err != nil {
			t.Fatalf("add %s: %v", alias, err)
		}
		m.mu.Lock()
		m.meta.Keys[alias].AccessLevel = "Full Access"
		m.mu.Unlock()
	}

	probe := func(_ context.Context, secret string) (int64, error) {
		switch secret {
		case "secret_home_1234":
			return 7, nil
		case "secret_far_1234":
			return 8, nil
		}
		return 0, fmt.Errorf("unknown key")
	}

	got := m.SelectAffiliated(context.Background(), "faction.crimes", 7, probe)
	if len(got) != 2 || got[0] != "home" {
		t.Fatalf("affiliated credential must come first, got %v", got)
	}

	// A failing probe demotes a credential but never drops it.
	failing := func(context.Context, string) (int64, error) {
		return 0, fmt.Errorf("probe down")
	}
	got = m.SelectAffiliated(context.Background(), "faction.crimes", 7, failing)
	if len(got) != 2 {
		t.Fatalf("probe failure must not exclude credentials, got %v", got)
	}

	// Without a probe the scoped set comes back as-is.
	got = m.SelectAffiliated(context.Background(), "faction.crimes", 0, probe)
	if len(got) != 2 {
		t.Fatalf("unfiltered selection: got %v", got)
	}
}
