package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/synchronvoice/synchron/internal/config"
	"github.com/synchronvoice/synchron/pkg/live"
	"github.com/synchronvoice/synchron/pkg/live/mock"
)

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	want := &mock.Provider{}
	var gotEntry config.ProviderEntry
	reg.Register("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		gotEntry = entry
		return want, nil
	})

	entry := config.ProviderEntry{Name: "gemini-live", APIKey: "k", Model: "m"}
	p, err := reg.Create(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != want {
		t.Error("Create did not return the factory's provider")
	}
	if gotEntry != entry {
		t.Errorf("factory received entry %+v, want %+v", gotEntry, entry)
	}
}

func TestRegistry_CreateUnregistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.Create(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	first := &mock.Provider{}
	second := &mock.Provider{}
	reg.Register("gemini-live", func(config.ProviderEntry) (live.Provider, error) { return first, nil })
	reg.Register("gemini-live", func(config.ProviderEntry) (live.Provider, error) { return second, nil })

	p, err := reg.Create(config.ProviderEntry{Name: "gemini-live"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != second {
		t.Error("Create returned the first registration; want the overwriting one")
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.Register("gemini-live", func(config.ProviderEntry) (live.Provider, error) { return &mock.Provider{}, nil })
	reg.Register("openai-realtime", func(config.ProviderEntry) (live.Provider, error) { return &mock.Provider{}, nil })

	names := reg.Names()
	slices.Sort(names)
	want := []string{"gemini-live", "openai-realtime"}
	if !slices.Equal(names, want) {
		t.Errorf("Names() = %v, want %v", names, want)
	}
}
