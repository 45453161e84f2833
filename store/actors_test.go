package store

import (
	"errors"
	"testing"
	"time"

	"github.com/deemkeen/fedinbox/domain"
)

func TestActorInfoRoundTrip(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	exists, err := a.Exists()
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Fatal("Expected fresh actor to not exist")
	}

	info := &domain.ActorInfo{
		ActorURL:    "https://local.example/actors/alice",
		PublicKeyID: "https://local.example/actors/alice#main-key",
		KeyPair: domain.KeyPair{
			PublicKeyPem:  "pub",
			PrivateKeyPem: "priv",
		},
		ManuallyApprovesFollowers: true,
		CreatedAt:                 time.Now().UTC().Truncate(time.Second),
	}
	if err := a.SetInfo(info); err != nil {
		t.Fatalf("SetInfo failed: %v", err)
	}

	got, err := a.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if got.ActorURL != info.ActorURL || !got.ManuallyApprovesFollowers {
		t.Errorf("Stored info differs: %+v", got)
	}

	exists, err = a.Exists()
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Expected actor to exist after SetInfo")
	}
}

func TestActorInfoPublicStripsPrivateKey(t *testing.T) {
	info := domain.ActorInfo{
		KeyPair: domain.KeyPair{PublicKeyPem: "pub", PrivateKeyPem: "priv"},
	}
	pub := info.Public()
	if pub.KeyPair.PrivateKeyPem != "" {
		t.Error("Public() must strip the private key")
	}
	if info.KeyPair.PrivateKeyPem != "priv" {
		t.Error("Public() must not mutate the original")
	}
}

func TestActorHooks(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	hook, err := a.Hook(domain.HookOnApproved)
	if err != nil {
		t.Fatalf("Hook failed: %v", err)
	}
	if hook != nil {
		t.Fatal("Expected no hook configured initially")
	}

	want := &domain.Hook{URL: "https://hooks.example/notify", Method: "POST"}
	if err := a.SetHook(domain.HookOnApproved, want); err != nil {
		t.Fatalf("SetHook failed: %v", err)
	}

	hook, err = a.Hook(domain.HookOnApproved)
	if err != nil {
		t.Fatalf("Hook failed: %v", err)
	}
	if hook == nil || hook.URL != want.URL {
		t.Errorf("Stored hook differs: %+v", hook)
	}

	// Other events are unaffected.
	hook, err = a.Hook(domain.HookOnRejected)
	if err != nil {
		t.Fatalf("Hook failed: %v", err)
	}
	if hook != nil {
		t.Error("Expected no hook for a different event")
	}

	if err := a.DeleteHook(domain.HookOnApproved); err != nil {
		t.Fatalf("DeleteHook failed: %v", err)
	}
	hook, err = a.Hook(domain.HookOnApproved)
	if err != nil {
		t.Fatalf("Hook failed: %v", err)
	}
	if hook != nil {
		t.Error("Expected hook removed after delete")
	}
}

func TestActorDeleteRemovesEverything(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	info := &domain.ActorInfo{ActorURL: "https://local.example/actors/alice"}
	if err := a.SetInfo(info); err != nil {
		t.Fatalf("SetInfo failed: %v", err)
	}
	if err := a.Inbox.Add(&domain.Activity{ID: "https://remote.example/activities/1", Type: domain.TypeFollow}); err != nil {
		t.Fatalf("Inbox add failed: %v", err)
	}
	if err := a.Followers.Add("@bob@remote.example"); err != nil {
		t.Fatalf("Followers add failed: %v", err)
	}

	if err := a.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// A fresh handle sees none of the old state.
	a2, err := s.Actor("@alice@local.example")
	if err != nil {
		t.Fatalf("Actor reopen failed: %v", err)
	}
	if _, err := a2.Info(); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for deleted actor info, got %v", err)
	}
	n, err := a2.Inbox.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected empty inbox after delete, got %d", n)
	}
	followers, err := a2.Followers.List()
	if err != nil {
		t.Fatalf("Followers list failed: %v", err)
	}
	if len(followers) != 0 {
		t.Errorf("Expected no followers after delete, got %v", followers)
	}
}
