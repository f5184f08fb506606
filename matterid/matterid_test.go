package matterid

import (
	"context"
	"testing"

	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/storage"
)

type fakeMeta struct {
	storage.MetaStore
	matter  *storage.Matter
	members map[string]bool
}

func (f *fakeMeta) GetMatter(ctx context.Context, matterID string) (*storage.Matter, error) {
	if f.matter == nil || f.matter.ID != matterID {
		return nil, nil
	}
	return f.matter, nil
}

func (f *fakeMeta) IsMember(ctx context.Context, matterID, userID string) (bool, error) {
	return f.members[userID], nil
}

const validMatter = "11111111-1111-1111-1111-111111111111"
const validUser = "22222222-2222-2222-2222-222222222222"
const otherMatter = "33333333-3333-3333-3333-333333333333"

func TestGuardRejectsMalformedUUID(t *testing.T) {
	g := New(&fakeMeta{})
	if _, err := g.Check(context.Background(), "not-a-uuid", validUser); apperr.KindOf(err) != apperr.InvalidParameter {
		t.Fatalf("expected InvalidParameter, got %v", err)
	}
}

func TestGuardHidesExistenceForNonMembers(t *testing.T) {
	meta := &fakeMeta{
		matter:  &storage.Matter{ID: validMatter},
		members: map[string]bool{},
	}
	g := New(meta)
	_, err := g.Check(context.Background(), validMatter, validUser)
	if apperr.KindOf(err) != apperr.MatterNotFound {
		t.Fatalf("expected MatterNotFound for non-member, got %v", err)
	}
}

func TestGuardHidesExistenceForMissingMatter(t *testing.T) {
	meta := &fakeMeta{matter: &storage.Matter{ID: otherMatter}}
	g := New(meta)
	_, err := g.Check(context.Background(), validMatter, validUser)
	if apperr.KindOf(err) != apperr.MatterNotFound {
		t.Fatalf("expected MatterNotFound for missing matter, got %v", err)
	}
}

func TestGuardPassesForMember(t *testing.T) {
	meta := &fakeMeta{
		matter:  &storage.Matter{ID: validMatter},
		members: map[string]bool{validUser: true},
	}
	g := New(meta)
	m, err := g.Check(context.Background(), validMatter, validUser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID != validMatter {
		t.Fatalf("expected matter %s, got %s", validMatter, m.ID)
	}
}

func TestKeyEmbedsMatterIDFirst(t *testing.T) {
	k, err := Key("cache:query", validMatter, "abcd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "cache:query:" + validMatter + ":abcd"
	if k != want {
		t.Fatalf("got %q, want %q", k, want)
	}
}

func TestKeyRejectsMalformedMatter(t *testing.T) {
	if _, err := Key("cache:query", "bad", "x"); err == nil {
		t.Fatal("expected error for malformed matter id")
	}
}
