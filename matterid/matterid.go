// Package matterid is the namespace guard (C1): it validates matter and
// caller identities before any storage or retrieval call, and builds the
// matter-scoped keys every cache, queue, and search operation must use.
//
// Grounded on the teacher's identifier/validation helpers in
// goreason.go (input validation ahead of store calls), generalized here
// into a dedicated guard since the teacher is single-tenant and has no
// matter concept at all.
package matterid

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/storage"
)

// Validate reports whether id is a well-formed UUID.
func Validate(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.New(apperr.InvalidParameter, "malformed identifier").WithRetryable(false)
	}
	return nil
}

// Guard asserts that matterID is well-formed and that userID is a member
// of it. It never distinguishes "matter does not exist" from "caller is
// not a member" — both collapse to MatterNotFound, so the API never leaks
// the existence of matters the caller cannot see.
type Guard struct {
	meta storage.MetaStore
}

func New(meta storage.MetaStore) *Guard {
	return &Guard{meta: meta}
}

// Check validates identifiers and membership. Returns the matter on
// success so callers don't need a second round-trip.
func (g *Guard) Check(ctx context.Context, matterID, userID string) (*storage.Matter, error) {
	if err := Validate(matterID); err != nil {
		return nil, err
	}
	if userID != "" {
		if err := Validate(userID); err != nil {
			return nil, err
		}
	}

	m, err := g.meta.GetMatter(ctx, matterID)
	if err != nil {
		return nil, apperr.Wrap(apperr.MatterNotFound, "matter not found", err)
	}
	if m == nil {
		return nil, apperr.New(apperr.MatterNotFound, "matter not found")
	}

	if userID != "" {
		ok, err := g.meta.IsMember(ctx, matterID, userID)
		if err != nil {
			return nil, apperr.Wrap(apperr.MatterNotFound, "matter not found", err)
		}
		if !ok {
			return nil, apperr.New(apperr.MatterNotFound, "matter not found")
		}
	}

	return m, nil
}

// Key builds a matter-scoped derived key: cache, queue, and session keys
// all take this shape, with matter_id as the first scoping segment.
// Any caller that cannot supply a valid matterID must not call this —
// there is no "unscoped" variant, by design.
func Key(namespace, matterID string, parts ...string) (string, error) {
	if err := Validate(matterID); err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s:%s", namespace, matterID)
	for _, p := range parts {
		key += ":" + p
	}
	return key, nil
}
