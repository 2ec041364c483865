// Package hashed stores one-way hashes of hashed field values and resolves
// equality predicates on them after a candidate fetch.
package hashed

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/mesh-intelligence/shelf/internal/metrics"
	"github.com/mesh-intelligence/shelf/internal/syntax"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Hasher is a one-way hash with a verify operation.
type Hasher interface {
	Hash(plain string) (string, error)
	// Verify reports whether plain hashes to hash.
	Verify(hash, plain string) bool
}

// Bcrypt hashes with bcrypt at Cost.
type Bcrypt struct {
	Cost int
}

// Hash returns the bcrypt hash of plain.
func (b Bcrypt) Hash(plain string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: hashed values are limited to 72 bytes", types.ErrTypeMismatch)
		}
		return "", fmt.Errorf("hashing value: %w", err)
	}
	return string(h), nil
}

// Verify compares plain with hash. A corrupt hash is a mismatch.
func (b Bcrypt) Verify(hash, plain string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Resolver applies hashing on the write path and hashed predicates on the
// read path.
type Resolver struct {
	hasher Hasher
	limit  int
}

// NewResolver returns a Resolver. limit bounds the candidates a hashed read
// may verify; zero disables the bound.
func NewResolver(hasher Hasher, limit int) *Resolver {
	return &Resolver{hasher: hasher, limit: limit}
}

// HashForWrite returns contents with the text of every hashed field replaced
// by its hash. contents is not modified.
func (r *Resolver) HashForWrite(fields []types.FieldDefinition, contents []types.FieldContent) ([]types.FieldContent, error) {
	hashedIDs := make(map[string]string)
	for _, f := range fields {
		if f.Hashed {
			hashedIDs[f.FieldID] = f.Slug
		}
	}
	out := make([]types.FieldContent, len(contents))
	for i, c := range contents {
		out[i] = c
		slug, ok := hashedIDs[c.FieldID]
		if !ok || c.Text == nil {
			continue
		}
		h, err := r.hasher.Hash(*c.Text)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", slug, err)
		}
		out[i].Text = &h
	}
	return out, nil
}

// Matches reports whether the stored content of a hashed field hashes
// plain. A verify that panics is a mismatch.
func (r *Resolver) Matches(c types.FieldContent, plain string) (ok bool) {
	result := metrics.Mismatch
	defer func() {
		if recover() != nil {
			result, ok = metrics.Error, false
		}
		metrics.HashedVerification(result)
	}()
	if c.Text != nil && r.hasher.Verify(*c.Text, plain) {
		result = metrics.Match
		return true
	}
	return false
}

// CheckCandidates fails when n candidates are too many to verify.
func (r *Resolver) CheckCandidates(n int) error {
	if r.limit > 0 && n > r.limit {
		return fmt.Errorf("%w: %d records match the unhashed part of the query, at most %d can be compared with hashed fields; add more filters",
			types.ErrNotSelective, n, r.limit)
	}
	return nil
}

// ResolveForRead keeps the candidates that satisfy every predicate.
// Candidate order is preserved.
func (r *Resolver) ResolveForRead(candidates []types.Record, preds []syntax.HashedPredicate) []types.Record {
	if len(preds) == 0 {
		return candidates
	}
	out := make([]types.Record, 0, len(candidates))
	for _, rec := range candidates {
		if r.all(&rec, preds) {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Resolver) all(rec *types.Record, preds []syntax.HashedPredicate) bool {
	for _, p := range preds {
		c, ok := rec.Content(p.Field.FieldID)
		if !ok || !r.Matches(c, p.Value) {
			return false
		}
	}
	return true
}
