// Package nullifier derives the opaque, deduplicable tokens attached to
// EIP-712 credentials. Several generators may run for one record, one per
// active key version plus the OPRF generator when configured, so callers
// must not assume a fixed number of nullifiers.
package nullifier

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"iam/internal/credential/keys"
	"iam/internal/credential/models"
)

// Generator produces one nullifier for a record.
type Generator interface {
	Generate(ctx context.Context, record models.FactRecord) (string, error)
}

// HashGenerator yields "v<version>:" + base64(SHA-256(secret || canonical record)).
type HashGenerator struct {
	prefix string
	secret []byte
}

func NewHashGenerator(version string, secret []byte) *HashGenerator {
	return &HashGenerator{prefix: "v" + version, secret: secret}
}

// ForKey builds the hash generator for one EIP-712 key version.
func ForKey(k keys.Key) *HashGenerator {
	return NewHashGenerator(strconv.Itoa(k.Version), k.Secret())
}

func (g *HashGenerator) Generate(_ context.Context, record models.FactRecord) (string, error) {
	d, err := record.Digest(g.secret)
	if err != nil {
		return "", fmt.Errorf("hash nullifier: %w", err)
	}
	return g.prefix + ":" + d, nil
}

// Set runs several generators and returns their nullifiers in set order.
type Set []Generator

// ForKeys returns one hash generator per key followed by extra.
func ForKeys(current []keys.Key, extra ...Generator) Set {
	set := make(Set, 0, len(current)+len(extra))
	for _, k := range current {
		set = append(set, ForKey(k))
	}
	return append(set, extra...)
}

// Generate runs every generator concurrently. Any failure fails the set.
func (s Set) Generate(ctx context.Context, record models.FactRecord) ([]string, error) {
	out := make([]string, len(s))
	g, ctx := errgroup.WithContext(ctx)
	for i, gen := range s {
		g.Go(func() error {
			n, err := gen.Generate(ctx, record)
			if err != nil {
				return err
			}
			out[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
