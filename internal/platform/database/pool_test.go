package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequiresURL(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.EqualError(t, err, "database url not configured")
}

func TestNewRejectsMalformedURL(t *testing.T) {
	_, err := New(context.Background(), DefaultConfig("postgres://%zz"))
	assert.ErrorContains(t, err, "parse database url")
}

func TestNilPool(t *testing.T) {
	var p *Pool
	assert.Error(t, p.Health(context.Background()))
	assert.NoError(t, p.Close())
}
