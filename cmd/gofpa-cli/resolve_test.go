package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "nursery_fpa", normalizeName("  Nursery - FPA "))
	assert.Equal(t, "kitchen", normalizeName("KITCHEN"))
}

func TestResolveNamedID(t *testing.T) {
	options := map[string]string{"Kitchen": "dev1", "Nursery FPA": "dev2"}

	id, err := resolveNamedID("device", "nursery-fpa", options)
	require.NoError(t, err)
	assert.Equal(t, "dev2", id)

	_, err = resolveNamedID("device", "garage", options)
	assert.ErrorContains(t, err, "Kitchen (dev1), Nursery FPA (dev2)")
}
