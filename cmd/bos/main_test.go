package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"bos", "help"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Usage: bos")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"bos", "frobnicate"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "unknown command")
}

func TestRunHashKey(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"bos", "hash-key", "sk-live-1"}, &out, &errOut)
	require.Equal(t, 0, code)

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("sk-live-1")))
}

func TestRunHashKeyMissingArgument(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"bos", "hash-key"}, &out, &errOut)
	assert.Equal(t, 2, code)
}

func TestBuildCatalog(t *testing.T) {
	catalog, err := buildCatalog()
	require.NoError(t, err)

	binding, ok := catalog.Lookup("cash.session.open.request")
	require.True(t, ok)
	assert.Equal(t, "BRANCH_REQUIRED", string(binding.Scope))

	_, ok = catalog.Lookup("cash.session.freeze.request")
	assert.False(t, ok)
}
