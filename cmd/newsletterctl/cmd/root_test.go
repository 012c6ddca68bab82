package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-backend/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootListsSubcommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"migrate", "seed", "process", "sweep", "preview", "token"} {
		assert.Contains(t, out, name)
	}
}

func TestProcessRequiresSendID(t *testing.T) {
	_, err := execute(t, "process")
	assert.Error(t, err)
}

func TestTokenIssuesAdminJWT(t *testing.T) {
	t.Setenv("JWT_SECRET", "ctl-secret")

	out, err := execute(t, "token", "ops@example.com")
	require.NoError(t, err)

	claims, err := auth.ParseToken("ctl-secret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.True(t, claims.HasRole("admin"))
	assert.Equal(t, "ops@example.com", claims.Subject)
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := execute(t, "token", "ops@example.com")
	assert.Error(t, err)
}
