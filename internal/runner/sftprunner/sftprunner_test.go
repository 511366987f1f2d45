package sftprunner

import (
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMethod_Password(t *testing.T) {
	m, err := authMethod(domain.SftpAuth{Kind: domain.SftpAuthPassword, Password: "secret"})
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestAuthMethod_SSHKeyMissingFile(t *testing.T) {
	_, err := authMethod(domain.SftpAuth{Kind: domain.SftpAuthSSHKey, KeyPath: "/nonexistent/id_rsa"})
	assert.Error(t, err)
}

func TestAuthMethod_UnknownKind(t *testing.T) {
	_, err := authMethod(domain.SftpAuth{Kind: "bogus"})
	assert.Error(t, err)
}
