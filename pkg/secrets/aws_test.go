package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/tablecrow/pkg/schema"
)

type secretsManagerMock struct {
	calls []string
	fn    func(id string) (*secretsmanager.GetSecretValueOutput, error)
}

func (m *secretsManagerMock) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput,
	_ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.calls = append(m.calls, *params.SecretId)
	return m.fn(*params.SecretId)
}

func TestAWSSecretsProvider_Get(t *testing.T) {
	a, err := NewAWSSecretsProvider("key", "secret", "us-east-1")
	require.NoError(t, err)

	mock := &secretsManagerMock{fn: func(id string) (*secretsmanager.GetSecretValueOutput, error) {
		switch id {
		case "key1":
			res := "test-secret"
			return &secretsmanager.GetSecretValueOutput{SecretString: &res}, nil
		case "binary":
			return &secretsmanager.GetSecretValueOutput{SecretBinary: []byte{1}}, nil
		case "missing":
			msg := "no such secret"
			return nil, &smtypes.ResourceNotFoundException{Message: &msg}
		}
		return nil, errors.New("error 123")
	}}
	a.client = mock

	t.Run("secret found", func(t *testing.T) {
		val, err := a.Get("key1")
		require.NoError(t, err)
		assert.Equal(t, "test-secret", val)
	})

	t.Run("binary secret", func(t *testing.T) {
		_, err := a.Get("binary")
		require.EqualError(t, err, `aws secret "binary" has no string value`)
	})

	t.Run("secret not found", func(t *testing.T) {
		_, err := a.Get("missing")
		assert.ErrorIs(t, err, schema.ErrNotFound)
	})

	t.Run("failed call", func(t *testing.T) {
		_, err := a.Get("key2")
		require.EqualError(t, err, `can't read aws secret "key2": error 123`)
	})

	assert.Equal(t, []string{"key1", "binary", "missing", "key2"}, mock.calls)
}
