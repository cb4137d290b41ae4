package fixtures

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginServer_PromptsForUsernameThenPassword(t *testing.T) {
	var gotUser, gotPass string
	server := newLoginServer(func(username, password string) error {
		gotUser, gotPass = username, password
		return nil
	})

	challenge, done, err := server.Next(nil)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "Username:", string(challenge))

	challenge, done, err = server.Next([]byte("relay-user"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "Password:", string(challenge))

	_, done, err = server.Next([]byte("relay-pass"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "relay-user", gotUser)
	assert.Equal(t, "relay-pass", gotPass)
}

func TestLoginServer_InitialResponseSkipsUsernamePrompt(t *testing.T) {
	server := newLoginServer(func(username, password string) error {
		if username != "relay-user" || password != "relay-pass" {
			return errors.New("bad credentials")
		}
		return nil
	})

	challenge, done, err := server.Next([]byte("relay-user"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "Password:", string(challenge))

	_, done, err = server.Next([]byte("wrong"))
	assert.True(t, done)
	assert.EqualError(t, err, "bad credentials")
}
