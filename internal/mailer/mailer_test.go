package mailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

func TestMessage(t *testing.T) {
	m, err := Message("robot@example.com", "ops@example.com", "nightly", "all good")
	require.NoError(t, err)

	require.Len(t, m.GetFrom(), 1)
	assert.Equal(t, "robot@example.com", m.GetFrom()[0].Address)
	require.Len(t, m.GetTo(), 1)
	assert.Equal(t, "ops@example.com", m.GetTo()[0].Address)
	assert.Equal(t, []string{"nightly"}, m.GetGenHeader(mail.HeaderSubject))
}

func TestMessageRejectsBadAddress(t *testing.T) {
	_, err := Message("not an address", "ops@example.com", "s", "b")
	assert.Error(t, err)

	_, err = Message("robot@example.com", "", "s", "b")
	assert.Error(t, err)
}

func TestConfigured(t *testing.T) {
	assert.False(t, Config{}.Configured())
	assert.False(t, Config{Host: "smtp.example.com"}.Configured())
	assert.True(t, Config{Host: "smtp.example.com", Sender: "robot@example.com"}.Configured())
}
