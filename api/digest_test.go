package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigestIsDeterministicPerSecretAndBody(t *testing.T) {
	secret := []byte("topsecret")
	body := []byte(`{"job":{"name":"suite"}}`)

	digest := Digest(secret, body)
	assert.Len(t, digest, 128) // hex-encoded SHA-512
	assert.Equal(t, digest, Digest(secret, body))
	assert.NotEqual(t, digest, Digest([]byte("othersecret"), body))
	assert.NotEqual(t, digest, Digest(secret, []byte(`{"job":{"name":"other"}}`)))
}

func TestDigestValid(t *testing.T) {
	secret := []byte("topsecret")
	body := []byte("payload")

	assert.True(t, DigestValid(secret, body, Digest(secret, body)))
	assert.False(t, DigestValid(secret, body, Digest(secret, []byte("tampered"))))
	assert.False(t, DigestValid(secret, body, ""))
	assert.False(t, DigestValid([]byte("wrong"), body, Digest(secret, body)))
}
