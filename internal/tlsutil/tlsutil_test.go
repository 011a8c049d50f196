package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.ElementsMatch(t, aeadSuites, cfg.CipherSuites)

	// Each call returns an independent slice.
	cfg.CipherSuites[0] = 0
	assert.NotEqual(t, uint16(0), DefaultTLSConfig().CipherSuites[0])
}

func TestRedisTLSConfig(t *testing.T) {
	cfg := RedisTLSConfig("cache.internal")
	assert.Equal(t, "cache.internal", cfg.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}

func TestSecureHTTPClient(t *testing.T) {
	client := SecureHTTPClient(15 * time.Second)
	assert.Equal(t, 15*time.Second, client.Timeout)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, tr.TLSClientConfig)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.Equal(t, 8, tr.MaxIdleConnsPerHost)
}
