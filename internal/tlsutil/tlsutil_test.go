package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"
)

func TestSecureHTTPClient(t *testing.T) {
	timeout := 15 * time.Second
	client := SecureHTTPClient(timeout)
	if client.Timeout != timeout {
		t.Errorf("Timeout = %v, want %v", client.Timeout, timeout)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("Transport is %T, want *http.Transport", client.Transport)
	}
	if transport.TLSClientConfig == nil {
		t.Fatal("TLSClientConfig should not be nil")
	}
	if transport.TLSClientConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("TLS MinVersion = %d, want %d",
			transport.TLSClientConfig.MinVersion, tls.VersionTLS12)
	}
	if !transport.ForceAttemptHTTP2 {
		t.Error("ForceAttemptHTTP2 should be true")
	}
	if transport.MaxIdleConnsPerHost <= 0 {
		t.Error("MaxIdleConnsPerHost should keep backend connections alive")
	}
}

func TestSecureHTTPClientCipherSuitesAreAEAD(t *testing.T) {
	cfg := clientTLSConfig()
	if len(cfg.CipherSuites) == 0 {
		t.Fatal("CipherSuites should not be empty")
	}
	for _, cs := range cfg.CipherSuites {
		switch cs {
		case tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305:
			// AEAD cipher suite, ok
		default:
			t.Errorf("unexpected non-AEAD cipher suite: %d", cs)
		}
	}
}
