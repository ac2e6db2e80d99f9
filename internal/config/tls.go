package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"
)

// TemporalTLS builds the mTLS client config for the Temporal frontend.
// Returns nil, nil when no client certificate is configured.
func (c *Config) TemporalTLS() (*tls.Config, error) {
	if c.TemporalTLSCert == "" && c.TemporalTLSKey == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.TemporalTLSCert, c.TemporalTLSKey)
	if err != nil {
		return nil, fmt.Errorf("load temporal client cert: %w", err)
	}
	roots, err := loadCertPool(c.TemporalTLSCACert)
	if err != nil {
		return nil, fmt.Errorf("temporal CA: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      roots,
		ServerName:   c.TemporalTLSServerName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// APIServerTLS returns the listener config for the certflow API, or nil
// when it serves plain HTTP. The key pair is re-read whenever the
// certificate file changes, so a renewed certificate is served without a
// restart.
func (c *Config) APIServerTLS() (*tls.Config, error) {
	if c.HTTPTLSCert == "" && c.HTTPTLSKey == "" {
		return nil, nil
	}
	kp := &keyPairReloader{certFile: c.HTTPTLSCert, keyFile: c.HTTPTLSKey}
	if _, err := kp.load(); err != nil {
		return nil, err
	}
	return &tls.Config{
		GetCertificate: kp.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}, nil
}

// loadCertPool returns nil for an empty path, leaving the system roots in use.
func loadCertPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

type keyPairReloader struct {
	certFile string
	keyFile  string

	mu      sync.Mutex
	cert    *tls.Certificate
	modTime time.Time
}

func (kp *keyPairReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return kp.load()
}

// load returns the cached pair unless the certificate file is newer. A
// pair that fails to load while a previous one exists keeps the previous
// one in service; the files are often mid-rotation.
func (kp *keyPairReloader) load() (*tls.Certificate, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	st, err := os.Stat(kp.certFile)
	if err != nil {
		if kp.cert != nil {
			return kp.cert, nil
		}
		return nil, fmt.Errorf("stat api server cert: %w", err)
	}
	if kp.cert != nil && !st.ModTime().After(kp.modTime) {
		return kp.cert, nil
	}

	cert, err := tls.LoadX509KeyPair(kp.certFile, kp.keyFile)
	if err != nil {
		if kp.cert != nil {
			return kp.cert, nil
		}
		return nil, fmt.Errorf("load api server cert: %w", err)
	}
	kp.cert, kp.modTime = &cert, st.ModTime()
	return kp.cert, nil
}
