package vault

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
)

// jksMagic starts every Java KeyStore file
var jksMagic = []byte{0xFE, 0xED, 0xFE, 0xED}

// buildTLSConfig assembles the client TLS settings from ssl properties.
// A nil RootCAs falls back to the system pool.
func buildTLSConfig(ssl config.SSLProperties) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	cert, err := LoadClientCertificate(ssl)
	if err != nil {
		return nil, err
	}
	if cert != nil {
		tlsConfig.Certificates = []tls.Certificate{*cert}
	}

	tlsConfig.InsecureSkipVerify = ssl.SkipVerify //nolint:gosec // opt-in for development servers
	if ssl.SkipVerify {
		return tlsConfig, nil
	}

	pool, err := loadRootCAs(ssl)
	if err != nil {
		return nil, err
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// LoadClientCertificate returns the configured client key pair, or nil when
// no key material is configured. A key store takes precedence over a PEM pair.
func LoadClientCertificate(ssl config.SSLProperties) (*tls.Certificate, error) {
	switch {
	case ssl.KeyStore != "":
		cert, err := loadKeyStore(resourcePath(ssl.KeyStore), ssl.KeyStorePassword)
		if err != nil {
			return nil, sslError("key-store", ssl.KeyStore, err)
		}
		return cert, nil
	case ssl.ClientCert != "" && ssl.ClientKey != "":
		cert, err := tls.LoadX509KeyPair(resourcePath(ssl.ClientCert), resourcePath(ssl.ClientKey))
		if err != nil {
			return nil, sslError("client-cert", ssl.ClientCert, err)
		}
		return &cert, nil
	}
	return nil, nil
}

func loadRootCAs(ssl config.SSLProperties) (*x509.CertPool, error) {
	if ssl.CACert == "" && ssl.TrustStore == "" {
		return nil, nil
	}

	pool := x509.NewCertPool()
	if ssl.CACert != "" {
		data, err := os.ReadFile(resourcePath(ssl.CACert))
		if err != nil {
			return nil, sslError("ca-cert", ssl.CACert, err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, sslError("ca-cert", ssl.CACert, fmt.Errorf("no PEM certificates found"))
		}
	}
	if ssl.TrustStore != "" {
		if err := appendTrustStore(pool, resourcePath(ssl.TrustStore), ssl.TrustStorePassword); err != nil {
			return nil, sslError("trust-store", ssl.TrustStore, err)
		}
	}
	return pool, nil
}

// loadKeyStore reads a JKS or PKCS#12 key store. The format comes from the
// content, so a PKCS#12 file named client-cert.jks loads as PKCS#12.
func loadKeyStore(path, password string) (*tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if isJKS(data) {
		return loadJKSKeyPair(data, password)
	}

	key, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode PKCS#12 key store: %w", err)
	}
	cert := &tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, ca := range chain {
		cert.Certificate = append(cert.Certificate, ca.Raw)
	}
	return cert, nil
}

func loadJKSKeyPair(data []byte, password string) (*tls.Certificate, error) {
	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(data), []byte(password)); err != nil {
		return nil, fmt.Errorf("load JKS key store: %w", err)
	}

	aliases := ks.Aliases()
	sort.Strings(aliases)
	for _, alias := range aliases {
		if !ks.IsPrivateKeyEntry(alias) {
			continue
		}
		entry, err := ks.GetPrivateKeyEntry(alias, []byte(password))
		if err != nil {
			return nil, fmt.Errorf("read key entry %q: %w", alias, err)
		}
		key, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse key entry %q: %w", alias, err)
		}
		if len(entry.CertificateChain) == 0 {
			return nil, fmt.Errorf("key entry %q has no certificate chain", alias)
		}

		cert := &tls.Certificate{PrivateKey: key}
		for _, c := range entry.CertificateChain {
			cert.Certificate = append(cert.Certificate, c.Content)
		}
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
		return cert, nil
	}
	return nil, fmt.Errorf("no private key entry in JKS key store")
}

// appendTrustStore adds the certificates of a JKS, PEM or PKCS#12 trust
// store to pool
func appendTrustStore(pool *x509.CertPool, path, password string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if !isJKS(data) {
		if pool.AppendCertsFromPEM(data) {
			return nil
		}
		certs, err := decodePKCS12TrustStore(data, password)
		if err != nil {
			return err
		}
		for _, cert := range certs {
			pool.AddCert(cert)
		}
		return nil
	}

	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(data), []byte(password)); err != nil {
		return fmt.Errorf("load JKS trust store: %w", err)
	}

	added := 0
	for _, alias := range ks.Aliases() {
		var raw [][]byte
		switch {
		case ks.IsTrustedCertificateEntry(alias):
			entry, err := ks.GetTrustedCertificateEntry(alias)
			if err != nil {
				return err
			}
			raw = append(raw, entry.Certificate.Content)
		case ks.IsPrivateKeyEntry(alias):
			chain, err := ks.GetPrivateKeyEntryCertificateChain(alias)
			if err != nil {
				return err
			}
			for _, c := range chain {
				raw = append(raw, c.Content)
			}
		}
		for _, der := range raw {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return fmt.Errorf("parse certificate %q: %w", alias, err)
			}
			pool.AddCert(cert)
			added++
		}
	}
	if added == 0 {
		return fmt.Errorf("no certificates in JKS trust store")
	}
	return nil
}

func isJKS(data []byte) bool {
	return bytes.HasPrefix(data, jksMagic)
}

// decodePKCS12TrustStore accepts Java trust stores, whose entries carry the
// trusted-key-usage attribute, and plain bundles holding a key pair and chain
func decodePKCS12TrustStore(data []byte, password string) ([]*x509.Certificate, error) {
	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err == nil && len(certs) > 0 {
		return certs, nil
	}
	_, leaf, chain, chainErr := pkcs12.DecodeChain(data, password)
	if chainErr != nil {
		if err == nil {
			err = chainErr
		}
		return nil, fmt.Errorf("no PEM certificates found and not a PKCS#12 store: %w", err)
	}
	return append(chain, leaf), nil
}

// resourcePath strips the file: prefix used by Spring resource locations
func resourcePath(location string) string {
	return strings.TrimPrefix(location, "file:")
}

// EncodeCertificatePEM renders a DER certificate as PEM
func EncodeCertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func sslError(field, value string, err error) error {
	return dserrors.UserError{
		Message:    fmt.Sprintf("Cannot load spring.cloud.vault.ssl.%s", field),
		Details:    fmt.Sprintf("%s: %v", value, err),
		Suggestion: "Check the file location and password. Key stores may be JKS or PKCS#12",
		Err:        err,
	}
}
