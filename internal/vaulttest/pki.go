package vaulttest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

// StorePassword protects the key and trust stores written by NewPKI
const StorePassword = "changeit"

// PKI is a throwaway certificate authority with one server and one client
// certificate. Files lists the material written to disk.
type PKI struct {
	CA         *x509.Certificate
	ServerCert tls.Certificate
	ClientCert tls.Certificate

	Files PKIFiles
}

// PKIFiles are paths to the generated material
type PKIFiles struct {
	CACert       string
	ClientCert   string
	ClientKey    string
	KeyStore     string // JKS with the client key pair
	TrustStore   string // JKS with the CA certificate
	ClientNoCert string // JKS with only a trusted certificate

	PKCS12KeyStore string // legacy RC2/SHA-1 PKCS#12 with key, certificate and CA chain
	ModernKeyStore string // AES-256/SHA-256 PKCS#12 with key, certificate and CA chain
	PKCS12AsJKS    string // modern PKCS#12 saved under a .jks name, as keytool does
	PKCS12Trust    string // PKCS#12 Java trust store with the CA certificate
}

// NewPKI generates certificates and writes them below t.TempDir()
func NewPKI(t testing.TB) *PKI {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "vaultconfig test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	issue := func(serial int64, cn string, usage x509.ExtKeyUsage) (tls.Certificate, []byte, *ecdsa.PrivateKey) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(serial),
			Subject:      pkix.Name{CommonName: cn},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(24 * time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{usage},
			IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
			DNSNames:     []string{"localhost"},
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, &key.PublicKey, caKey)
		require.NoError(t, err)
		leaf, err := x509.ParseCertificate(der)
		require.NoError(t, err)
		return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, der, key
	}

	server, _, _ := issue(2, "localhost", x509.ExtKeyUsageServerAuth)
	client, clientDER, clientKey := issue(3, "vaultconfig client", x509.ExtKeyUsageClientAuth)

	p := &PKI{CA: ca, ServerCert: server, ClientCert: client}
	p.Files = PKIFiles{
		CACert:       filepath.Join(dir, "ca.pem"),
		ClientCert:   filepath.Join(dir, "client.pem"),
		ClientKey:    filepath.Join(dir, "client-key.pem"),
		KeyStore:     filepath.Join(dir, "keystore.jks"),
		TrustStore:   filepath.Join(dir, "truststore.jks"),
		ClientNoCert: filepath.Join(dir, "trusted-only.jks"),

		PKCS12KeyStore: filepath.Join(dir, "keystore.p12"),
		ModernKeyStore: filepath.Join(dir, "keystore-modern.pfx"),
		PKCS12AsJKS:    filepath.Join(dir, "client-cert.jks"),
		PKCS12Trust:    filepath.Join(dir, "truststore.p12"),
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(clientKey)
	require.NoError(t, err)

	writePEM(t, p.Files.CACert, "CERTIFICATE", caDER)
	writePEM(t, p.Files.ClientCert, "CERTIFICATE", clientDER)
	writePEM(t, p.Files.ClientKey, "PRIVATE KEY", keyDER)

	ks := keystore.New()
	require.NoError(t, ks.SetPrivateKeyEntry("vault-client", keystore.PrivateKeyEntry{
		CreationTime: time.Now(),
		PrivateKey:   keyDER,
		CertificateChain: []keystore.Certificate{
			{Type: "X509", Content: clientDER},
			{Type: "X509", Content: caDER},
		},
	}, []byte(StorePassword)))
	writeStore(t, p.Files.KeyStore, ks)

	ts := keystore.New()
	require.NoError(t, ts.SetTrustedCertificateEntry("vault-ca", keystore.TrustedCertificateEntry{
		CreationTime: time.Now(),
		Certificate:  keystore.Certificate{Type: "X509", Content: caDER},
	}))
	writeStore(t, p.Files.TrustStore, ts)

	only := keystore.New()
	require.NoError(t, only.SetTrustedCertificateEntry("vault-ca", keystore.TrustedCertificateEntry{
		CreationTime: time.Now(),
		Certificate:  keystore.Certificate{Type: "X509", Content: caDER},
	}))
	writeStore(t, p.Files.ClientNoCert, only)

	leaf := client.Leaf
	legacy, err := pkcs12.LegacyRC2.Encode(clientKey, leaf, []*x509.Certificate{ca}, StorePassword)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p.Files.PKCS12KeyStore, legacy, 0o600))

	modern, err := pkcs12.Modern.Encode(clientKey, leaf, []*x509.Certificate{ca}, StorePassword)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p.Files.ModernKeyStore, modern, 0o600))

	named, err := pkcs12.Modern.Encode(clientKey, leaf, nil, StorePassword)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p.Files.PKCS12AsJKS, named, 0o600))

	trust, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{ca}, StorePassword)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p.Files.PKCS12Trust, trust, 0o600))

	return p
}

// Pool returns a pool holding the CA certificate
func (p *PKI) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.CA)
	return pool
}

// ClientCertPEM returns the client certificate as PEM
func (p *PKI) ClientCertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.ClientCert.Certificate[0]})
}

// CACertPEM returns the CA certificate as PEM
func (p *PKI) CACertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.CA.Raw})
}

func writePEM(t testing.TB, path, kind string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: kind, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func writeStore(t testing.TB, path string, ks keystore.KeyStore) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, ks.Store(f, []byte(StorePassword)))
}
