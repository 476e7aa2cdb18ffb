// Package vaulttest provides an in-process Vault HTTP API for tests.
//
// It implements the subset of endpoints used by vaultconfig: token lookup,
// renewal and revocation, the app-id, cert, approle, userpass and generic
// login endpoints, KV v1/v2 reads and writes, and sys/auth and sys/mounts
// administration.
package vaulttest

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Mount describes an enabled auth method or secrets engine
type Mount struct {
	Type    string            `json:"type"`
	Options map[string]string `json:"options,omitempty"`
}

// Token is a token known to the server
type Token struct {
	ID        string
	Accessor  string
	Policies  []string
	TTL       int
	Renewable bool
}

// Login records a login request
type Login struct {
	Mount string
	Body  map[string]interface{}
	Peer  []*x509.Certificate
}

// Server is an httptest server speaking the Vault HTTP API
type Server struct {
	*httptest.Server

	RootToken string

	// LoginTTL and LoginRenewable shape tokens issued by login endpoints
	LoginTTL       int
	LoginRenewable bool

	mu       sync.Mutex
	tokens   map[string]*Token
	wrapped  map[string]*Token
	auths    map[string]Mount
	mounts   map[string]Mount
	data     map[string]map[string]interface{}
	versions map[string]int
	appIDs   map[string]map[string]string // mount -> user id -> app id
	users    map[string]map[string]string // mount -> username -> password
	denied   map[string]bool
	logins   []Login
	renewals int
	revoked  []string
}

// New starts a plain HTTP fake Vault with a kv v1 engine mounted at secret/
func New(t testing.TB) *Server {
	t.Helper()
	s := newServer()
	s.Server = httptest.NewServer(s)
	t.Cleanup(s.Close)
	return s
}

// NewTLS starts a fake Vault serving the PKI's server certificate. Client
// certificates issued by the PKI are accepted but not required; cert logins
// succeed only for certificates registered on the mount.
func NewTLS(t testing.TB, pki *PKI) *Server {
	t.Helper()
	s := newServer()
	s.Server = httptest.NewUnstartedServer(s)
	s.Server.TLS = &tls.Config{
		Certificates: []tls.Certificate{pki.ServerCert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    pki.Pool(),
		MinVersion:   tls.VersionTLS12,
	}
	s.Server.StartTLS()
	t.Cleanup(s.Close)
	return s
}

func newServer() *Server {
	s := &Server{
		RootToken:      "root-" + uuid.NewString(),
		LoginTTL:       3600,
		LoginRenewable: true,
		tokens:         map[string]*Token{},
		wrapped:        map[string]*Token{},
		auths:          map[string]Mount{"token/": {Type: "token"}},
		mounts:         map[string]Mount{"secret/": {Type: "kv", Options: map[string]string{"version": "1"}}},
		data:           map[string]map[string]interface{}{},
		versions:       map[string]int{},
		appIDs:         map[string]map[string]string{},
		users:          map[string]map[string]string{},
		denied:         map[string]bool{},
	}
	s.tokens[s.RootToken] = &Token{ID: s.RootToken, Accessor: uuid.NewString(), Policies: []string{"root"}}
	return s
}

// Address returns the base URL
func (s *Server) Address() string {
	return s.URL
}

// Put stores data at a logical path such as secret/app or secret/data/app
func (s *Server) Put(path string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[strings.Trim(path, "/")] = data
	s.versions[strings.Trim(path, "/")]++
}

// Get returns data stored at a logical path
func (s *Server) Get(path string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[strings.Trim(path, "/")]
	return d, ok
}

// Deny makes every request to path fail with 403
func (s *Server) Deny(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[strings.Trim(path, "/")] = true
}

// EnableAuth mounts an auth method
func (s *Server) EnableAuth(path, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auths[strings.Trim(path, "/")+"/"] = Mount{Type: kind}
}

// Mount enables a secrets engine
func (s *Server) Mount(path, kind string, options map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounts[strings.Trim(path, "/")+"/"] = Mount{Type: kind, Options: options}
}

// AuthMounts returns enabled auth mounts keyed by path with trailing slash
func (s *Server) AuthMounts() map[string]Mount {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Mount, len(s.auths))
	for k, v := range s.auths {
		out[k] = v
	}
	return out
}

// SecretMounts returns enabled secrets engines keyed by path with trailing slash
func (s *Server) SecretMounts() map[string]Mount {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Mount, len(s.mounts))
	for k, v := range s.mounts {
		out[k] = v
	}
	return out
}

// MapUserID maps a user id to an app id on an app-id mount
func (s *Server) MapUserID(mount, userID, appID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appIDs[mount] == nil {
		s.appIDs[mount] = map[string]string{}
	}
	s.appIDs[mount][userID] = appID
}

// AddUser registers a userpass user
func (s *Server) AddUser(mount, username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[mount] == nil {
		s.users[mount] = map[string]string{}
	}
	s.users[mount][username] = password
}

// IssueToken creates a token
func (s *Server) IssueToken(ttl int, renewable bool, policies ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(ttl, renewable, policies).ID
}

// Wrap creates a response-wrapping token whose unwrap yields a fresh token
func (s *Server) Wrap(ttl int, renewable bool) (wrapping string, wrapped string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := s.issueLocked(ttl, renewable, []string{"default"})
	wrapping = "wrap-" + uuid.NewString()
	s.wrapped[wrapping] = tok
	return wrapping, tok.ID
}

// Logins returns recorded login requests
func (s *Server) Logins() []Login {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Login(nil), s.logins...)
}

// Renewals returns the number of renew-self calls served
func (s *Server) Renewals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renewals
}

// Revoked returns revoked token ids
func (s *Server) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

// Lookup returns a live token
func (s *Server) Lookup(id string) (*Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	return tok, ok
}

func (s *Server) issueLocked(ttl int, renewable bool, policies []string) *Token {
	tok := &Token{
		ID:        "s." + uuid.NewString(),
		Accessor:  uuid.NewString(),
		Policies:  policies,
		TTL:       ttl,
		Renewable: renewable,
	}
	s.tokens[tok.ID] = tok
	return tok
}

// ServeHTTP dispatches Vault API requests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/"), "/")

	var body map[string]interface{}
	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case path == "sys/health":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"initialized": true, "sealed": false, "standby": false, "version": "1.15.0",
		})
		return
	case path == "sys/wrapping/unwrap":
		s.unwrap(w, r, body)
		return
	}
	if mount, ok := loginMount(path); ok {
		s.login(w, r, mount, body)
		return
	}

	token := s.tokens[r.Header.Get("X-Vault-Token")]
	if token == nil {
		writeErrors(w, http.StatusForbidden, "2 errors occurred:\n\t* permission denied\n\t* invalid token\n\n")
		return
	}
	if s.denied[path] {
		writeErrors(w, http.StatusForbidden, "1 error occurred:\n\t* permission denied\n\n")
		return
	}

	switch {
	case path == "auth/token/lookup-self":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{
				"id":        token.ID,
				"accessor":  token.Accessor,
				"policies":  token.Policies,
				"ttl":       token.TTL,
				"renewable": token.Renewable,
			},
		})
	case path == "auth/token/renew-self":
		s.renewals++
		writeJSON(w, http.StatusOK, map[string]interface{}{"auth": authBlock(token)})
	case path == "auth/token/revoke-self":
		delete(s.tokens, token.ID)
		s.revoked = append(s.revoked, token.ID)
		w.WriteHeader(http.StatusNoContent)
	case path == "auth/token/create":
		s.createToken(w, body)
	case path == "sys/auth":
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": s.auths})
	case strings.HasPrefix(path, "sys/auth/"):
		s.auths[strings.TrimPrefix(path, "sys/auth/")+"/"] = Mount{Type: stringField(body, "type")}
		w.WriteHeader(http.StatusNoContent)
	case path == "sys/mounts":
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": s.mounts})
	case strings.HasPrefix(path, "sys/mounts/"):
		mount := Mount{Type: stringField(body, "type"), Options: map[string]string{}}
		if opts, ok := body["options"].(map[string]interface{}); ok {
			for k, v := range opts {
				if str, ok := v.(string); ok {
					mount.Options[k] = str
				}
			}
		}
		s.mounts[strings.TrimPrefix(path, "sys/mounts/")+"/"] = mount
		w.WriteHeader(http.StatusNoContent)
	case strings.Contains(path, "/map/user-id/"):
		mount, userID, _ := strings.Cut(strings.TrimPrefix(path, "auth/"), "/map/user-id/")
		if s.appIDs[mount] == nil {
			s.appIDs[mount] = map[string]string{}
		}
		s.appIDs[mount][userID] = stringField(body, "value")
		s.data[path] = body
		w.WriteHeader(http.StatusNoContent)
	case strings.HasPrefix(path, "auth/") && strings.Contains(path, "/users/"):
		mount, name, _ := strings.Cut(strings.TrimPrefix(path, "auth/"), "/users/")
		if s.users[mount] == nil {
			s.users[mount] = map[string]string{}
		}
		s.users[mount][name] = stringField(body, "password")
		w.WriteHeader(http.StatusNoContent)
	default:
		s.logical(w, r, path, body)
	}
}

func (s *Server) logical(w http.ResponseWriter, r *http.Request, path string, body map[string]interface{}) {
	mountPath, mount := s.mountFor(path)
	kv2 := mount.Type == "kv" && mount.Options["version"] == "2"

	switch r.Method {
	case http.MethodGet:
		data, ok := s.data[path]
		if !ok {
			writeErrors(w, http.StatusNotFound)
			return
		}
		if kv2 && strings.HasPrefix(path, mountPath+"data/") {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"data": map[string]interface{}{
					"data": data,
					"metadata": map[string]interface{}{
						"created_time":  time.Now().UTC().Format(time.RFC3339),
						"deletion_time": "",
						"destroyed":     false,
						"version":       s.versions[path],
					},
				},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})
	case http.MethodPut, http.MethodPost:
		if kv2 && strings.HasPrefix(path, mountPath+"data/") {
			inner, _ := body["data"].(map[string]interface{})
			s.data[path] = inner
			s.versions[path]++
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"data": map[string]interface{}{
					"created_time":  time.Now().UTC().Format(time.RFC3339),
					"deletion_time": "",
					"destroyed":     false,
					"version":       s.versions[path],
				},
			})
			return
		}
		s.data[path] = body
		s.versions[path]++
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		delete(s.data, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeErrors(w, http.StatusMethodNotAllowed, "unsupported operation")
	}
}

func (s *Server) mountFor(path string) (string, Mount) {
	var best string
	for prefix := range s.mounts {
		if strings.HasPrefix(path+"/", prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	return best, s.mounts[best]
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, mount string, body map[string]interface{}) {
	record := Login{Mount: mount, Body: body}
	if r.TLS != nil {
		record.Peer = r.TLS.PeerCertificates
	}
	s.logins = append(s.logins, record)

	auth, ok := s.auths[mount+"/"]
	if !ok {
		writeErrors(w, http.StatusBadRequest, "no handler for route \"auth/"+mount+"/login\". route entry not found.")
		return
	}

	switch auth.Type {
	case "app-id":
		userID := stringField(body, "user_id")
		appID := stringField(body, "app_id")
		if appID == "" || userID == "" || s.appIDs[mount][userID] != appID {
			writeErrors(w, http.StatusBadRequest, "invalid user ID or app ID")
			return
		}
	case "cert":
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			writeErrors(w, http.StatusBadRequest, "client certificate must be supplied")
			return
		}
		policies, ok := s.matchCertLocked(mount, r.TLS.PeerCertificates[0])
		if !ok {
			writeErrors(w, http.StatusBadRequest, "invalid certificate or no client certificate supplied")
			return
		}
		tok := s.issueLocked(s.LoginTTL, s.LoginRenewable, policies)
		writeJSON(w, http.StatusOK, map[string]interface{}{"auth": authBlock(tok)})
		return
	case "userpass":
		name := strings.TrimPrefix(r.URL.Path, "/v1/auth/"+mount+"/login/")
		if pw, ok := s.users[mount][name]; !ok || pw != stringField(body, "password") {
			writeErrors(w, http.StatusBadRequest, "invalid username or password")
			return
		}
	case "approle":
		if stringField(body, "role_id") == "" {
			writeErrors(w, http.StatusBadRequest, "missing role_id")
			return
		}
	default:
		if stringField(body, "role") == "" && auth.Type != "token" {
			writeErrors(w, http.StatusBadRequest, "missing role")
			return
		}
	}

	tok := s.issueLocked(s.LoginTTL, s.LoginRenewable, []string{"default"})
	writeJSON(w, http.StatusOK, map[string]interface{}{"auth": authBlock(tok)})
}

// matchCertLocked finds a certificate registered under auth/<mount>/certs/
// that equals the peer certificate or issued it, and returns its policies
func (s *Server) matchCertLocked(mount string, peer *x509.Certificate) ([]string, bool) {
	prefix := "auth/" + mount + "/certs/"
	var names []string
	for path := range s.data {
		if strings.HasPrefix(path, prefix) {
			names = append(names, path)
		}
	}
	sort.Strings(names)

	for _, path := range names {
		entry := s.data[path]
		block, _ := pem.Decode([]byte(stringField(entry, "certificate")))
		if block == nil {
			continue
		}
		trusted, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			continue
		}
		if !bytes.Equal(trusted.Raw, peer.Raw) && peer.CheckSignatureFrom(trusted) != nil {
			continue
		}

		var policies []string
		for _, p := range strings.Split(stringField(entry, "policies"), ",") {
			if p = strings.TrimSpace(p); p != "" {
				policies = append(policies, p)
			}
		}
		if len(policies) == 0 {
			policies = []string{"default"}
		}
		return policies, true
	}
	return nil, false
}

// RegisterCertificate trusts certPEM for logins on a cert mount, the way
// writing auth/<mount>/certs/<name> does
func (s *Server) RegisterCertificate(mount, name string, certPEM []byte, policies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data["auth/"+strings.Trim(mount, "/")+"/certs/"+name] = map[string]interface{}{
		"certificate": string(certPEM),
		"policies":    strings.Join(policies, ","),
	}
}

func (s *Server) unwrap(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
	id := r.Header.Get("X-Vault-Token")
	if tok := stringField(body, "token"); tok != "" {
		id = tok
	}
	tok, ok := s.wrapped[id]
	if !ok {
		writeErrors(w, http.StatusBadRequest, "wrapping token is not valid or does not exist")
		return
	}
	delete(s.wrapped, id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"auth": authBlock(tok)})
}

func (s *Server) createToken(w http.ResponseWriter, body map[string]interface{}) {
	var policies []string
	if raw, ok := body["policies"].([]interface{}); ok {
		for _, p := range raw {
			if str, ok := p.(string); ok {
				policies = append(policies, str)
			}
		}
	}
	sort.Strings(policies)

	ttl := s.LoginTTL
	if raw := stringField(body, "ttl"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			ttl = int(d.Seconds())
		}
	}
	renewable := true
	if b, ok := body["renewable"].(bool); ok {
		renewable = b
	}

	tok := s.issueLocked(ttl, renewable, policies)
	writeJSON(w, http.StatusOK, map[string]interface{}{"auth": authBlock(tok)})
}

// loginMount extracts the mount from auth/<mount>/login[/<name>]
func loginMount(path string) (string, bool) {
	if !strings.HasPrefix(path, "auth/") {
		return "", false
	}
	rest := strings.TrimPrefix(path, "auth/")
	if mount, ok := strings.CutSuffix(rest, "/login"); ok {
		return mount, true
	}
	if i := strings.LastIndex(rest, "/login/"); i > 0 && !strings.Contains(rest[i+len("/login/"):], "/") {
		return rest[:i], true
	}
	return "", false
}

func authBlock(tok *Token) map[string]interface{} {
	return map[string]interface{}{
		"client_token":   tok.ID,
		"accessor":       tok.Accessor,
		"policies":       tok.Policies,
		"lease_duration": tok.TTL,
		"renewable":      tok.Renewable,
	}
}

func stringField(body map[string]interface{}, key string) string {
	if body == nil {
		return ""
	}
	str, _ := body[key].(string)
	return str
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrors(w http.ResponseWriter, status int, errs ...string) {
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, status, map[string]interface{}{"errors": errs})
}
