package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultconfig/internal/vault"
)

var _ vault.Recorder = (*Recorder)(nil)

func TestRecorder_AuthAttempt(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	rec.AuthAttempt("approle", nil)
	rec.AuthAttempt("approle", nil)
	rec.AuthAttempt("cert", errors.New("denied"))

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.authTotal.WithLabelValues("approle", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.authTotal.WithLabelValues("cert", ResultFailure)))
	assert.Equal(t, 2, testutil.CollectAndCount(rec.authTotal))
}

func TestRecorder_SecretRead(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		found  bool
		err    error
		result string
	}{
		{"success", true, nil, ResultSuccess},
		{"not_found", false, nil, ResultNotFound},
		{"failure", false, errors.New("permission denied"), ResultFailure},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := NewRecorder()
			rec.SecretRead("app/dev", tt.found, tt.err)
			assert.Equal(t, 1.0, testutil.ToFloat64(rec.secretReadsTotal.WithLabelValues(tt.result)))
		})
	}
}

func TestRecorder_TokenRenewalAndBootstrap(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	rec.TokenRenewal(nil)
	rec.TokenRenewal(errors.New("expired"))
	rec.ObserveBootstrap(250*time.Millisecond, 12)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.tokenRenewalsTotal.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.tokenRenewalsTotal.WithLabelValues(ResultFailure)))
	assert.Equal(t, 12.0, testutil.ToFloat64(rec.propertiesResolved))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.bootstrapDuration))
}

func TestRecorder_RegistriesAreIndependent(t *testing.T) {
	t.Parallel()

	a, b := NewRecorder(), NewRecorder()
	a.AuthAttempt("token", nil)

	families, err := b.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.NotEqual(t, "vaultconfig_auth_total", f.GetName())
	}
}
