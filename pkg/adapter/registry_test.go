package adapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter records Connect calls.
type stubAdapter struct {
	BaseSQLAdapter
	connectErr error
	connected  Config
}

func (s *stubAdapter) Connect(_ context.Context, cfg Config) error {
	s.connected = cfg
	return s.connectErr
}

func (s *stubAdapter) LoadResources(context.Context, string, io.Reader) (int, error) {
	return 0, nil
}

func (s *stubAdapter) DialectName() string { return "stub" }

func TestUnknownAdapterError_Error(t *testing.T) {
	err := &UnknownAdapterError{Type: "fake_db", Available: []string{"duckdb", "postgres"}}

	msg := err.Error()
	assert.Contains(t, msg, `"fake_db"`)
	assert.Contains(t, msg, "duckdb, postgres")
	assert.Contains(t, msg, "fhirsql.yaml", "error should point at the config file")
}

func TestRegister_CaseInsensitive(t *testing.T) {
	Register("Test_Adapter_Internal", func(_ *slog.Logger) Adapter { return nil })

	assert.True(t, IsRegistered("test_adapter_internal"))
	factory, ok := Get("TEST_ADAPTER_INTERNAL")
	assert.True(t, ok)
	assert.NotNil(t, factory)
	assert.Contains(t, ListAdapters(), "test_adapter_internal")
}

func TestNewAdapter(t *testing.T) {
	Register("test_adapter_known", func(_ *slog.Logger) Adapter { return &stubAdapter{} })

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
		unknown bool
	}{
		{name: "known", cfg: Config{Type: "test_adapter_known"}},
		{name: "empty type", cfg: Config{}, wantErr: ErrNoAdapterType},
		{name: "unknown", cfg: Config{Type: "nope"}, unknown: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adp, err := NewAdapter(tt.cfg, nil)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.unknown:
				var unknown *UnknownAdapterError
				require.ErrorAs(t, err, &unknown)
				assert.Equal(t, "nope", unknown.Type)
				assert.Contains(t, unknown.Available, "test_adapter_known")
			default:
				require.NoError(t, err)
				assert.NotNil(t, adp)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	stub := &stubAdapter{}
	Register("test_adapter_open", func(_ *slog.Logger) Adapter { return stub })

	cfg := Config{Type: "test_adapter_open", Path: "fhir.db"}
	adp, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Same(t, stub, adp)
	assert.Equal(t, "fhir.db", stub.connected.Path)
}

func TestOpen_ConnectError(t *testing.T) {
	refused := errors.New("connection refused")
	Register("test_adapter_refused", func(_ *slog.Logger) Adapter { return &stubAdapter{connectErr: refused} })

	_, err := Open(context.Background(), Config{Type: "test_adapter_refused"}, nil)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "test_adapter_refused", connErr.Type)
	assert.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "failed to connect to test_adapter_refused")
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(context.Background(), Config{Type: "missing"}, nil)
	var unknown *UnknownAdapterError
	assert.ErrorAs(t, err, &unknown)
}
