package duckdb

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fhirsql/pkg/adapter"
)

func TestNew(t *testing.T) {
	adp := New(nil)
	require.NotNil(t, adp)
	assert.NotNil(t, adp.Logger)
	assert.Equal(t, "duckdb", adp.DialectName())
	assert.False(t, adp.IsConnected())
}

func TestAdapter_NotConnected(t *testing.T) {
	tests := []struct {
		name      string
		operation func(ctx context.Context, adp *Adapter) error
	}{
		{
			name: "Exec",
			operation: func(ctx context.Context, adp *Adapter) error {
				return adp.Exec(ctx, "SELECT 1")
			},
		},
		{
			name: "Query",
			operation: func(ctx context.Context, adp *Adapter) error {
				_, err := adp.Query(ctx, "SELECT 1")
				return err
			},
		},
		{
			name: "LoadResources",
			operation: func(ctx context.Context, adp *Adapter) error {
				_, err := adp.LoadResources(ctx, "resources", strings.NewReader("{}"))
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.operation(context.Background(), New(nil))
			assert.ErrorIs(t, err, adapter.ErrNotConnected)
		})
	}
}

func TestAdapter_LoadResources(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE OR REPLACE TABLE patients (id VARCHAR, resource JSON)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO patients (id, resource) VALUES (?, ?)"))
	prep.ExpectExec().WithArgs("p1", `{"resourceType":"Patient","id":"p1"}`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	adp := New(nil)
	adp.DB = db

	n, err := adp.LoadResources(context.Background(), "patients",
		strings.NewReader(`{"resourceType":"Patient","id":"p1"}`+"\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_LoadResources_Rejects(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	adp := New(nil)
	adp.DB = db

	_, err = adp.LoadResources(context.Background(), "bad name", strings.NewReader(""))
	var invalid *adapter.InvalidTableNameError
	assert.ErrorAs(t, err, &invalid)

	_, err = adp.LoadResources(context.Background(), "resources", strings.NewReader("not json"))
	var lineErr *adapter.NDJSONError
	assert.ErrorAs(t, err, &lineErr)

	assert.NoError(t, mock.ExpectationsWereMet(), "nothing reaches the database")
}

func TestAdapter_Registry(t *testing.T) {
	factory, ok := adapter.Get("duckdb")
	require.True(t, ok)
	_, isDuck := factory(nil).(*Adapter)
	assert.True(t, isDuck)
}

func TestConnect_InvalidParams(t *testing.T) {
	err := New(nil).Connect(context.Background(), adapter.Config{
		Params: map[string]any{"extensions": []any{"x y"}},
	})
	assert.Error(t, err)
}
