package database

import (
	"context"
	"errors"
	"testing"

	"tracktech-scheduler/internal/common/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepare_Pings(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	cfg := &config.DatabaseConfig{Host: "localhost", Port: 5432, Database: "tracktech", MaxConns: 4, MaxIdle: 2}
	require.NoError(t, prepare(context.Background(), db, cfg))
	assert.Equal(t, 4, db.Stats().MaxOpenConnections)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPrepare_PingError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	cfg := &config.DatabaseConfig{Host: "db", Port: 5433, Database: "tracktech"}
	err = prepare(context.Background(), db, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracktech at db:5433")
	assert.Contains(t, err.Error(), "connection refused")
}
