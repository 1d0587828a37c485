package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionParams_ConnString(t *testing.T) {
	params := ConnectionParams{
		Host:     "db.internal",
		Port:     6543,
		User:     "conformal",
		Password: "secret",
		DBName:   "calibration",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=6543 user=conformal password=secret dbname=calibration sslmode=require",
		params.ConnString(),
	)
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := New(ctx, ConnectionParams{
		Host:     "127.0.0.1",
		Port:     1,
		User:     "nobody",
		Password: "nobody",
		DBName:   "none",
		SSLMode:  "disable",
	})
	assert.ErrorContains(t, err, "failed to ping database")
}
