package db

import (
	"testing"

	"product-order-api/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialector(t *testing.T) {
	d, err := Dialector(config.DBConfig{Driver: config.DriverPostgres, URL: "postgres://localhost/x"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = Dialector(config.DBConfig{Driver: config.DriverMySQL, URL: "root:pw@tcp(localhost:3306)/x"})
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	_, err = Dialector(config.DBConfig{Driver: "sqlite"})
	assert.Error(t, err)
}
