package bootstrap

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosepetal/storefront/internal/config"
)

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewLogger("debug").GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger("loud").GetLevel())
}

func TestOpenMemoryStoreIsSeeded(t *testing.T) {
	st, err := OpenStore(context.Background(), &config.Config{StoreDriver: "memory"}, true, NewLogger("error"))
	require.NoError(t, err)

	products, err := st.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 3)

	_, err = st.GetUser(context.Background(), 1)
	assert.NoError(t, err)
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), &config.Config{StoreDriver: "mongo"}, false, NewLogger("error"))
	assert.Error(t, err)
}
