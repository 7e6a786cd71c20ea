package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeong-dawon/MultiFlexer/internal/core"
)

func TestInitLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	InitLogger(core.DevelopmentEnv)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	InitLogger(core.ProductionEnv)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestOpenHistoryWithoutDSN(t *testing.T) {
	db, err := openHistory("")
	assert.NoError(t, err)
	assert.Nil(t, db)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := newServer("127.0.0.1:0", http.NotFoundHandler())

	stopped := serve(ctx, server, cancel)
	cancel()

	select {
	case <-stopped:
	case <-time.After(shutdownGrace):
		require.Fail(t, "server did not stop")
	}
}
