package integrationtest

import (
	"context"
	"io"
	"net/http/httptest"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/fakhrymubarak/api-template/internal/app"
	"github.com/fakhrymubarak/api-template/internal/config"
)

func createMockRedisServer() (*miniredis.Miniredis, error) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		return nil, err
	}
	return mr, nil
}

// setupIntegrationTestServer serves the full pipeline over TLS so requests
// are not redirected. cleanup stops the server and releases the app.
func setupIntegrationTestServer(cfg *config.Config, logger *zap.Logger) (srv *httptest.Server, cleanup func(), err error) {
	b := app.NewBuilder(cfg, logger)
	b.TraceOutput = io.Discard
	a, err := b.AddRequiredServices().Build()
	if err != nil {
		return nil, nil, err
	}

	srv = httptest.NewTLSServer(a.UseRequiredServices().Handler())
	return srv, func() {
		srv.Close()
		_ = a.Close(context.Background())
	}, nil
}
