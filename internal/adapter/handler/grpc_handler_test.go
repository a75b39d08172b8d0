package handler

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type switchPinger struct {
	err chan error
}

func (s switchPinger) Ping(context.Context) error {
	select {
	case err := <-s.err:
		return err
	default:
		return nil
	}
}

func TestGRPCHandler_Check(t *testing.T) {
	log, _ := logtest.NewNullLogger()

	h := NewGRPCHandler(mockPinger{}, log)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, h.Check(context.Background()))

	h = NewGRPCHandler(mockPinger{err: errors.New("down")}, log)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.Check(context.Background()))
}

func TestGRPCHandler_ServesHealth(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	pinger := switchPinger{err: make(chan error, 1)}
	h := NewGRPCHandler(pinger, log)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryLogger(log)))
	h.Register(srv)
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.Check(ctx)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	pinger.err <- errors.New("down")
	h.Check(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
