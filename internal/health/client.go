// Package health reports resource health for context fingerprints, read
// from gRPC health-v1 endpoints.
package health

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// #region types
// Unreachable is the status recorded for a resource whose check failed.
const Unreachable = "UNREACHABLE"

// ServerKey names the overall-server check (empty service name) in a snapshot.
const ServerKey = "server"

// Static is a fixed snapshot, for tests and deployments without health endpoints.
type Static map[string]string

// Snapshot returns a copy of the fixed map.
func (s Static) Snapshot(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// #endregion types

// #region client-struct
// Provider polls a gRPC health service for a fixed list of service names.
type Provider struct {
	conn     *grpc.ClientConn
	client   healthpb.HealthClient
	services []string
	timeout  time.Duration
	log      logrus.FieldLogger
}

// #endregion client-struct

// #region constructor
// NewProvider connects to a gRPC health endpoint. An empty service name
// checks the whole server.
func NewProvider(addr string, services []string, log logrus.FieldLogger) (*Provider, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	p := NewProviderWithClient(healthpb.NewHealthClient(conn), services, log)
	p.conn = conn
	return p, nil
}

// NewProviderWithClient creates a Provider with an injected health client.
// Used for testing without a real gRPC connection.
func NewProviderWithClient(client healthpb.HealthClient, services []string, log logrus.FieldLogger) *Provider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	svcs := append([]string(nil), services...)
	if len(svcs) == 0 {
		svcs = []string{""}
	}
	sort.Strings(svcs)
	return &Provider{
		client:   client,
		services: svcs,
		timeout:  2 * time.Second,
		log:      log.WithField("component", "health"),
	}
}

// SetTimeout bounds each health check.
func (p *Provider) SetTimeout(d time.Duration) { p.timeout = d }

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (p *Provider) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// #endregion close

// #region snapshot
// Snapshot checks every configured service. A failed check is recorded as
// Unreachable rather than returned; only a cancelled ctx is an error.
func (p *Provider) Snapshot(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(p.services))
	for _, svc := range p.services {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("health snapshot: %w", err)
		}
		key := svc
		if key == "" {
			key = ServerKey
		}
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		resp, err := p.client.Check(cctx, &healthpb.HealthCheckRequest{Service: svc})
		cancel()
		if err != nil {
			p.log.WithError(err).WithField("service", key).Debug("health check failed")
			out[key] = Unreachable
			continue
		}
		out[key] = resp.GetStatus().String()
	}
	return out, nil
}

// #endregion snapshot

// #region server
// Serve registers a health server on a new gRPC server and serves lis in
// the background. The returned health server starts SERVING for "".
func Serve(lis net.Listener, log logrus.FieldLogger) (*grpc.Server, *grpchealth.Server) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.WithError(err).Warn("grpc health server stopped")
		}
	}()
	return srv, hs
}

// #endregion server
