package grpcserver

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"pixgrid/internal/config"
)

var (
	clientKeepalive = keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	serverKeepalive = keepalive.ServerParameters{
		Time:    2 * time.Minute,
		Timeout: 20 * time.Second,
	}
	// Clients ping every 30s; anything faster is abuse.
	serverEnforcement = keepalive.EnforcementPolicy{
		MinTime:             15 * time.Second,
		PermitWithoutStream: true,
	}
)

func maxMessageBytes(cfg *config.Config) int {
	// base64 inflates uploads by a third; leave room for the reply as well.
	return int(cfg.Server.MaxUploadMB<<20) * 2
}

// ServerOptions returns the transport options for cfg: keepalive policy
// and, when a certificate is configured, TLS.
func ServerOptions(cfg *config.Config) ([]grpc.ServerOption, error) {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(serverKeepalive),
		grpc.KeepaliveEnforcementPolicy(serverEnforcement),
	}
	if cfg.Server.TLS.CertPath == "" {
		return opts, nil
	}
	creds, err := credentials.NewServerTLSFromFile(cfg.Server.TLS.CertPath, cfg.Server.TLS.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	return append(opts, grpc.Creds(creds)), nil
}

// DialOptions returns client options matching cfg. A configured CA or
// client certificate switches the connection to TLS.
func DialOptions(cfg *config.Config) ([]grpc.DialOption, error) {
	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(clientKeepalive),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageBytes(cfg)),
			grpc.MaxCallSendMsgSize(maxMessageBytes(cfg)),
		),
	}
	t := cfg.Server.TLS
	if t.CAPath == "" && t.CertPath == "" {
		return opts, nil
	}
	tlsConfig, err := clientTLSConfig(t)
	if err != nil {
		return nil, err
	}
	return append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig))), nil
}

func clientTLSConfig(t config.TLS) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if t.CAPath != "" {
		caCert, err := os.ReadFile(t.CAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates in %s", t.CAPath)
		}
		tlsConfig.RootCAs = pool
	}

	if t.CertPath != "" && t.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(t.CertPath, t.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
