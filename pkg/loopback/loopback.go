// Package loopback runs an in-process QUIC peer that echoes every datagram
// back to its sender. It stands in for a remote endpoint in tests and
// examples, the same role an in-memory transport plays for a real network.
package loopback

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

// Server accepts QUIC connections and echoes datagrams until closed.
type Server struct {
	ln     *quic.Listener
	ctx    context.Context
	cancel context.CancelFunc
}

// Start listens on addr (use "127.0.0.1:0" for an ephemeral port) with an
// ephemeral self-signed certificate. Clients must opt in to skipping
// verification for the loopback host.
func Start(addr string) (*Server, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3"},
		MinVersion:   tls.VersionTLS13,
	}
	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{EnableDatagrams: true})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{ln: ln, ctx: ctx, cancel: cancel}
	go s.acceptLoop()
	return s, nil
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// URL returns the https URL clients dial to reach this server.
func (s *Server) URL() string { return "https://" + s.ln.Addr().String() }

// Close stops the accept loop and releases the listener.
func (s *Server) Close() error {
	s.cancel()
	return s.ln.Close()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept(s.ctx)
		if err != nil {
			return
		}
		go s.echo(conn)
	}
}

func (s *Server) echo(conn quic.Connection) {
	for {
		data, err := conn.ReceiveDatagram(s.ctx)
		if err != nil {
			return
		}
		if err := conn.SendDatagram(data); err != nil {
			zap.L().Debug("echo send", zap.Error(err))
			return
		}
	}
}

// selfSignedCert generates a short-lived certificate for loopback use.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
