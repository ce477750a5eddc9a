// Package transport builds the network configuration shared by the REST
// client and the socket client.
//
// The configuration trusts every server certificate and every hostname.
// This is a deliberate weakening: the deployment terminates TLS with a
// self-signed certificate on an internal address. Do not point it at
// anything else.
package transport

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultConnectTimeout = 60 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Transport is reusable and safe for concurrent use.
type Transport struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	tlsConfig      *tls.Config
}

// NewInsecure allocates a configuration accepting any certificate chain and
// any hostname. Zero timeouts fall back to the defaults.
func NewInsecure(cfg Config) *Transport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Transport{
		connectTimeout: cfg.ConnectTimeout,
		readTimeout:    cfg.ReadTimeout,
		tlsConfig: &tls.Config{
			// #nosec G402 -- self-signed internal deployment
			InsecureSkipVerify: true,
		},
	}
}

// TLSConfig returns a copy of the trust-all TLS configuration.
func (t *Transport) TLSConfig() *tls.Config {
	return t.tlsConfig.Clone()
}

func (t *Transport) ConnectTimeout() time.Duration { return t.connectTimeout }

func (t *Transport) ReadTimeout() time.Duration { return t.readTimeout }

// HTTPClient is used for the REST history API.
func (t *Transport) HTTPClient() *http.Client {
	return &http.Client{
		Timeout: t.connectTimeout + t.readTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   t.connectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:       t.TLSConfig(),
			TLSHandshakeTimeout:   t.connectTimeout,
			ResponseHeaderTimeout: t.readTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          10,
		},
	}
}

// Dialer is used by the socket client.
func (t *Transport) Dialer() *websocket.Dialer {
	return &websocket.Dialer{
		Proxy: http.ProxyFromEnvironment,
		NetDialContext: (&net.Dialer{
			Timeout: t.connectTimeout,
		}).DialContext,
		HandshakeTimeout: t.connectTimeout,
		TLSClientConfig:  t.TLSConfig(),
	}
}
