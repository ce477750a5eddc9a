package transport

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewInsecure_Defaults(t *testing.T) {
	req := require.New(t)

	tr := NewInsecure(Config{})

	req.Equal(DefaultConnectTimeout, tr.ConnectTimeout())
	req.Equal(DefaultReadTimeout, tr.ReadTimeout())
	req.True(tr.TLSConfig().InsecureSkipVerify)
	req.True(tr.Dialer().TLSClientConfig.InsecureSkipVerify)
	req.Equal(DefaultConnectTimeout, tr.Dialer().HandshakeTimeout)
}

func TestNewInsecure_TLSConfig_Is_A_Copy(t *testing.T) {
	req := require.New(t)
	tr := NewInsecure(Config{ConnectTimeout: time.Second, ReadTimeout: 2 * time.Second})

	cfg := tr.TLSConfig()
	cfg.InsecureSkipVerify = false

	req.True(tr.TLSConfig().InsecureSkipVerify)
	req.Equal(3*time.Second, tr.HTTPClient().Timeout)
}

func TestHTTPClient_Accepts_Self_Signed_Certificate(t *testing.T) {
	req := require.New(t)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	// Given the default client rejects the test certificate
	_, err := http.Get(srv.URL)
	req.Error(err)

	// When going through the insecure transport
	resp, err := NewInsecure(Config{}).HTTPClient().Get(srv.URL)

	// Then the handshake succeeds
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
}
