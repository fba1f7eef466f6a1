package health

import (
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		kind     CheckType
		target   string
	}{
		{endpoint: "srm://srm.cern.ch/castor/vo", kind: CheckTypeTCP, target: "srm.cern.ch:8443"},
		{endpoint: "srm://srm.cern.ch:8446/castor/vo", kind: CheckTypeTCP, target: "srm.cern.ch:8446"},
		{endpoint: "gsiftp://gridftp.pic.es/pnfs", kind: CheckTypeTCP, target: "gridftp.pic.es:2811"},
		{endpoint: "root://eos.cern.ch//eos/vo", kind: CheckTypeTCP, target: "eos.cern.ch:1094"},
		{endpoint: "https://webdav.ral.ac.uk/vo", kind: CheckTypeHTTP, target: "https://webdav.ral.ac.uk/vo"},
		{endpoint: "davs://webdav.ral.ac.uk:2880/vo", kind: CheckTypeHTTP, target: "https://webdav.ral.ac.uk:2880/vo"},
		{endpoint: "dav://door.example.org/vo", kind: CheckTypeHTTP, target: "http://door.example.org/vo"},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			checker, err := ForEndpoint(tt.endpoint, 3*time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, checker.Type())

			switch c := checker.(type) {
			case *TCPChecker:
				assert.Equal(t, tt.target, c.Address)
				assert.Equal(t, 3*time.Second, c.Timeout)
			case *HTTPChecker:
				assert.Equal(t, tt.target, c.URL)
				assert.Equal(t, 3*time.Second, c.Client.Timeout)
			}
		})
	}
}

func TestForEndpoint_Invalid(t *testing.T) {
	for _, endpoint := range []string{
		"file:///data/vo",
		"/data/vo",
		"custom://host/vo",
		"://bad",
	} {
		t.Run(endpoint, func(t *testing.T) {
			_, err := ForEndpoint(endpoint, 0)
			require.Error(t, err)
			assert.True(t, cerrdefs.IsInvalidArgument(err))
		})
	}
}
