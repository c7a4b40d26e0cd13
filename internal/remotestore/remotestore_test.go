package remotestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybeform/cybemeeting/internal/conf"
)

func TestNewDisabled(t *testing.T) {
	t.Parallel()

	target, err := New(&conf.RemoteTargetSettings{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, target)
}

func TestNewSFTP(t *testing.T) {
	t.Parallel()

	target, err := New(&conf.RemoteTargetSettings{Enabled: true, Provider: "sftp", Host: "example.com"})
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "sftp", target.Name())
}

func TestNewFTP(t *testing.T) {
	t.Parallel()

	target, err := New(&conf.RemoteTargetSettings{Enabled: true, Provider: "ftp", Host: "example.com"})
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "ftp", target.Name())
}

func TestNewUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := New(&conf.RemoteTargetSettings{Enabled: true, Provider: "webdav"})
	assert.Error(t, err)
}

func TestRemotePathLayout(t *testing.T) {
	t.Parallel()

	got := remotePath("/reports", "proj-1", "meet-2", "report.docx")
	assert.Equal(t, "/reports/proj-1/meet-2/report.docx", got)
}

func TestAddrDefaultsPort(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com:22", addr(&conf.RemoteTargetSettings{Host: "example.com"}, "22"))
	assert.Equal(t, "example.com:2222", addr(&conf.RemoteTargetSettings{Host: "example.com", Port: "2222"}, "22"))
}
