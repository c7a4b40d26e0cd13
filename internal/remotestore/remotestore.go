// Package remotestore copies generated reports to an offsite SFTP or FTP
// target.
package remotestore

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/errors"
)

// Target stores report files on a remote host.
type Target interface {
	// Store writes the report under <base>/<project>/<meeting>/<filename>.
	Store(ctx context.Context, projectID, meetingID, filename string, reader io.Reader) error
	Name() string
}

// New builds the configured target. Returns nil when remote upload is
// disabled.
func New(settings *conf.RemoteTargetSettings) (Target, error) {
	if !settings.Enabled {
		return nil, nil
	}
	switch settings.Provider {
	case "sftp":
		return newSFTPTarget(settings), nil
	case "ftp":
		return newFTPTarget(settings), nil
	default:
		return nil, errors.Newf("unknown remote storage provider: %s", settings.Provider).
			Component("remotestore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func remotePath(basePath, projectID, meetingID, filename string) string {
	return path.Join(basePath, projectID, meetingID, filename)
}

func addr(settings *conf.RemoteTargetSettings, defaultPort string) string {
	port := settings.Port
	if port == "" {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%s", settings.Host, port)
}
