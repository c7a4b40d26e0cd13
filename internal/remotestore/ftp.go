package remotestore

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/errors"
)

type ftpTarget struct {
	settings *conf.RemoteTargetSettings
	timeout  time.Duration
}

func newFTPTarget(settings *conf.RemoteTargetSettings) *ftpTarget {
	return &ftpTarget{settings: settings, timeout: 30 * time.Second}
}

func (t *ftpTarget) Name() string { return "ftp" }

func (t *ftpTarget) connect(ctx context.Context) (*ftp.ServerConn, error) {
	type connResult struct {
		conn *ftp.ServerConn
		err  error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		conn, err := ftp.Dial(addr(t.settings, "21"), ftp.DialWithTimeout(t.timeout))
		if err != nil {
			resultChan <- connResult{err: errors.New(err).
				Component("remotestore").
				Category(errors.CategoryRemoteStorage).
				Context("operation", "ftp_dial").
				Build()}
			return
		}
		if err := conn.Login(t.settings.Username, t.settings.Password); err != nil {
			_ = conn.Quit()
			resultChan <- connResult{err: errors.New(err).
				Component("remotestore").
				Category(errors.CategoryRemoteStorage).
				Context("operation", "ftp_login").
				Build()}
			return
		}
		resultChan <- connResult{conn: conn}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.conn, result.err
	}
}

// mkdirAll creates the directory chain one level at a time. MakeDir fails
// on existing directories, which is ignored.
func (t *ftpTarget) mkdirAll(conn *ftp.ServerConn, dirPath string) {
	parts := strings.Split(strings.Trim(dirPath, "/"), "/")
	current := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		current += "/" + part
		_ = conn.MakeDir(current)
	}
}

func (t *ftpTarget) Store(ctx context.Context, projectID, meetingID, filename string, reader io.Reader) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	target := remotePath(t.settings.BasePath, projectID, meetingID, filename)
	if idx := strings.LastIndex(target, "/"); idx > 0 {
		t.mkdirAll(conn, target[:idx])
	}

	if err := conn.Stor(target, reader); err != nil {
		return errors.New(err).
			Component("remotestore").
			Category(errors.CategoryRemoteStorage).
			Context("operation", "stor").
			Build()
	}
	return nil
}
