package remotestore

import (
	"context"
	"io"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/errors"
)

type sftpTarget struct {
	settings *conf.RemoteTargetSettings
	timeout  time.Duration
}

func newSFTPTarget(settings *conf.RemoteTargetSettings) *sftpTarget {
	return &sftpTarget{settings: settings, timeout: 30 * time.Second}
}

func (t *sftpTarget) Name() string { return "sftp" }

func (t *sftpTarget) connect(ctx context.Context) (*sftp.Client, func(), error) {
	type connResult struct {
		client *sftp.Client
		closer func()
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		config := &ssh.ClientConfig{
			User:            t.settings.Username,
			Auth:            []ssh.AuthMethod{ssh.Password(t.settings.Password)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         t.timeout,
		}

		sshConn, err := ssh.Dial("tcp", addr(t.settings, "22"), config)
		if err != nil {
			resultChan <- connResult{err: errors.New(err).
				Component("remotestore").
				Category(errors.CategoryRemoteStorage).
				Context("operation", "ssh_dial").
				Build()}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			sshConn.Close()
			resultChan <- connResult{err: errors.New(err).
				Component("remotestore").
				Category(errors.CategoryRemoteStorage).
				Context("operation", "sftp_client").
				Build()}
			return
		}

		resultChan <- connResult{
			client: client,
			closer: func() {
				client.Close()
				sshConn.Close()
			},
		}
	}()

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case result := <-resultChan:
		return result.client, result.closer, result.err
	}
}

func (t *sftpTarget) Store(ctx context.Context, projectID, meetingID, filename string, reader io.Reader) error {
	client, closer, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer closer()

	target := remotePath(t.settings.BasePath, projectID, meetingID, filename)
	if err := client.MkdirAll(path.Dir(target)); err != nil {
		return errors.New(err).
			Component("remotestore").
			Category(errors.CategoryRemoteStorage).
			Context("operation", "mkdir").
			Build()
	}

	dst, err := client.Create(target)
	if err != nil {
		return errors.New(err).
			Component("remotestore").
			Category(errors.CategoryRemoteStorage).
			Context("operation", "create").
			Build()
	}
	defer dst.Close()

	if _, err := io.Copy(dst, reader); err != nil {
		return errors.New(err).
			Component("remotestore").
			Category(errors.CategoryRemoteStorage).
			Context("operation", "write").
			Build()
	}
	return nil
}
