package egress

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// NewSFTPPutter builds a Deps.PutSFTP backend. One SSH+SFTP connection
// is opened, used, and closed per call, per the "open one connection,
// upload, close" delivery contract.
func NewSFTPPutter() func(ctx context.Context, host string, port int, user, password, keyPath, remotePath, localPath string) error {
	return func(ctx context.Context, host string, port int, user, password, keyPath, remotePath, localPath string) error {
		auth, err := sshAuth(password, keyPath)
		if err != nil {
			return fmt.Errorf("build ssh auth: %w", err)
		}

		clientConfig := &ssh.ClientConfig{
			User:            user,
			Auth:            auth,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		}

		addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
		conn, err := ssh.Dial("tcp", addr, clientConfig)
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		defer conn.Close()

		client, err := sftp.NewClient(conn)
		if err != nil {
			return fmt.Errorf("open sftp session: %w", err)
		}
		defer client.Close()

		if err := client.MkdirAll(filepath.Dir(remotePath)); err != nil {
			return fmt.Errorf("mkdir %s: %w", filepath.Dir(remotePath), err)
		}

		local, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", localPath, err)
		}
		defer local.Close()

		remote, err := client.Create(remotePath)
		if err != nil {
			return fmt.Errorf("create remote file %s: %w", remotePath, err)
		}
		defer remote.Close()

		if _, err := remote.ReadFrom(local); err != nil {
			return fmt.Errorf("upload %s -> %s: %w", localPath, remotePath, err)
		}
		return nil
	}
}

func sshAuth(password, keyPath string) ([]ssh.AuthMethod, error) {
	if keyPath != "" {
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w", keyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", keyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(password)}, nil
}
