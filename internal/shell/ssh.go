// File: internal/shell/ssh.go
// Brief: Single-host SSH execution via golang.org/x/crypto/ssh.

package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	homedir "github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
)

type sshHandle struct {
	host    string
	client  *ssh.Client
	session *ssh.Session
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer

	once    sync.Once
	results []Result
	err     error
}

func startSSH(ctx context.Context, cmd string, info ExecInfo) (Handle, error) {
	host := "localhost"
	if len(info.Hosts) > 0 {
		host = info.Hosts[0]
	}
	return dialAndStart(ctx, host, cmd, info)
}

func dialAndStart(ctx context.Context, host, cmd string, info ExecInfo) (*sshHandle, error) {
	cfg, err := sshClientConfig(info)
	if err != nil {
		return nil, err
	}
	port := info.Port
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, &CmdError{Host: host, Cause: fmt.Errorf("dial %s: %w", addr, err)}
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, &CmdError{Host: host, Cause: fmt.Errorf("open session: %w", err)}
	}

	h := &sshHandle{host: host, client: client, session: session, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	session.Stdout = h.stdout
	session.Stderr = h.stderr
	if info.Stdin != "" {
		session.Stdin = strings.NewReader(info.Stdin)
	}

	remote := remoteCommand(cmd, info)
	if err := session.Start(remote); err != nil {
		session.Close()
		client.Close()
		return nil, &CmdError{Host: host, Cause: fmt.Errorf("start %q: %w", cmd, err)}
	}

	// A cancelled context tears the session down so Wait unblocks.
	stop := context.AfterFunc(ctx, func() {
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
	})
	go func() {
		h.waitOnce()
		stop()
	}()
	return h, nil
}

func (h *sshHandle) waitOnce() {
	h.once.Do(func() {
		waitErr := h.session.Wait()
		exit := 0
		if waitErr != nil {
			exit = -1
			if ee, ok := waitErr.(*ssh.ExitError); ok {
				exit = ee.ExitStatus()
			}
		}
		h.results = []Result{{
			Host:     h.host,
			ExitCode: exit,
			Stdout:   h.stdout.String(),
			Stderr:   h.stderr.String(),
		}}
		if waitErr != nil {
			h.err = &CmdError{Host: h.host, ExitCode: exit, Cause: waitErr}
		}
		h.session.Close()
		h.client.Close()
	})
}

func (h *sshHandle) Wait() ([]Result, error) {
	h.waitOnce()
	return h.results, h.err
}

func (h *sshHandle) Kill() error {
	if err := h.session.Signal(ssh.SIGKILL); err != nil && err.Error() != "EOF" {
		return err
	}
	return nil
}

// remoteCommand wraps cmd with cd and environment exports so the remote
// shell sees the same env the local executor would pass directly.
func remoteCommand(cmd string, info ExecInfo) string {
	parts := ""
	if info.Cwd != "" {
		parts += fmt.Sprintf("cd %q && ", info.Cwd)
	}
	parts += envPreamble(info.Env)
	return parts + cmd
}

func sshClientConfig(info ExecInfo) (*ssh.ClientConfig, error) {
	user := info.User
	if user == "" {
		user = os.Getenv("USER")
	}
	keyPath := info.KeyPath
	if keyPath == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		keyPath = filepath.Join(home, ".ssh", "id_rsa")
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", keyPath, err)
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}, nil
}
