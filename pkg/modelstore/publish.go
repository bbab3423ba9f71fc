package modelstore

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// PublishTarget describes a serving host that receives a copy of the model
// store over SFTP.
type PublishTarget struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	PrivateKey string `mapstructure:"private_key"`
	Password   string `mapstructure:"password"`
	RemoteRoot string `mapstructure:"remote_root"`
}

// Publisher mirrors the local model tree to remote serving hosts after a
// training run.
type Publisher struct {
	store *Store
	log   zerolog.Logger
}

func NewPublisher(store *Store, log zerolog.Logger) *Publisher {
	return &Publisher{store: store, log: log}
}

// Publish copies every file under the store root to the target. Files are
// uploaded to a temporary name and renamed into place so a serving host
// reading concurrently sees whole files only.
func (p *Publisher) Publish(target PublishTarget) error {
	auth, err := authMethods(target)
	if err != nil {
		return err
	}

	port := target.Port
	if port == 0 {
		port = 22
	}
	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", target.Host, port)
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("open sftp: %w", err)
	}
	defer sftpClient.Close()

	var uploaded int
	err = filepath.WalkDir(p.store.Root(), func(localPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.store.Root(), localPath)
		if err != nil {
			return err
		}
		remotePath := path.Join(target.RemoteRoot, filepath.ToSlash(rel))
		if err := p.pushFile(sftpClient, localPath, remotePath); err != nil {
			return fmt.Errorf("push %s: %w", rel, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}

	p.log.Info().Str("host", target.Host).Str("remote_root", target.RemoteRoot).
		Int("files", uploaded).Msg("published model store")
	return nil
}

func (p *Publisher) pushFile(client *sftp.Client, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return err
	}

	tmpPath := remotePath + ".uploading"
	file, err := client.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	// PosixRename replaces the destination atomically where the server
	// supports it.
	if err := client.PosixRename(tmpPath, remotePath); err != nil {
		return client.Rename(tmpPath, remotePath)
	}
	return nil
}

func authMethods(target PublishTarget) ([]ssh.AuthMethod, error) {
	methods := make([]ssh.AuthMethod, 0, 2)
	if key := strings.TrimSpace(target.PrivateKey); key != "" {
		signer, err := ssh.ParsePrivateKey([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("parse ssh private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if password := strings.TrimSpace(target.Password); password != "" {
		methods = append(methods, ssh.Password(password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("publish target %s has no authentication method", target.Host)
	}
	return methods, nil
}
