package openstack

import (
	"fmt"
	"io"
	"os"

	"github.com/alessio/shellescape"
	"github.com/klauspost/compress/zstd"
)

const bootstrapRemotePath = "/tmp/warden-bootstrap"

// bootstrap streams a local script to the node over SSH, compressed with zstd
// to keep large payloads fast on slow provider networks, and runs it.
func (n *Node) bootstrap(file string) error {
	source, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open bootstrap file: %w", err)
	}
	defer source.Close()

	session, err := n.ssh.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	reader, writer := io.Pipe()
	session.Stdin = reader
	session.Stderr = os.Stderr

	go func() {
		compressor, err := zstd.NewWriter(writer)
		if err != nil {
			writer.CloseWithError(err)
			return
		}
		if _, err = io.Copy(compressor, source); err != nil {
			writer.CloseWithError(err)
			return
		}
		writer.CloseWithError(compressor.Close())
	}()

	remote := shellescape.Quote(bootstrapRemotePath)
	command := fmt.Sprintf("zstd --decompress --stdout > %s && sh %s && rm -f %s", remote, remote, remote)

	n.log.Debug("Running bootstrap script", "file", file)
	if err := session.Run(command); err != nil {
		return fmt.Errorf("failed to run bootstrap script: %w", err)
	}

	return nil
}
