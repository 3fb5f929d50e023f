package docker

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
)

// ExtractStatic copies sourcePath out of the pool image and unpacks it
// under destinationDir. the daemon can copy out of a created container
// without starting it, so this uses a throwaway container that exists only
// for the duration of the copy: create, copy, remove. run once at startup
// when static file serving is configured.
func (gateway *Gateway) ExtractStatic(ctx context.Context, sourcePath, destinationDir string) error {
	var containerID string
	err := gateway.withRetries(ctx, "create", Retries, func() error {
		response, createErr := gateway.sdk.ContainerCreate(
			ctx,
			&container.Config{Image: gateway.spec.Image},
			nil, nil, nil,
			"", // anonymous: must not match the pool name regex, or cleanout would race the copy
		)
		if createErr != nil {
			return createErr
		}
		containerID = response.ID
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create static extraction container: %w", err)
	}

	defer func() {
		if removeErr := gateway.Remove(context.WithoutCancel(ctx), containerID); removeErr != nil {
			gateway.logger.Error("failed to remove static extraction container",
				"container_id", shortID(containerID),
				"error", removeErr,
			)
		}
	}()

	// CopyFromContainer streams a tarball of sourcePath. the stream must be
	// fully consumed and closed, or the daemon connection leaks.
	var tarball io.ReadCloser
	err = gateway.withRetries(ctx, "copy", Retries, func() error {
		stream, _, copyErr := gateway.sdk.CopyFromContainer(ctx, containerID, sourcePath)
		if copyErr != nil {
			return copyErr
		}
		tarball = stream
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to copy %q from image %q: %w", sourcePath, gateway.spec.Image, err)
	}
	defer tarball.Close()

	if err := untar(tarball, destinationDir); err != nil {
		return fmt.Errorf("failed to unpack static files: %w", err)
	}

	gateway.logger.Info("static files extracted",
		"source", sourcePath,
		"destination", destinationDir,
	)
	return nil
}

// untar unpacks a tar stream under destinationDir. entry names are
// normalized and checked so a crafted archive cannot write outside the
// destination.
func untar(tarball io.Reader, destinationDir string) error {
	if err := os.MkdirAll(destinationDir, 0o755); err != nil {
		return err
	}

	reader := tar.NewReader(tarball)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		cleaned := filepath.Clean(header.Name)
		if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
			continue
		}
		target := filepath.Join(destinationDir, cleaned)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(file, reader); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
		default:
			// symlinks and device nodes have no business in a static
			// asset bundle; skip them.
		}
	}
}
