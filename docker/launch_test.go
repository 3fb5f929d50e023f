package docker

import (
	"testing"

	"github.com/docker/docker/api/types/mount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCommand(t *testing.T) {
	template := "jupyter kernelgateway --port={port} --ip={ip} --base_url={base_path} --token={token}"

	rendered := renderCommand(template, "/pool/abc123", 8888, "0.0.0.0", "deadbeef")
	assert.Equal(t,
		"jupyter kernelgateway --port=8888 --ip=0.0.0.0 --base_url=/pool/abc123 --token=deadbeef",
		rendered,
	)
}

func TestRenderCommandSubstitutesEachPlaceholderEverywhere(t *testing.T) {
	rendered := renderCommand("{port} {port} {ip}", "", 9000, "1.2.3.4", "")
	assert.Equal(t, "9000 9000 1.2.3.4", rendered)
}

func TestRenderCommandDoesNotReexpandSubstitutedValues(t *testing.T) {
	// a substituted value that itself looks like a placeholder must come
	// through literally: substitution happens exactly once.
	rendered := renderCommand("--base_url={base_path} --token={token}", "{token}", 80, "", "secret")
	assert.Equal(t, "--base_url={token} --token=secret", rendered)
}

func TestParseHostDirectories(t *testing.T) {
	mounts, err := parseHostDirectories([]string{
		"/home/steve/data:/usr/data:ro",
		"/srv/shared:/shared",
		"/opt/tools",
	})
	require.NoError(t, err)
	require.Len(t, mounts, 3)

	assert.Equal(t, mount.Mount{Type: mount.TypeBind, Source: "/home/steve/data", Target: "/usr/data", ReadOnly: true}, mounts[0])
	assert.Equal(t, mount.Mount{Type: mount.TypeBind, Source: "/srv/shared", Target: "/shared"}, mounts[1])
	// a bare source mounts at the same path inside the container
	assert.Equal(t, mount.Mount{Type: mount.TypeBind, Source: "/opt/tools", Target: "/opt/tools"}, mounts[2])
}

func TestParseHostDirectoriesRejectsBadSpecs(t *testing.T) {
	_, err := parseHostDirectories([]string{":/usr/data"})
	assert.ErrorContains(t, err, "invalid host directory")

	_, err = parseHostDirectories([]string{"/a:/b:rx"})
	assert.ErrorContains(t, err, "invalid mount mode")

	_, err = parseHostDirectories([]string{"/a:/b:ro:extra"})
	assert.ErrorContains(t, err, "invalid host directory")
}

func TestParseHostDirectoriesEmpty(t *testing.T) {
	mounts, err := parseHostDirectories(nil)
	require.NoError(t, err)
	assert.Nil(t, mounts)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef0123"))
	assert.Equal(t, "short", shortID("short"))
}
