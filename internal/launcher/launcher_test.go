package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobd/jobd/internal/job"
	"github.com/jobd/jobd/internal/manifest"
)

func TestLaunchPreconditionFailed(t *testing.T) {
	l := &Launcher{exePath: "/bin/true"}
	m := &manifest.Manifest{Label: "x", Command: "/bin/true"}
	j := job.New("x", m)
	j.SetState(job.StateRunning)

	_, err := l.Launch(j)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestChildSpecRoundTrip(t *testing.T) {
	spec := ChildSpec{
		Argv:             []string{"/bin/echo", "hi"},
		Env:              []string{"FOO=bar"},
		WorkingDirectory: "/tmp",
		Umask:            "022",
	}

	encoded, err := encodeSpec(&spec)
	require.NoError(t, err)

	decoded, err := decodeSpec(encoded)
	require.NoError(t, err)
	assert.Equal(t, spec, *decoded)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "FOO", envKey("FOO=bar"))
	assert.Equal(t, "FOO", envKey("FOO"))
}

func TestBuildEnvOverridesBase(t *testing.T) {
	spec := &ChildSpec{
		Env: []string{"PATH=/custom/bin"},
	}
	env := buildEnv(spec, true)

	found := false
	for _, kv := range env {
		if kv == "PATH=/custom/bin" {
			found = true
		}
		assert.NotEqual(t, "PATH=/usr/bin:/bin:/usr/sbin:/sbin", kv)
	}
	assert.True(t, found)
}
