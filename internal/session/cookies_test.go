package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/answerbot/internal/browser"
	"github.com/go-scripts/answerbot/internal/browser/browsertest"
)

func TestParseCookieHeader(t *testing.T) {
	cookies := ParseCookieHeader(` z_c0=2|1:0|abc==; d_c0="AB=CD"; ;broken; _xsrf= `, ".zhihu.com")
	require.Len(t, cookies, 3)

	assert.Equal(t, browser.Cookie{Name: "z_c0", Value: "2|1:0|abc==", Domain: ".zhihu.com", Path: "/"}, cookies[0])
	assert.Equal(t, `"AB=CD"`, cookies[1].Value)
	assert.Equal(t, "_xsrf", cookies[2].Name)
	assert.Empty(t, cookies[2].Value)

	assert.True(t, HasCookie(cookies, "z_c0"))
	assert.False(t, HasCookie(cookies, "_xsrf"), "empty value does not count")
	assert.False(t, HasCookie(cookies, "q_c1"))
}

func TestJarRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cookies.json")
	jar := NewJar(path)

	cookies, err := jar.Load()
	require.NoError(t, err)
	assert.Empty(t, cookies)

	want := []browser.Cookie{{Name: "z_c0", Value: "v", Domain: ".zhihu.com", Path: "/", Secure: true}}
	require.NoError(t, jar.Save(want))

	got, err := jar.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestJarLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := NewJar(path).Load()
	assert.Error(t, err)
}

func TestJarExportRestore(t *testing.T) {
	ctx := context.Background()
	jar := NewJar(filepath.Join(t.TempDir(), "cookies.json"))

	src := browsertest.New()
	src.Jar = []browser.Cookie{{Name: "z_c0", Value: "token", Domain: ".zhihu.com", Path: "/"}}
	n, err := jar.Export(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dst := browsertest.New()
	n, err = jar.Restore(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, src.Jar, dst.Jar)
}
