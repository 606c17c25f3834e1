package login

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/answerbot/internal/browser"
	"github.com/go-scripts/answerbot/internal/browser/browsertest"
	"github.com/go-scripts/answerbot/internal/config"
	"github.com/go-scripts/answerbot/internal/session"
)

func newController(t *testing.T, page *browsertest.Page, jar *session.Jar) *Controller {
	t.Helper()
	cfg := config.Default()
	return New(page, Options{
		Site:         cfg.Site,
		Selectors:    cfg.Selectors,
		Jar:          jar,
		QRCodePath:   filepath.Join(t.TempDir(), "qrcode.png"),
		PollInterval: 10 * time.Millisecond,
		NoticeEvery:  20 * time.Millisecond,
		QRWait:       50 * time.Millisecond,
	})
}

func whoami(status int) func(string) (any, error) {
	return func(script string) (any, error) {
		if strings.Contains(script, "/api/v4/me") {
			return status, nil
		}
		return nil, nil
	}
}

func TestIsLoggedInLayers(t *testing.T) {
	testCases := []struct {
		name        string
		setup       func(p *browsertest.Page)
		want        bool
		wantScripts int
	}{
		{
			name:        "page indicator short-circuits",
			setup:       func(p *browsertest.Page) { p.Present[".AppHeader-userInfo"] = true },
			want:        true,
			wantScripts: 0,
		},
		{
			name: "session cookie short-circuits",
			setup: func(p *browsertest.Page) {
				p.Jar = []browser.Cookie{{Name: "z_c0", Value: "token"}}
			},
			want:        true,
			wantScripts: 0,
		},
		{
			name: "empty session cookie falls through to api",
			setup: func(p *browsertest.Page) {
				p.Jar = []browser.Cookie{{Name: "z_c0", Value: ""}}
				p.EvalFunc = whoami(200)
			},
			want:        true,
			wantScripts: 1,
		},
		{
			name:        "api unauthorized",
			setup:       func(p *browsertest.Page) { p.EvalFunc = whoami(401) },
			want:        false,
			wantScripts: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			page := browsertest.New()
			tc.setup(page)
			c := newController(t, page, nil)

			assert.Equal(t, tc.want, c.IsLoggedIn(context.Background()))
			assert.Len(t, page.Scripts, tc.wantScripts)
		})
	}
}

func TestWaitForLoginEventuallySucceeds(t *testing.T) {
	page := browsertest.New()
	var calls atomic.Int32
	page.EvalFunc = func(string) (any, error) {
		if calls.Add(1) < 4 {
			return 401, nil
		}
		return 200, nil
	}
	c := newController(t, page, nil)

	ok, err := c.WaitForLogin(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, calls.Load(), int32(4))
}

func TestWaitForLoginTimeout(t *testing.T) {
	page := browsertest.New()
	page.SetURL("https://www.zhihu.com/account/unhuman?type=unhuman")
	page.EvalFunc = whoami(401)
	c := newController(t, page, nil)

	start := time.Now()
	ok, err := c.WaitForLogin(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitForLoginCancelled(t *testing.T) {
	page := browsertest.New()
	page.EvalFunc = whoami(401)
	c := newController(t, page, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	ok, err := c.WaitForLogin(ctx, time.Minute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQRLoginSuccessSavesCookies(t *testing.T) {
	page := browsertest.New()
	page.Visible[`[data-za-detail-view-element_name="扫码登录"]`] = true
	page.Visible[`canvas, img[src*="qrcode"]`] = true
	page.Jar = nil
	var calls atomic.Int32
	page.EvalFunc = func(string) (any, error) {
		if calls.Add(1) < 2 {
			return 401, nil
		}
		page.Jar = []browser.Cookie{{Name: "z_c0", Value: "fresh", Domain: ".zhihu.com", Path: "/"}}
		return 200, nil
	}
	jar := session.NewJar(filepath.Join(t.TempDir(), "cookies.json"))
	c := newController(t, page, jar)

	require.NoError(t, c.QRLogin(context.Background(), time.Second))

	assert.Equal(t, []string{"https://www.zhihu.com/signin"}, page.Navigations)
	assert.Equal(t, []string{`[data-za-detail-view-element_name="扫码登录"]`}, page.Clicks)
	require.Len(t, page.Screenshots, 1)

	saved, err := jar.Load()
	require.NoError(t, err)
	assert.True(t, session.HasCookie(saved, "z_c0"))
}

func TestQRLoginTimeout(t *testing.T) {
	page := browsertest.New()
	page.EvalFunc = whoami(401)
	c := newController(t, page, nil)

	err := c.QRLogin(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLoginTimeout)
	assert.Len(t, page.Screenshots, 1, "page is captured even without a detected QR element")
}

func TestEnsureLoggedInUsesStoredSession(t *testing.T) {
	page := browsertest.New()
	page.Present[".AppHeader-profileEntryAvatar"] = true
	c := newController(t, page, nil)

	require.NoError(t, c.EnsureLoggedIn(context.Background(), time.Second))
	assert.Equal(t, []string{"https://www.zhihu.com/"}, page.Navigations)
}
