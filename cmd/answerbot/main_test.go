package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/answerbot/internal/config"
	"github.com/go-scripts/answerbot/internal/types"
)

func TestRunCmdApply(t *testing.T) {
	testCases := []struct {
		name    string
		cmd     RunCmd
		check   func(t *testing.T, cfg config.Configuration)
		wantErr bool
	}{
		{
			name: "no flags keeps configuration",
			cmd:  RunCmd{},
			check: func(t *testing.T, cfg config.Configuration) {
				assert.Equal(t, config.Default(), cfg)
			},
		},
		{
			name: "overrides",
			cmd: RunCmd{
				Headed:              true,
				MaxQuestions:        3,
				Generator:           config.GeneratorDeepResearch,
				FlushInterval:       30 * time.Second,
				UserDataDir:         "/tmp/profile",
				NoPersistentProfile: true,
			},
			check: func(t *testing.T, cfg config.Configuration) {
				assert.False(t, cfg.Browser.Headless)
				assert.Equal(t, 3, cfg.Run.MaxQuestions)
				assert.Equal(t, config.GeneratorDeepResearch, cfg.AnswerGenerator.Type)
				assert.Equal(t, 30*time.Second, cfg.Run.FlushInterval)
				assert.Equal(t, "/tmp/profile", cfg.Browser.UserDataDir)
				assert.False(t, cfg.Browser.PersistentProfile)
			},
		},
		{
			name: "headless",
			cmd:  RunCmd{Headless: true},
			check: func(t *testing.T, cfg config.Configuration) {
				assert.True(t, cfg.Browser.Headless)
			},
		},
		{
			name:    "conflicting window flags",
			cmd:     RunCmd{Headless: true, Headed: true},
			wantErr: true,
		},
		{
			name:    "unknown generator",
			cmd:     RunCmd{Generator: "gpt"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			err := tc.cmd.apply(&cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestGlobalsLoadCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "run:\n  artifact_dir: " + filepath.Join(dir, "out") + "\n  log_dir: " + filepath.Join(dir, "logs") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	g := &Globals{Config: cfgPath, Debug: true}
	e, err := g.load()
	require.NoError(t, err)
	defer e.Close()

	assert.DirExists(t, filepath.Join(dir, "out"))
	assert.FileExists(t, filepath.Join(dir, "logs", "answerbot.log"))
	assert.Equal(t, filepath.Join(dir, "out"), e.cfg.Run.ArtifactDir)
}

func TestInitConfigWritesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	g := &Globals{Config: path}

	require.NoError(t, (&InitConfigCmd{}).Run(g))
	assert.FileExists(t, path)
	info, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, (&InitConfigCmd{}).Run(g))
	again, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime())
}

func TestCookiesImport(t *testing.T) {
	dir := t.TempDir()
	cookieFile := filepath.Join(dir, "cookies.json")
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "session:\n  cookie_file: " + cookieFile + "\nrun:\n  artifact_dir: " + dir + "\n  log_dir: " + dir + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	g := &Globals{Config: cfgPath}
	require.NoError(t, (&CookiesImportCmd{Header: "z_c0=abc; d_c0=xyz"}).Run(g))
	assert.FileExists(t, cookieFile)

	assert.Error(t, (&CookiesImportCmd{Header: " ; "}).Run(g))
}

func TestRunNotifiesWhenStartupFails(t *testing.T) {
	testCases := []struct {
		name    string
		cmd     RunCmd
		wantErr string
	}{
		{
			name:    "browser does not start",
			cmd:     RunCmd{},
			wantErr: "failed to start browser",
		},
		{
			name:    "invalid flag override",
			cmd:     RunCmd{Generator: "gpt"},
			wantErr: "answer_generator.type",
		},
		{
			name:    "research token missing",
			cmd:     RunCmd{Generator: config.GeneratorDeepResearch},
			wantErr: "token",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var (
				mu       sync.Mutex
				messages []string
			)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var msg struct {
					Content struct {
						Text string `json:"text"`
					} `json:"content"`
				}
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
				mu.Lock()
				messages = append(messages, msg.Content.Text)
				mu.Unlock()
				w.Write([]byte(`{"code":0}`))
			}))
			defer srv.Close()

			dir := t.TempDir()
			t.Setenv("CABINET_API_TOKEN", "")
			cfgPath := filepath.Join(dir, "config.yaml")
			content := "browser:\n" +
				"  headless: true\n" +
				"  persistent_profile: false\n" +
				"  exec_path: " + filepath.Join(dir, "no-such-chrome") + "\n" +
				"session:\n" +
				"  cookie_file: " + filepath.Join(dir, "cookies.json") + "\n" +
				"  processed_file: " + filepath.Join(dir, "processed.json") + "\n" +
				"answer_generator:\n" +
				"  deep_research:\n" +
				"    endpoint: http://127.0.0.1:1/research\n" +
				"notification:\n" +
				"  feishu_webhook: " + srv.URL + "\n" +
				"run:\n" +
				"  artifact_dir: " + filepath.Join(dir, "artifacts") + "\n" +
				"  log_dir: " + filepath.Join(dir, "logs") + "\n"
			require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

			err := tc.cmd.Run(context.Background(), &Globals{Config: cfgPath})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, messages, 1)
			assert.Contains(t, messages[0], "mode: "+types.ModeStartup)
			assert.Contains(t, messages[0], "[run] ")
			assert.Contains(t, messages[0], tc.wantErr)
		})
	}
}
