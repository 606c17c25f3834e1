package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/answerbot/internal/config"
	"github.com/go-scripts/answerbot/internal/types"
	"github.com/go-scripts/answerbot/internal/writer"
)

func invitations(n int) []types.Invitation {
	out := make([]types.Invitation, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprint(1000 + i)
		out = append(out, types.Invitation{Question: &types.Question{
			ID:      id,
			Title:   "问题 " + id,
			URL:     "https://www.zhihu.com/question/" + id,
			Content: "内容 " + id,
		}})
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func ids(invs []types.Invitation) []string {
	out := make([]string, 0, len(invs))
	for _, inv := range invs {
		out = append(out, inv.Question.ID)
	}
	return out
}

func TestExpand(t *testing.T) {
	got := Expand("gen --title {title} --ctx {content}", "it's", "x")
	assert.Equal(t, `gen --title 'it'\''s' --ctx 'x'`, got)

	long := strings.Repeat("字", 600)
	got = Expand("{content}", "", long)
	assert.Equal(t, "'"+strings.Repeat("字", MaxCommandContext)+"'", got)
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "这是一个关于「如何学习Go」的测试回答。请配置实际工具。", Placeholder("如何学习Go"))
	assert.Contains(t, Placeholder(strings.Repeat("长", 80)), "「"+strings.Repeat("长", 50)+"」")
}

func TestCommandGenerator(t *testing.T) {
	testCases := []struct {
		name     string
		template string
		timeout  time.Duration
		check    func(t *testing.T, inv types.Invitation, answer string)
	}{
		{
			name:     "stdout becomes answer",
			template: `printf '%s|%s' {title} {content}`,
			check: func(t *testing.T, inv types.Invitation, answer string) {
				assert.Equal(t, inv.Question.Title+"|"+inv.Question.Content, answer)
			},
		},
		{
			name:     "non-zero exit is empty",
			template: `echo partial; exit 3`,
			check: func(t *testing.T, _ types.Invitation, answer string) {
				assert.Empty(t, answer)
			},
		},
		{
			name:     "timeout is empty",
			template: `exec sleep 5`,
			timeout:  100 * time.Millisecond,
			check: func(t *testing.T, _ types.Invitation, answer string) {
				assert.Empty(t, answer)
			},
		},
		{
			name:     "no command yields placeholder",
			template: "  ",
			check: func(t *testing.T, inv types.Invitation, answer string) {
				assert.Equal(t, Placeholder(inv.Question.Title), answer)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			invs := invitations(2)
			g := NewCommand(tc.template, tc.timeout, nil)

			start := time.Now()
			answers, err := g.GenerateBatch(context.Background(), invs)
			require.NoError(t, err)
			assert.Less(t, time.Since(start), 4*time.Second)
			assert.ElementsMatch(t, ids(invs), keys(answers))
			for _, inv := range invs {
				tc.check(t, inv, answers[inv.Question.ID])
			}
		})
	}
}

func TestCommandGeneratorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	invs := invitations(3)

	answers, err := NewCommand("echo hi", time.Second, nil).GenerateBatch(ctx, invs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ElementsMatch(t, ids(invs), keys(answers))
}

func TestResearchGeneratorResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req researchRequest
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "secret", req.Token)

		switch {
		case strings.HasSuffix(req.Query, "1000"):
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"text_report": "  报告 %s  ", "sources": 3}`, req.Context)
		case strings.HasSuffix(req.Query, "1001"):
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		case strings.HasSuffix(req.Query, "1002"):
			w.Write([]byte(`{"summary": "no report field"}`))
		default:
			w.Write([]byte("not json"))
		}
	}))
	t.Cleanup(server.Close)

	w, err := writer.New(t.TempDir())
	require.NoError(t, err)
	invs := invitations(4)
	g := NewResearch(ResearchOptions{Endpoint: server.URL, Token: "secret", Artifacts: w, Concurrency: 2})

	answers, err := g.GenerateBatch(context.Background(), invs)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids(invs), keys(answers))
	assert.Equal(t, "报告 内容 1000", answers["1000"])
	assert.Empty(t, answers["1001"])
	assert.Empty(t, answers["1002"])
	assert.Empty(t, answers["1003"])

	data, err := os.ReadFile(w.LatestPath("answers"))
	require.NoError(t, err)
	var results []types.AnswerResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 4)

	assert.True(t, results[0].OK)
	assert.Equal(t, 200, results[0].Status)
	assert.EqualValues(t, 3, results[0].Raw["sources"])

	assert.False(t, results[1].OK)
	assert.Equal(t, http.StatusBadGateway, results[1].Status)
	assert.Equal(t, "upstream down", results[1].TextPrefix)
	assert.Contains(t, results[1].Error, "502")

	assert.True(t, results[2].OK)
	assert.Empty(t, results[2].AnswerText)

	assert.Nil(t, results[3].Raw)
	assert.Equal(t, "not json", results[3].TextPrefix)
}

func TestResearchGeneratorConcurrencyBound(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := maxInFlight.Load()
			if n <= old || maxInFlight.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"text_report": "ok"}`))
	}))
	t.Cleanup(server.Close)

	invs := invitations(5)
	g := NewResearch(ResearchOptions{Endpoint: server.URL, Token: "t", Concurrency: 2})

	answers, err := g.GenerateBatch(context.Background(), invs)
	require.NoError(t, err)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
	assert.Equal(t, int32(2), maxInFlight.Load(), "both slots should be used")
	for _, id := range ids(invs) {
		assert.Equal(t, "ok", answers[id])
	}
}

func TestResearchGeneratorTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	w, err := writer.New(t.TempDir())
	require.NoError(t, err)
	g := NewResearch(ResearchOptions{Endpoint: server.URL, Token: "t", Timeout: 100 * time.Millisecond, Artifacts: w})

	start := time.Now()
	answers, err := g.GenerateBatch(context.Background(), invitations(1))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, map[string]string{"1000": ""}, answers)

	data, err := os.ReadFile(w.LatestPath("answers"))
	require.NoError(t, err)
	var results []types.AnswerResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.NotEmpty(t, results[0].Error)
}

func TestResearchGeneratorFlushesPartialResults(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req researchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if strings.HasSuffix(req.Query, "1001") {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
		w.Write([]byte(`{"text_report": "done"}`))
	}))
	t.Cleanup(server.Close)

	w, err := writer.New(t.TempDir())
	require.NoError(t, err)
	g := NewResearch(ResearchOptions{Endpoint: server.URL, Token: "t", Artifacts: w, FlushInterval: 10 * time.Millisecond})

	go func() {
		defer close(release)
		assert.Eventually(t, func() bool {
			data, err := os.ReadFile(w.LatestPath("answers"))
			if err != nil {
				return false
			}
			var partial []types.AnswerResult
			return json.Unmarshal(data, &partial) == nil && len(partial) == 1
		}, 2*time.Second, 10*time.Millisecond)
	}()

	answers, err := g.GenerateBatch(context.Background(), invitations(2))
	require.NoError(t, err)
	assert.Equal(t, "done", answers["1000"])
	assert.Equal(t, "done", answers["1001"])
}

func TestNewSelectsStrategy(t *testing.T) {
	g, err := New(Options{Config: config.GeneratorConfig{Type: config.GeneratorCommand, Command: "echo"}})
	require.NoError(t, err)
	assert.Equal(t, "command", g.Name())

	dr := config.Default().AnswerGenerator
	dr.Type = config.GeneratorDeepResearch
	dr.DeepResearch.TokenEnv = "ANSWERBOT_TEST_TOKEN"
	dr.DeepResearch.Endpoint = ""
	_, err = New(Options{Config: dr})
	assert.ErrorIs(t, err, config.ErrInvalid)

	dr.DeepResearch.Endpoint = "http://localhost:1/research"
	_, err = New(Options{Config: dr})
	assert.ErrorIs(t, err, config.ErrInvalid, "missing token")

	t.Setenv("ANSWERBOT_TEST_TOKEN", "from-env")
	g, err = New(Options{Config: dr})
	require.NoError(t, err)
	assert.Equal(t, "deep_research", g.Name())

	_, err = New(Options{Config: config.GeneratorConfig{Type: "llm"}})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestResolveToken(t *testing.T) {
	cfg := config.DeepResearchConfig{TokenEnv: "ANSWERBOT_TEST_TOKEN2", Token: "literal"}
	assert.Equal(t, "literal", ResolveToken(cfg))

	t.Setenv("ANSWERBOT_TEST_TOKEN2", "env")
	assert.Equal(t, "env", ResolveToken(cfg))
}

func TestResearchGeneratorReports(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	w, err := writer.New(t.TempDir())
	require.NoError(t, err)
	var g Generator = NewResearch(ResearchOptions{Endpoint: server.URL, Token: "t", Artifacts: w})
	_, err = g.GenerateBatch(context.Background(), invitations(1))
	require.NoError(t, err)

	rep, ok := g.(Reporter)
	require.True(t, ok)
	require.Len(t, rep.LastResults(), 1)
	assert.Equal(t, http.StatusTooManyRequests, rep.LastResults()[0].Status)
	assert.FileExists(t, rep.LastArtifact())
}
