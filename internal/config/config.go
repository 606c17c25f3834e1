package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Generator types.
const (
	GeneratorCommand      = "command"
	GeneratorDeepResearch = "deep_research"
)

// Processed-id store backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Configuration holds every setting of the bot.
type Configuration struct {
	Site            SiteConfig         `mapstructure:"site" yaml:"site"`
	Selectors       SelectorConfig     `mapstructure:"selectors" yaml:"selectors"`
	Browser         BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Session         SessionConfig      `mapstructure:"session" yaml:"session"`
	AnswerGenerator GeneratorConfig    `mapstructure:"answer_generator" yaml:"answer_generator"`
	Notification    NotificationConfig `mapstructure:"notification" yaml:"notification"`
	Run             RunConfig          `mapstructure:"run" yaml:"run"`
	Metrics         MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
}

// SiteConfig describes the target site's URLs and session markers.
type SiteConfig struct {
	BaseURL             string   `mapstructure:"base_url" yaml:"base_url"`
	NotificationsPath   string   `mapstructure:"notifications_path" yaml:"notifications_path"`
	SigninPath          string   `mapstructure:"signin_path" yaml:"signin_path"`
	WhoamiPath          string   `mapstructure:"whoami_path" yaml:"whoami_path"`
	SessionCookie       string   `mapstructure:"session_cookie" yaml:"session_cookie"`
	CookieDomain        string   `mapstructure:"cookie_domain" yaml:"cookie_domain"`
	InterstitialMarkers []string `mapstructure:"interstitial_markers" yaml:"interstitial_markers"`
}

// SelectorConfig holds every selector cascade. Order is priority.
type SelectorConfig struct {
	NotificationItems  []string `mapstructure:"notification_items" yaml:"notification_items"`
	InvitationKeywords []string `mapstructure:"invitation_keywords" yaml:"invitation_keywords"`
	QuestionLinks      []string `mapstructure:"question_links" yaml:"question_links"`
	Inviter            []string `mapstructure:"inviter" yaml:"inviter"`
	InvitedAt          []string `mapstructure:"invited_at" yaml:"invited_at"`
	LoginIndicators    []string `mapstructure:"login_indicators" yaml:"login_indicators"`
	QRCodeTab          []string `mapstructure:"qrcode_tab" yaml:"qrcode_tab"`
	QRCode             []string `mapstructure:"qrcode" yaml:"qrcode"`
	QuestionTitle      []string `mapstructure:"question_title" yaml:"question_title"`
	QuestionContent    []string `mapstructure:"question_content" yaml:"question_content"`
	WriteAnswerButtons []string `mapstructure:"write_answer_buttons" yaml:"write_answer_buttons"`
	Editors            []string `mapstructure:"editors" yaml:"editors"`
	SaveDraftButtons   []string `mapstructure:"save_draft_buttons" yaml:"save_draft_buttons"`
}

// BrowserConfig controls the Chrome instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	PersistentProfile bool          `mapstructure:"persistent_profile" yaml:"persistent_profile"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	Settle            time.Duration `mapstructure:"settle" yaml:"settle"`
	NavTimeout        time.Duration `mapstructure:"nav_timeout" yaml:"nav_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	NoSandbox         bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
}

// SessionConfig locates the session artifacts and the processed-id store.
type SessionConfig struct {
	CookieFile    string `mapstructure:"cookie_file" yaml:"cookie_file"`
	ProcessedFile string `mapstructure:"processed_file" yaml:"processed_file"`
	Backend       string `mapstructure:"backend" yaml:"backend"`
	RedisURL      string `mapstructure:"redis_url" yaml:"redis_url"`
	RedisKey      string `mapstructure:"redis_key" yaml:"redis_key"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type                  string             `mapstructure:"type" yaml:"type"`
	Command               string             `mapstructure:"command" yaml:"command"`
	CommandTimeoutSeconds int                `mapstructure:"command_timeout_seconds" yaml:"command_timeout_seconds"`
	DeepResearch          DeepResearchConfig `mapstructure:"deep_research" yaml:"deep_research"`
}

// DeepResearchConfig configures the remote research service.
type DeepResearchConfig struct {
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	TokenEnv       string `mapstructure:"token_env" yaml:"token_env"`
	Token          string `mapstructure:"token" yaml:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Concurrency    int    `mapstructure:"concurrency" yaml:"concurrency"`
	AnswerField    string `mapstructure:"answer_field" yaml:"answer_field"`
}

// NotificationConfig configures the run-summary webhook.
type NotificationConfig struct {
	FeishuWebhook string `mapstructure:"feishu_webhook" yaml:"feishu_webhook"`
}

// RunConfig holds pipeline pacing and output locations.
type RunConfig struct {
	ArtifactDir   string        `mapstructure:"artifact_dir" yaml:"artifact_dir"`
	LogDir        string        `mapstructure:"log_dir" yaml:"log_dir"`
	MaxQuestions  int           `mapstructure:"max_questions" yaml:"max_questions"`
	ItemDelay     time.Duration `mapstructure:"item_delay" yaml:"item_delay"`
	DetailDelay   time.Duration `mapstructure:"detail_delay" yaml:"detail_delay"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	LoginTimeout  time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
}

// MetricsConfig points at the Prometheus textfile. Empty disables it.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// Default returns the built-in configuration.
func Default() Configuration {
	return Configuration{
		Site: SiteConfig{
			BaseURL:             "https://www.zhihu.com",
			NotificationsPath:   "/notifications",
			SigninPath:          "/signin",
			WhoamiPath:          "/api/v4/me",
			SessionCookie:       "z_c0",
			CookieDomain:        ".zhihu.com",
			InterstitialMarkers: []string{"unhuman", "/account/"},
		},
		Selectors: SelectorConfig{
			NotificationItems: []string{
				".NotificationList-item",
				`[class*="NotificationList"] > div`,
				`[data-za-detail-view-element_name="通知列表"] > div`,
				".List-item",
				".ContentItem",
				`div[role="listitem"]`,
			},
			InvitationKeywords: []string{"邀请你回答", "邀请回答", "向你提问", "邀请你"},
			QuestionLinks: []string{
				`a[href*="/question/"]`,
				`a[href*="zhihu.com/question"]`,
			},
			Inviter:   []string{`a[href*="/people/"]`, ".UserLink-link"},
			InvitedAt: []string{"time", `[class*="time"]`, `[class*="Time"]`},
			LoginIndicators: []string{
				".AppHeader-profileEntryAvatar",
				`[data-za-detail-view-element_name="个人头像"]`,
				`img[alt*="头像"]`,
				".AppHeader-userInfo",
			},
			QRCodeTab: []string{
				`[data-za-detail-view-element_name="扫码登录"]`,
				`div:has-text("扫码登录")`,
			},
			QRCode: []string{"canvas", `img[src*="qrcode"]`},
			QuestionTitle: []string{
				"h1.QuestionHeader-title",
				".QuestionHeader-title",
				"h1",
			},
			QuestionContent: []string{
				".QuestionRichText",
				`[class*="QuestionRichText"]`,
				".RichContent-inner",
				`[data-za-detail-view-element_name="问题描述"]`,
				".QuestionRichText-content",
			},
			WriteAnswerButtons: []string{
				`button:has-text("写回答")`,
				`a:has-text("写回答")`,
				`button:has-text("添加回答")`,
				`[data-za-detail-view-element_name="写回答"]`,
				`a[href*="/write"]`,
				`button[class*="Answer"]`,
			},
			Editors: []string{
				".RichText-editable",
				".ProseMirror",
				".public-DraftEditor-content",
				`[contenteditable="true"]`,
				".DraftEditor-root",
				"[data-editor]",
				`div[role="textbox"]`,
				`textarea[placeholder*="回答"]`,
			},
			SaveDraftButtons: []string{
				`button:has-text("保存草稿")`,
				`button:has-text("存草稿")`,
				`button:has-text("草稿")`,
			},
		},
		Browser: BrowserConfig{
			Headless:          false,
			PersistentProfile: true,
			UserDataDir:       ".chrome-profile/zhihu",
			UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Settle:            3 * time.Second,
			NavTimeout:        60 * time.Second,
			IdleTimeout:       10 * time.Second,
		},
		Session: SessionConfig{
			CookieFile:    "zhihu_cookies.json",
			ProcessedFile: "processed_invitations.json",
			Backend:       BackendFile,
			RedisURL:      "redis://localhost:6379/0",
			RedisKey:      "answerbot:processed",
		},
		AnswerGenerator: GeneratorConfig{
			Type:                  GeneratorCommand,
			CommandTimeoutSeconds: 120,
			DeepResearch: DeepResearchConfig{
				TokenEnv:       "CABINET_API_TOKEN",
				TimeoutSeconds: 650,
				Concurrency:    2,
				AnswerField:    "text_report",
			},
		},
		Run: RunConfig{
			ArtifactDir:  "artifacts",
			LogDir:       "logs",
			ItemDelay:    5 * time.Second,
			DetailDelay:  time.Second,
			LoginTimeout: 180 * time.Second,
		},
	}
}

// Load reads the configuration at path layered over Default and
// ANSWERBOT_* environment variables. A missing file is not an error.
func Load(path string) (*Configuration, error) {
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}
	v.SetEnvPrefix("ANSWERBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, statErr)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the pipeline cannot run without.
func (c *Configuration) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("%w: site.base_url is empty", ErrInvalid)
	}
	switch c.AnswerGenerator.Type {
	case GeneratorCommand, GeneratorDeepResearch:
	default:
		return fmt.Errorf("%w: answer_generator.type %q", ErrInvalid, c.AnswerGenerator.Type)
	}
	switch c.Session.Backend {
	case BackendFile, BackendRedis:
	default:
		return fmt.Errorf("%w: session.backend %q", ErrInvalid, c.Session.Backend)
	}
	if len(c.Selectors.NotificationItems) == 0 || len(c.Selectors.Editors) == 0 {
		return fmt.Errorf("%w: selector cascades must not be empty", ErrInvalid)
	}
	return nil
}

// URL joins a site path onto the base URL.
func (s SiteConfig) URL(path string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// QuestionURL is the canonical page of a question.
func (s SiteConfig) QuestionURL(id string) string {
	return s.URL("/question/" + id)
}

// ComposeURL is the answer-composition surface of a question.
func (s SiteConfig) ComposeURL(id string) string {
	return s.URL("/question/" + id + "/write")
}

// IsInterstitial reports whether url is a bot-verification page.
func (s SiteConfig) IsInterstitial(url string) bool {
	for _, m := range s.InterstitialMarkers {
		if m != "" && strings.Contains(url, m) {
			return true
		}
	}
	return false
}

// WriteDefault writes the default configuration to path unless a file
// already exists there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return false, fmt.Errorf("failed to encode default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("failed to write config: %w", err)
	}
	return true, nil
}
