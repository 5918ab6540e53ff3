package ui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/agnosto/toot-scraper/auth"
	"github.com/agnosto/toot-scraper/config"
	"github.com/agnosto/toot-scraper/headers"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/oauth2"
)

type wizardStep int

const (
	stepSite wizardStep = iota
	stepRegistering
	stepCode
	stepExchanging
	stepDone
)

const (
	wizardSite = iota
	wizardSaveLocation
)

type appRegisteredMsg struct{ app *auth.App }

type tokenMsg struct{ token string }

type wizardErrMsg struct{ err error }

// ConfigWizardModel registers the app on the bot's instance, walks the user
// through the authorization page and saves the resulting credentials.
type ConfigWizardModel struct {
	ctx        context.Context
	configPath string
	cfg        *config.Config

	step    wizardStep
	inputs  [2]textinput.Model
	cursor  int
	code    textinput.Model
	oauth   *oauth2.Config
	authURL string
	message string
	spinner spinner.Model

	// Saved is set once credentials have been written to configPath.
	Saved bool

	register func(ctx context.Context, site string) (*auth.App, error)
	exchange func(ctx context.Context, conf *oauth2.Config, code string) (string, error)
}

// NewConfigWizardModel starts from cfg so settings the user already has
// survive the login. A nil cfg means defaults.
func NewConfigWizardModel(ctx context.Context, configPath string, cfg *config.Config) *ConfigWizardModel {
	if cfg == nil {
		cfg = config.CreateDefaultConfig()
	}
	httpClient := headers.NewClient(30 * time.Second)

	m := &ConfigWizardModel{
		ctx:        ctx,
		configPath: configPath,
		cfg:        cfg,
		register: func(ctx context.Context, site string) (*auth.App, error) {
			return auth.RegisterApp(ctx, httpClient, site)
		},
		exchange: func(ctx context.Context, conf *oauth2.Config, code string) (string, error) {
			return auth.ExchangeCode(ctx, httpClient, conf, code)
		},
	}

	m.inputs[wizardSite] = textinput.New()
	m.inputs[wizardSite].Placeholder = "Instance URL, e.g. " + config.DefaultSite
	m.inputs[wizardSite].SetValue(cfg.Account.Site)
	m.inputs[wizardSite].Focus()
	m.inputs[wizardSaveLocation] = textinput.New()
	m.inputs[wizardSaveLocation].Placeholder = "Save location (folder)"
	m.inputs[wizardSaveLocation].SetValue(cfg.Options.SaveLocation)

	m.code = textinput.New()
	m.code.Placeholder = "Authorization code"
	m.code.EchoMode = textinput.EchoPassword
	m.code.EchoCharacter = '•'
	m.spinner = newLoadingSpinner()
	return m
}

// Config returns the configuration the wizard produced.
func (m *ConfigWizardModel) Config() *config.Config { return m.cfg }

func (m *ConfigWizardModel) Init() tea.Cmd { return tea.Batch(textinput.Blink, m.spinner.Tick) }

func (m *ConfigWizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.message = "Setup cancelled."
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "tab":
			if m.step == stepSite {
				m.focus((m.cursor + 1) % len(m.inputs))
			}
			return m, nil
		}

	case appRegisteredMsg:
		m.cfg.Account.ClientID = msg.app.ClientID
		m.cfg.Account.ClientSecret = msg.app.ClientSecret
		m.oauth = auth.OAuthConfig(m.cfg.Account.Site, msg.app)
		m.authURL = m.oauth.AuthCodeURL("")
		m.step = stepCode
		m.message = ""
		m.code.Focus()
		return m, textinput.Blink

	case tokenMsg:
		m.cfg.Account.AccessToken = msg.token
		if err := config.SaveConfig(m.cfg, m.configPath); err != nil {
			m.step = stepCode
			m.message = err.Error()
			return m, nil
		}
		m.step = stepDone
		m.Saved = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case wizardErrMsg:
		m.message = msg.err.Error()
		if m.step == stepRegistering {
			m.step = stepSite
		} else {
			m.step = stepCode
		}
		return m, nil
	}

	var cmd tea.Cmd
	switch m.step {
	case stepSite:
		m.inputs[m.cursor], cmd = m.inputs[m.cursor].Update(msg)
	case stepCode:
		m.code, cmd = m.code.Update(msg)
	}
	return m, cmd
}

func (m *ConfigWizardModel) submit() (tea.Model, tea.Cmd) {
	switch m.step {
	case stepSite:
		if m.cursor < len(m.inputs)-1 {
			m.focus(m.cursor + 1)
			return m, nil
		}

		site := strings.TrimRight(strings.TrimSpace(m.inputs[wizardSite].Value()), "/")
		if site == "" {
			site = config.DefaultSite
		}
		saveLocation := strings.TrimSpace(m.inputs[wizardSaveLocation].Value())
		if saveLocation == "" {
			saveLocation = "."
		}
		m.cfg.Account.Site = site
		m.cfg.Options.SaveLocation = filepath.Clean(saveLocation)
		if err := config.ValidateConfig(m.cfg, m.configPath); err != nil {
			m.message = err.Error()
			return m, nil
		}

		m.step = stepRegistering
		m.message = "Registering app on " + site + "..."
		return m, m.registerCmd(site)

	case stepCode:
		code := m.code.Value()
		if strings.TrimSpace(code) == "" {
			m.message = "Paste the code shown after authorizing."
			return m, nil
		}
		m.step = stepExchanging
		m.message = "Logging in..."
		return m, m.exchangeCmd(code)
	}
	return m, nil
}

func (m *ConfigWizardModel) registerCmd(site string) tea.Cmd {
	return func() tea.Msg {
		app, err := m.register(m.ctx, site)
		if err != nil {
			return wizardErrMsg{err}
		}
		return appRegisteredMsg{app}
	}
}

func (m *ConfigWizardModel) exchangeCmd(code string) tea.Cmd {
	conf := m.oauth
	return func() tea.Msg {
		if conf == nil {
			return wizardErrMsg{errors.New("app is not registered")}
		}
		token, err := m.exchange(m.ctx, conf, code)
		if err != nil {
			return wizardErrMsg{err}
		}
		return tokenMsg{token}
	}
}

func (m *ConfigWizardModel) focus(i int) {
	m.cursor = i
	for j := range m.inputs {
		if j == i {
			m.inputs[j].Focus()
		} else {
			m.inputs[j].Blur()
		}
	}
}

func (m *ConfigWizardModel) busy() bool {
	return m.step == stepRegistering || m.step == stepExchanging
}

func (m *ConfigWizardModel) View() string {
	var sb strings.Builder
	sb.WriteString(Title("toot-scraper setup") + "\n\n")

	switch m.step {
	case stepSite, stepRegistering:
		sb.WriteString("Log in with the bot account that follows the accounts to download.\n")
		sb.WriteString(Muted("Windows: use forward slashes (C:/path/to/dir) for the save location.") + "\n\n")
		sb.WriteString(m.inputs[wizardSite].View() + "\n")
		sb.WriteString(m.inputs[wizardSaveLocation].View() + "\n\n")
	case stepCode, stepExchanging:
		sb.WriteString("Open this page, authorize the app and paste the code below:\n\n")
		sb.WriteString(AccountName(m.authURL) + "\n\n")
		sb.WriteString(m.code.View() + "\n\n")
	case stepDone:
		sb.WriteString(Success("Logged in. Settings saved to "+m.configPath) + "\n")
		return sb.String()
	}

	switch {
	case m.busy() && m.message != "":
		sb.WriteString(RenderLoading(m.spinner, m.message) + "\n")
	case m.message != "":
		sb.WriteString(m.message + "\n")
	}
	sb.WriteString(Muted("Press Enter to continue, Tab to switch, Esc to quit. Other settings live in config.toml.") + "\n")
	return sb.String()
}

// RunConfigWizard runs the setup wizard in the terminal and returns the
// saved configuration.
func RunConfigWizard(ctx context.Context, configPath string, cfg *config.Config) (*config.Config, error) {
	m := NewConfigWizardModel(ctx, configPath, cfg)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		return nil, err
	}
	if !m.Saved {
		return nil, errors.New("setup cancelled")
	}
	return m.Config(), nil
}
