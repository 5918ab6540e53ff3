package auth

// Auth handles app registration, login and the bot account's following list.
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agnosto/toot-scraper/config"
	"github.com/agnosto/toot-scraper/headers"
	"github.com/agnosto/toot-scraper/logger"
	"github.com/agnosto/toot-scraper/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	AppName    = "toot-scraper"
	AppWebsite = "https://github.com/agnosto/toot-scraper"

	// Out-of-band redirect: the instance shows the code for the user to paste.
	RedirectURI = "urn:ietf:wg:oauth:2.0:oob"

	followingPageSize = 80
)

var Scopes = []string{"read:statuses", "read:accounts", "read:follows"}

// ErrUnauthorized is returned when the instance rejects the access token.
var ErrUnauthorized = errors.New("access token is invalid")

// App is a client registered on the instance through POST /api/v1/apps.
type App struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Account on the instance, as returned by verify_credentials and following.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
}

// RegisterApp creates an OAuth client for this tool on site.
func RegisterApp(ctx context.Context, httpClient *http.Client, site string) (*App, error) {
	form := url.Values{}
	form.Set("client_name", AppName)
	form.Set("redirect_uris", RedirectURI)
	form.Set("scopes", strings.Join(Scopes, " "))
	form.Set("website", AppWebsite)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, utils.JoinURL(site, "/api/v1/apps"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error creating app registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error registering app: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("app registration failed with status code %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}

	var app App
	if err := json.NewDecoder(resp.Body).Decode(&app); err != nil {
		return nil, fmt.Errorf("error decoding app registration: %w", err)
	}
	if app.ClientID == "" || app.ClientSecret == "" {
		return nil, errors.New("app registration returned no client credentials")
	}

	logger.Logger.WithField("site", site).Info("Registered OAuth app")
	return &app, nil
}

// OAuthConfig describes the instance's authorization code flow for app.
func OAuthConfig(site string, app *App) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		RedirectURL:  RedirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   utils.JoinURL(site, "/oauth/authorize"),
			TokenURL:  utils.JoinURL(site, "/oauth/token"),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// ExchangeCode trades the code the user pasted for an access token.
func ExchangeCode(ctx context.Context, httpClient *http.Client, conf *oauth2.Config, code string) (string, error) {
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", errors.New("authorization code is empty")
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("error exchanging authorization code: %w", err)
	}
	return tok.AccessToken, nil
}

// NewHTTPClient returns a client that sends the configured access token and
// gives up on a request after the page timeout.
func NewHTTPClient(ctx context.Context, cfg *config.Config) *http.Client {
	base := headers.NewClient(cfg.PageTimeout())
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.Account.AccessToken,
		TokenType:   "Bearer",
	})
	client := oauth2.NewClient(ctx, src)
	client.Timeout = cfg.PageTimeout()
	return client
}

// VerifyCredentials returns the account the token belongs to.
func VerifyCredentials(ctx context.Context, httpClient *http.Client, site string) (*Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, utils.JoinURL(site, "/api/v1/accounts/verify_credentials"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error verifying credentials: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("verify credentials failed with status code %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}

	var account Account
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return nil, fmt.Errorf("error decoding account: %w", err)
	}
	return &account, nil
}

// GetFollowing lists every account accountID follows, walking the Link
// header pagination. Requests are spaced by interval.
func GetFollowing(ctx context.Context, httpClient *http.Client, site, accountID string, interval time.Duration) ([]Account, error) {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	next := utils.JoinURL(site, "/api/v1/accounts/"+url.PathEscape(accountID)+"/following") +
		"?limit=" + strconv.Itoa(followingPageSize)

	var following []Account
	for page := 1; next != ""; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch, link, err := fetchFollowingPage(ctx, httpClient, next)
		if err != nil {
			return nil, err
		}
		logger.Logger.WithFields(logrus.Fields{"page": page, "count": len(batch)}).Debug("Fetched following page")

		if len(batch) == 0 {
			break
		}
		following = append(following, batch...)
		next = utils.NextLink(link)
		if next != "" {
			logger.Logger.WithField("max_id", utils.GetQSValue(next, "max_id")).Debug("Following continues")
		}
	}

	logger.Logger.Infof("Found %d followed accounts", len(following))
	return following, nil
}

func fetchFollowingPage(ctx context.Context, httpClient *http.Client, pageURL string) ([]Account, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("error fetching following list: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, "", ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("failed to fetch following list with status code %d", resp.StatusCode)
	}

	var batch []Account
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, "", fmt.Errorf("error decoding following list: %w", err)
	}
	return batch, resp.Header.Get("Link"), nil
}

func readSnippet(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(body))
}
