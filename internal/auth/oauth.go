package auth

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/types"
	"golang.org/x/oauth2"
)

// loginTimeout bounds how long the loopback server waits for the browser
const loginTimeout = 5 * time.Minute

// OAuthFlow handles the OAuth2 authorization code flow with PKCE
type OAuthFlow struct {
	config       *oauth2.Config
	listener     net.Listener
	redirectURL  string
	state        string
	codeVerifier string
	codeChan     chan string
	errChan      chan error
}

// NewOAuthFlow creates a new OAuth flow handler
func NewOAuthFlow(config *oauth2.Config, listener net.Listener, redirectURL string) (*OAuthFlow, error) {
	if config == nil {
		return nil, fmt.Errorf("OAuth config not set")
	}

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	cfg := *config
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL not set")
	}

	return &OAuthFlow{
		config:       &cfg,
		listener:     listener,
		redirectURL:  cfg.RedirectURL,
		state:        state,
		codeVerifier: verifier,
		codeChan:     make(chan string, 1),
		errChan:      make(chan error, 1),
	}, nil
}

// AuthURL returns the consent URL, requesting offline access so a refresh
// token is issued
func (f *OAuthFlow) AuthURL() string {
	return f.config.AuthCodeURL(
		f.state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("code_challenge", codeChallengeS256(f.codeVerifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// StartCallbackServer serves the redirect endpoint until ctx is done
func (f *OAuthFlow) StartCallbackServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", f.handleCallback)

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(f.listener); err != http.ErrServerClosed {
			f.sendErr(err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
}

func (f *OAuthFlow) sendErr(err error) {
	select {
	case f.errChan <- err:
	default:
	}
}

func (f *OAuthFlow) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("state") != f.state {
		f.sendErr(fmt.Errorf("invalid state parameter"))
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		f.sendErr(fmt.Errorf("auth error: %s", r.URL.Query().Get("error")))
		http.Error(w, "No code received", http.StatusBadRequest)
		return
	}

	select {
	case f.codeChan <- code:
	default:
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<html><body><h1>drivepdf is authorized</h1><p>You can close this window.</p></body></html>`)
}

// WaitForCode waits for the authorization code
func (f *OAuthFlow) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case code := <-f.codeChan:
		return code, nil
	case err := <-f.errChan:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(timeout):
		return "", fmt.Errorf("authentication timed out")
	}
}

// ExchangeCode exchanges the authorization code for tokens
func (f *OAuthFlow) ExchangeCode(ctx context.Context, code string) (types.Credentials, error) {
	token, err := f.config.Exchange(
		ctx,
		code,
		oauth2.SetAuthURLParam("code_verifier", f.codeVerifier),
	)
	if err != nil {
		return types.Credentials{}, fmt.Errorf("failed to exchange code: %w", err)
	}

	return credentialsFromToken(token, f.config.Scopes), nil
}

// Close releases the loopback listener
func (f *OAuthFlow) Close() {
	if f.listener != nil {
		_ = f.listener.Close()
	}
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func generateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func codeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// extractCode accepts either the bare code or the full redirected URL
func extractCode(input string) string {
	input = strings.TrimSpace(input)
	if i := strings.Index(input, "code="); i >= 0 {
		code := input[i+len("code="):]
		if j := strings.IndexAny(code, "&#"); j >= 0 {
			code = code[:j]
		}
		return code
	}
	return input
}

func promptForAuthCode(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Paste the authorization code (or the whole redirected URL): ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	code := extractCode(line)
	if code == "" {
		return "", fmt.Errorf("no authorization code entered")
	}
	return code, nil
}

// InteractiveOptions controls the browser login
type InteractiveOptions struct {
	NoBrowser   bool
	OpenBrowser func(string) error
	In          io.Reader
	Out         io.Writer
}

// InteractiveLogin runs the loopback flow, or the manual paste flow when no
// browser can be used, and returns the issued credentials
func InteractiveLogin(ctx context.Context, config *oauth2.Config, opts InteractiveOptions) (types.Credentials, error) {
	if config == nil {
		return types.Credentials{}, fmt.Errorf("OAuth config not set")
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stderr
	}

	if !opts.NoBrowser && !isHeadlessEnv() && opts.OpenBrowser != nil {
		flow, err := newLoopbackFlow(config)
		if err == nil {
			defer flow.Close()
			authURL := flow.AuthURL()

			serverCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			flow.StartCallbackServer(serverCtx)

			fmt.Fprintf(opts.Out, "Opening browser for authentication...\n")
			fmt.Fprintf(opts.Out, "If the browser does not open, visit: %s\n", authURL)
			if err := opts.OpenBrowser(authURL); err == nil {
				code, err := flow.WaitForCode(ctx, loginTimeout)
				if err != nil {
					return types.Credentials{}, err
				}
				return flow.ExchangeCode(ctx, code)
			}
			fmt.Fprintf(opts.Out, "Failed to open browser. Switching to manual authentication.\n")
		}
	}

	flow, err := newManualFlow(config)
	if err != nil {
		return types.Credentials{}, err
	}
	fmt.Fprintf(opts.Out, "Open this URL in a browser and approve access:\n%s\n", flow.AuthURL())
	fmt.Fprintf(opts.Out, "The browser is then redirected to a localhost address that may fail to load.\n")
	code, err := promptForAuthCode(opts.In, opts.Out)
	if err != nil {
		return types.Credentials{}, err
	}
	return flow.ExchangeCode(ctx, code)
}

func newLoopbackFlow(config *oauth2.Config) (*OAuthFlow, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start local server: %w", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", addr.Port)
	return NewOAuthFlow(config, listener, redirectURL)
}

func newManualFlow(config *oauth2.Config) (*OAuthFlow, error) {
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", pickManualPort())
	return NewOAuthFlow(config, nil, redirectURL)
}

func pickManualPort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err == nil {
		addr := listener.Addr().(*net.TCPAddr)
		_ = listener.Close()
		return addr.Port
	}
	return 8765
}

func isHeadlessEnv() bool {
	if os.Getenv("DRIVEPDF_NO_BROWSER") != "" {
		return true
	}
	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return true
	}
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		return true
	}
	if os.Getenv("SSH_CONNECTION") != "" || os.Getenv("SSH_TTY") != "" {
		return true
	}
	return false
}

func credentialsFromToken(token *oauth2.Token, scopes []string) types.Credentials {
	return types.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiryDate:   token.Expiry,
		Scopes:       append([]string(nil), scopes...),
		Type:         types.AuthTypeOAuth,
	}
}
