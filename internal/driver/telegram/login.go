package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

var errNoLoginCode = errors.New("no login code available")

func newSessionStorage(path string) (*session.FileStorage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session file %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(absolute), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &session.FileStorage{Path: absolute}, nil
}

// loginSession runs the gotd client and signs in before handing over the
// live context.
type loginSession struct {
	client *gotdtelegram.Client
	login  *login
}

var _ GotdUserbotClient = loginSession{}

func (s loginSession) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("run telegram session: nil callback")
	}

	return s.client.Run(ctx, func(runCtx context.Context) error {
		if err := s.login.ensure(runCtx, s.client.Auth()); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}

		return fn(runCtx)
	})
}

// login answers gotd's user sign-in flow from configuration, prompting on
// the terminal for a code that was not configured.
type login struct {
	phone       string
	password    string
	code        string
	session     string
	prompt      io.Reader
	echo        io.Writer
	logger      *slog.Logger
	interactive func() bool
	deadline    func(context.Context) (context.Context, context.CancelFunc)
}

var _ auth.UserAuthenticator = (*login)(nil)

func newLogin(cfg runtimeConfig, logger *slog.Logger) *login {
	return &login{
		phone:       cfg.Phone,
		password:    cfg.Password,
		code:        cfg.Code,
		session:     cfg.SessionFile,
		prompt:      os.Stdin,
		echo:        os.Stdout,
		logger:      logger,
		interactive: stdinIsTerminal,
		deadline: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return context.WithTimeout(ctx, cfg.AuthTimeout)
		},
	}
}

// authClient is the part of gotd's auth.Client the sign-in needs.
type authClient interface {
	Status(ctx context.Context) (*auth.Status, error)
	IfNecessary(ctx context.Context, flow auth.Flow) error
}

func (l *login) ensure(ctx context.Context, client authClient) error {
	authCtx, cancel := l.deadline(ctx)
	defer cancel()

	status, err := client.Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		l.logger.InfoContext(ctx, "telegram session restored", "session_file", l.session)
		return nil
	}
	if l.phone == "" {
		return fmt.Errorf("phone is required to sign in; set drivers.<name>.config.phone")
	}

	if err := client.IfNecessary(authCtx, auth.NewFlow(l, auth.SendCodeOptions{})); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "telegram account signed in", "session_file", l.session)

	return nil
}

func (l *login) Phone(context.Context) (string, error) {
	return l.phone, nil
}

func (l *login) Password(context.Context) (string, error) {
	if l.password == "" {
		return "", auth.ErrPasswordNotProvided
	}

	return l.password, nil
}

func (l *login) Code(context.Context, *tg.AuthSentCode) (string, error) {
	if l.code != "" {
		return l.code, nil
	}
	if !l.interactive() {
		return "", fmt.Errorf("%w: code is unset and stdin is not a terminal", errNoLoginCode)
	}

	fmt.Fprint(l.echo, "Enter Telegram login code: ")
	line, err := bufio.NewReader(l.prompt).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read login code: %w", err)
	}
	if code := strings.TrimSpace(line); code != "" {
		return code, nil
	}

	return "", fmt.Errorf("%w: empty input", errNoLoginCode)
}

func (l *login) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

func (l *login) SignUp(context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, fmt.Errorf("sign up is not supported; register the account first")
}

func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
