package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/althaafka/pdfhub-api/internal/audit"
	auditdomain "github.com/althaafka/pdfhub-api/internal/audit/domain"
	"github.com/althaafka/pdfhub-api/internal/bootstrap"
	authservice "github.com/althaafka/pdfhub-api/internal/identity/service"
	sessiondomain "github.com/althaafka/pdfhub-api/internal/session/domain"
	"github.com/althaafka/pdfhub-api/internal/telemetry"
)

// errUsage marks bad invocations; main exits 2 for these.
var errUsage = errors.New("usage")

type command struct {
	summary string
	run     func(ctx context.Context, app *bootstrap.App, fs *flag.FlagSet, args []string, out io.Writer) error
}

var commands = map[string]command{
	"register":     {"create an account (-email -username -password)", runRegister},
	"login":        {"issue a token pair (-identifier -password [-ip -user-agent])", runLogin},
	"refresh":      {"rotate a refresh token (-token)", runRefresh},
	"logout":       {"revoke a refresh token (-owner -token)", runLogout},
	"verify":       {"validate an access token and print its claims (-token)", runVerify},
	"sessions":     {"list an owner's sessions, newest first (-owner)", runSessions},
	"chain":        {"print the rotation chain starting at a refresh token (-token)", runChain},
	"revoke-chain": {"revoke every active session in a rotation chain (-token)", runRevokeChain},
	"audit":        {"list an owner's audit log (-owner [-limit])", runAudit},
}

// dispatch runs the subcommand named by args[0].
func dispatch(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return cmd.run(ctx, app, fs, args[1:], out)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: authctl <command> [flags]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-13s %s\n", name, commands[name].summary)
	}
}

func parse(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	for _, name := range required {
		if f := fs.Lookup(name); f == nil || f.Value.String() == "" {
			return fmt.Errorf("%w: %s: -%s is required", errUsage, fs.Name(), name)
		}
	}
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type tokensView struct {
	AccessToken            string    `json:"access_token"`
	RefreshToken           string    `json:"refresh_token"`
	AccessTokenExpiration  time.Time `json:"access_token_expiration"`
	RefreshTokenExpiration time.Time `json:"refresh_token_expiration"`
	TokenType              string    `json:"token_type"`
}

func viewTokens(t *authservice.Tokens) tokensView {
	return tokensView{
		AccessToken:            t.AccessToken,
		RefreshToken:           t.RefreshToken,
		AccessTokenExpiration:  t.AccessTokenExpiration,
		RefreshTokenExpiration: t.RefreshTokenExpiration,
		TokenType:              t.TokenType,
	}
}

// sessionView omits the token hash.
type sessionView struct {
	ID               int64      `json:"id"`
	OwnerID          string     `json:"owner_id"`
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	Active           bool       `json:"active"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	ReplacedBy       *int64     `json:"replaced_by,omitempty"`
	IP               string     `json:"ip,omitempty"`
	UserAgent        string     `json:"user_agent,omitempty"`
}

func viewSessions(list []*sessiondomain.RefreshSession) []sessionView {
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			ID:               s.ID,
			OwnerID:          s.OwnerID,
			IssuedAt:         s.IssuedAt,
			ExpiresAt:        s.ExpiresAt,
			Active:           s.Active,
			RevokedAt:        s.RevokedAt,
			RevocationReason: s.RevocationReason,
			ReplacedBy:       s.ReplacedBy,
			IP:               s.Origin.IP,
			UserAgent:        s.Origin.UserAgent,
		})
	}
	return out
}

func runRegister(ctx context.Context, app *bootstrap.App, fs *flag.FlagSet, args []string, out io.Writer) error {
	email := fs.String("email", "", "account email")
	username := fs.String("username", "", "account username")
	password := fs.String("password", "", "account password")
	if err := parse(fs, args); err != nil {
		return err
	}
	res, err := app.Auth.Register(ctx, *email, *username, *password)
	if err != nil {
		return err
	}
	return printJSON(out, map[string]string{"user_id": res.UserID, "email": res.Email, "username": res.Username})
}

func originFlags(fs *flag.FlagSet) (ip, ua *string) {
	return fs.String("ip", "", "client IP recorded on the session"),
		fs.String("user-agent", "authctl", "client user agent recorded on the session")
}

func runLogin(ctx context.Context, app *bootstrap.App, fs *flag.FlagSet, args []string, out io.Writer) error {
	identifier := fs.String("identifier", "", "email or username")
	password := fs.String("password", "", "account password")
	ip, ua := originFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	tokens, err := app.Auth.Login(ctx, *identifier, *password, sessiondomain.Origin{IP: *ip, UserAgent: *ua})
	if err != nil {
		return err
	}
	return printJSON(out, viewTokens(tokens))
}

func runRefresh(ctx context.Context, app *bootstrap.App, fs *flag.FlagSet, args []string, out io.Writer) error {
	token := fs.String("token", "", "refresh token")
	ip, ua := originFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	tokens, err := app.Auth.Refresh(ctx, *token, sessiondomain.Origin{IP: *ip, UserAgent: *ua})
	if err != nil {
		return err
	}
	return printJSON(out, viewTokens(tokens))
}

func runLogout(ctx context.Context, app *bootstrap.App, fs *flag.FlagSet, args []string, out io.Writer) error {
	owner := fs.String("owner", "", "owner (user) id")
	token := fs.String("token", "", "refresh token")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := app.Auth.Logout(ctx, *owner, *token); err != nil {
		return err
	}
	fmt.Fprintln(out, "logged out")
	return nil
}

func runVerify(_ context.Context, app *bootstrap.App, fs *flag.FlagSet, args []string, out io.Writer) error {
	token := fs.String("token", "", "access token")
	if err := parse(fs, args, "token"); err != nil {
		return err
	}
	claims, err := app.Signer.ValidateAccessToken(*token)
	if err != nil {
		return err
	}
	return printJSON(out, map[string]any{
		"sub":   claims.OwnerID(),
		"email": claims.Email,
		"name":  claims.Name,
		"iss":   claims.Issuer,
		"aud":   claims.Audience,
		"exp":   claims.ExpiresAt.Time,
		"alg":   app.Signer.Alg(),
	})
}

func runSessions(ctx context.Context, app *bootstrap.App, fs *flag.FlagSet, args []string, out io.Writer) error {
	owner := fs.String("owner", "", "owner (user) id")
	if err := parse(fs, args, "owner"); err != nil {
		return err
	}
	list, err := app.Sessions.ListSessions(ctx, *owner)
	if err != nil {
		return err
	}
	return printJSON(out, viewSessions(list))
}

func runChain(ctx context.Context, app *bootstrap.App, fs *flag.FlagSet, args []string, out io.Writer) error {
	token := fs.String("token", "", "any refresh token of the chain")
	if err := parse(fs, args, "token"); err != nil {
		return err
	}
	chain, err := app.Sessions.Chain(ctx, *token)
	if err != nil {
		return err
	}
	return printJSON(out, viewSessions(chain))
}

func runRevokeChain(ctx context.Context, app *bootstrap.App, fs *flag.FlagSet, args []string, out io.Writer) error {
	token := fs.String("token", "", "any refresh token of the compromised chain")
	if err := parse(fs, args, "token"); err != nil {
		return err
	}
	chain, err := app.Sessions.Chain(ctx, *token)
	if err != nil {
		return err
	}
	n, err := app.Sessions.RevokeChain(ctx, *token)
	if err != nil {
		return err
	}

	ownerID := chain[0].OwnerID
	meta := fmt.Sprintf("revoked=%d first_session_id=%d", n, chain[0].ID)
	audit.NewLogger(app.AuditLogs).LogEvent(ctx, ownerID, auditdomain.ActionChainRevoked, audit.ResourceSession, "", meta)
	ev := telemetry.NewEvent(telemetry.EventChainRevoked, ownerID).With("revoked", fmt.Sprint(n))
	// Synchronous: the process exits right after.
	if err := app.Events.Emit(ctx, ev); err != nil {
		fmt.Fprintf(out, "warning: event emit failed: %v\n", err)
	}

	return printJSON(out, map[string]int{"revoked": n})
}

func runAudit(ctx context.Context, app *bootstrap.App, fs *flag.FlagSet, args []string, out io.Writer) error {
	owner := fs.String("owner", "", "owner (user) id")
	limit := fs.Int("limit", 20, "max entries")
	if err := parse(fs, args, "owner"); err != nil {
		return err
	}
	logs, err := app.AuditLogs.ListByUser(ctx, *owner, *limit)
	if err != nil {
		return err
	}
	return printJSON(out, logs)
}
