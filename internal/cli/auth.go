package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/session"
	"github.com/aksanoble/hasu/internal/supakey"
	"github.com/aksanoble/hasu/migrations"
	"github.com/aksanoble/hasu/server"
)

// how long login waits for the browser redirect
const loginTimeout = 10 * time.Minute

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication",
	Long:  `Sign in through Supakey, sign out, or show the current session.`,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through Supakey",
	Long: `Sign in through Supakey.

Opens a local callback listener, prints the authorize URL and waits for the
browser to come back. On first sign-in the schema is deployed to your
database and an Inbox plus a sample project are created.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the signed-in user",
	RunE:  runStatus,
}

var loginCode string

func init() {
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(statusCmd)

	loginCmd.Flags().StringVar(&loginCode, "code", "", "Complete sign-in with an authorization code from a previous 'auth login'")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	plan, err := supakey.LoadPlan(migrations.FS)
	if err != nil {
		return err
	}

	st, _, err := openSession()
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		return err
	}

	srv := server.New()
	redirect := "http://" + cfg.CallbackAddr + server.CallbackPath
	if loginCode == "" {
		if _, err := srv.Listen(cfg.CallbackAddr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.CallbackAddr, err)
		}
		defer srv.Shutdown(context.Background())
		redirect = srv.RedirectURI()
	}

	broker := supakey.NewClient(cfg.Supakey.URL, cfg.Supakey.AnonKey, cfg.RequestTimeout)
	flow := supakey.NewFlow(broker, st, plan, supakey.FlowConfig{
		FrontendURL:       cfg.Supakey.FrontendURL,
		ClientID:          cfg.Supakey.ClientID,
		RedirectURI:       redirect,
		AppIdentifier:     cfg.AppIdentifier,
		MigrationsBaseURL: cfg.MigrationsBaseURL,
		RetryDelay:        cfg.RetryDelay,
		MaxRetries:        cfg.MaxRetries,
	})
	flow.Observe(func(s supakey.State, msg string) {
		if s != supakey.StateFailed && msg != "" {
			fmt.Printf("  %s\n", msg)
		}
	})

	reloaded := false
	flow.OnReload = func() { reloaded = true }

	ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
	defer cancel()

	if loginCode != "" {
		err = flow.Complete(ctx, loginCode)
	} else {
		err = waitAndComplete(ctx, flow, srv)
	}
	if err != nil {
		return err
	}

	fmt.Println("✅ Signed in")
	if reloaded {
		bootstrap(cmd.Context())
	}
	return nil
}

func waitAndComplete(ctx context.Context, flow *supakey.Flow, srv *server.Server) error {
	url, err := flow.Begin()
	if err != nil {
		return err
	}
	fmt.Println("🔑 Open this URL to sign in:")
	fmt.Println()
	fmt.Println("  " + url)
	fmt.Println()

	cb, err := srv.Wait(ctx)
	if err != nil {
		return fmt.Errorf("no sign-in received: %w", err)
	}
	if cb.Error != "" {
		return fmt.Errorf("sign-in failed: %s", cb.Error)
	}
	if cb.HasTokens() {
		return flow.CompleteWithTokens(ctx, cb.AccessToken, cb.RefreshToken)
	}
	return flow.Complete(ctx, cb.Code)
}

// bootstrap provisions first-run data and the widget from the new session.
func bootstrap(ctx context.Context) {
	a, err := connect(ctx)
	if err != nil {
		logger.Warn("Post sign-in setup skipped", logger.F("error", err))
		return
	}
	defer a.close()

	a.backend.EnsureSampleData(ctx, a.sess.UserID)
	a.publishWidget(ctx)
}

func runLogout(cmd *cobra.Command, args []string) error {
	st := session.Open(cfg.SessionFile, cfg.SessionPassword)
	if err := st.Remove(session.KeyTokens, session.KeyDatabase, session.KeyVerifier); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	mirror, prefs, err := openWidget()
	if err == nil {
		defer prefs.Close()
		if err := mirror.Clear(); err != nil {
			logger.Warn("Failed to clear widget", logger.F("error", err))
		}
	}

	fmt.Println("✅ Signed out")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, sess, err := openSession()
	if errors.Is(err, session.ErrNoSession) {
		fmt.Println("Not signed in.")
		return nil
	}
	if err != nil {
		return err
	}

	who := sess.Email
	if who == "" {
		who = sess.Username
	}
	if who == "" {
		who = sess.UserID
	}
	fmt.Printf("👤 Signed in as %s\n", who)
	fmt.Printf("   Database: %s\n", sess.Database.SupabaseURL)
	fmt.Printf("   Schema:   %s\n", schemaName())
	return nil
}
