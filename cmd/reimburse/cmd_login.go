package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/entrhq/reimburse/pkg/service"
)

// loginPollInterval paces live status checks while waiting for a login.
var loginPollInterval = 2 * time.Second

var (
	loginEmail  string
	loginChat   string
	loginWait   time.Duration
	sessionFlag string
	statusLive  bool
	copyURL     bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open the portal and wait for the user to log in",
	Long: `Opens a browser on the portal for --email. If the user is not logged in
yet, the window stays open and the command waits up to --wait for the login
to complete.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the login status of a session",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Close a session's browser and forget the session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var initLoginCmd = &cobra.Command{
	Use:   "init-login",
	Short: "Create a session and a one-time login link for a chat user",
	Args:  cobra.NoArgs,
	RunE:  runInitLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Portal account email")
	loginCmd.Flags().StringVar(&loginChat, "chat", "", "Chat id the session belongs to")
	loginCmd.Flags().DurationVar(&loginWait, "wait", 5*time.Minute, "How long to wait for a manual login (0 to return at once)")
	_ = loginCmd.MarkFlagRequired("email")

	statusCmd.Flags().StringVar(&sessionFlag, "session", "", "Session id")
	statusCmd.Flags().BoolVar(&statusLive, "live", false, "Check the open browser instead of the stored state")
	_ = statusCmd.MarkFlagRequired("session")

	logoutCmd.Flags().StringVar(&sessionFlag, "session", "", "Session id")
	_ = logoutCmd.MarkFlagRequired("session")

	initLoginCmd.Flags().StringVar(&loginEmail, "email", "", "Portal account email")
	initLoginCmd.Flags().StringVar(&loginChat, "chat", "", "Chat id the session belongs to")
	initLoginCmd.Flags().BoolVar(&copyURL, "copy", false, "Copy the login link to the clipboard")
	_ = initLoginCmd.MarkFlagRequired("email")
	_ = initLoginCmd.MarkFlagRequired("chat")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appOptions{component: "login"})
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := ensureLoggedIn(cmd.Context(), a.service, cmd.OutOrStdout(), loginEmail, loginChat, loginWait)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session: %s\n", id)
	return nil
}

// loginBackend is the part of the service the login wait needs.
type loginBackend interface {
	Login(ctx context.Context, email, chatID string) (*service.LoginResult, error)
	LoginStatus(ctx context.Context, sessionID string) (*service.Status, error)
}

// ensureLoggedIn logs email in, waiting up to wait for a manual login when
// the portal asks for one. It returns the session id.
func ensureLoggedIn(ctx context.Context, b loginBackend, out io.Writer, email, chatID string, wait time.Duration) (string, error) {
	res, err := b.Login(ctx, email, chatID)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(out, res.Message)
	if res.LoggedIn {
		return res.SessionID, nil
	}
	if wait <= 0 {
		return "", fmt.Errorf("session %s is not logged in", res.SessionID)
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(loginPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return "", fmt.Errorf("gave up waiting for login of session %s: %w", res.SessionID, waitCtx.Err())
		case <-ticker.C:
		}
		st, err := b.LoginStatus(waitCtx, res.SessionID)
		if err != nil {
			return "", err
		}
		if st.LoggedIn {
			fmt.Fprintln(out, st.Message)
			return res.SessionID, nil
		}
		if !st.BrowserOpen && !st.Busy {
			return "", errors.New(st.Message)
		}
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appOptions{component: "status"})
	if err != nil {
		return err
	}
	defer a.Close()

	var st *service.Status
	if statusLive {
		st, err = a.service.LoginStatus(cmd.Context(), sessionFlag)
	} else {
		st, err = a.service.StoredStatus(cmd.Context(), sessionFlag, "")
	}
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), st)
	return nil
}

func printStatus(w io.Writer, st *service.Status) {
	fmt.Fprintf(w, "Session:   %s\n", st.SessionID)
	if st.Email != "" {
		fmt.Fprintf(w, "Email:     %s\n", st.Email)
	}
	fmt.Fprintf(w, "Logged in: %t\n", st.LoggedIn)
	fmt.Fprintf(w, "Status:    %s\n", st.LoginStatus)
	fmt.Fprintf(w, "Cookies:   %d\n", st.CookiesCount)
	if st.Message != "" {
		fmt.Fprintln(w, st.Message)
	}
}

func runLogout(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appOptions{component: "logout"})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.service.Logout(cmd.Context(), sessionFlag); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out successfully")
	return nil
}

func runInitLogin(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appOptions{component: "init-login"})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.service.InitLogin(cmd.Context(), loginChat, loginEmail)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session: %s\n", res.SessionID)
	fmt.Fprintf(out, "Login link: %s\n", res.LoginURL)
	if copyURL {
		if err := clipboard.WriteAll(res.LoginURL); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "could not copy to clipboard: %v\n", err)
		} else {
			fmt.Fprintln(out, "Copied login link to clipboard")
		}
	}
	return nil
}
