package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"script-desk/internal/auth"
	"script-desk/internal/domain"
	"script-desk/internal/editsession"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	var user, name, secret string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("no secret: pass --secret or set JWT_SECRET")
			}
			if user == "" {
				return errors.New("--user is required")
			}
			token, err := auth.GenerateJWT([]byte(secret), user, name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User id (token subject)")
	cmd.Flags().StringVar(&name, "name", "", "Display name shown to other editors")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret (JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current draft and who is editing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := ctx.scope()
			if err != nil {
				return err
			}
			draft, err := ctx.client().GetCurrent(cmd.Context(), scope)
			if err != nil {
				return err
			}
			printDraft(cmd.OutOrStdout(), draft)
			return nil
		},
	}
}

func printDraft(out io.Writer, draft *domain.Draft) {
	fmt.Fprintf(out, "Script: %s\n", draft.Scope)
	fmt.Fprintf(out, "Words:  %d\n", draft.WordCount)
	if draft.EditedAt != nil {
		fmt.Fprintf(out, "Edited: %s by %s\n", draft.EditedAt.Local().Format("2006-01-02 15:04"), draft.EditedBy)
	}
	if draft.Lease != nil {
		fmt.Fprintf(out, "Locked: %s until %s\n", holderLabel(draft.Lease.HolderName, draft.Lease.Holder), draft.Lease.ExpiresAt.Local().Format("15:04"))
	} else {
		fmt.Fprintln(out, "Locked: no")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, draft.Content)
}

func holderLabel(name, id string) string {
	if name == "" {
		return id
	}
	return fmt.Sprintf("%s (%s)", name, id)
}

func newVersionsCommand(ctx *commandContext) *cobra.Command {
	var ordinal int

	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List committed versions, or print one with --ordinal",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := ctx.scope()
			if err != nil {
				return err
			}
			versions, err := ctx.client().ListVersions(cmd.Context(), scope)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if ordinal > 0 {
				for _, v := range versions {
					if v.Ordinal == ordinal {
						fmt.Fprintln(out, v.Content)
						return nil
					}
				}
				return fmt.Errorf("%s has no version %d", scope, ordinal)
			}
			printVersions(out, versions)
			return nil
		},
	}

	cmd.Flags().IntVar(&ordinal, "ordinal", 0, "Print the content of this version")
	return cmd
}

func printVersions(out io.Writer, versions []domain.Version) {
	if len(versions) == 0 {
		fmt.Fprintln(out, "No versions")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tWORDS\tBY\tAT")
	for _, v := range versions {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", v.Ordinal, v.WordCount, v.EditedBy, v.EditedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func newCommitCommand(ctx *commandContext) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Save a file as the draft and commit it as a new version",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return runSession(cmd.Context(), ctx, func(s *editsession.Session) error {
				if err := s.SetContent(string(content)); err != nil {
					return err
				}
				v, err := s.Commit(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Committed version %d (%d words)\n", v.Ordinal, v.WordCount)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File with the script content")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newEditCommand(ctx *commandContext) *cobra.Command {
	var file string
	var poll time.Duration

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Hold the lease and autosave a local file until interrupted",
		Long: "Takes the script lease and keeps the draft in sync with a local file.\n" +
			"The file is seeded with the current draft when it does not exist.\n" +
			"Press Ctrl-C to save, release the lease and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()

			return runSession(sigCtx, ctx, func(s *editsession.Session) error {
				if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
					if err := os.WriteFile(file, []byte(s.Content()), 0o644); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "Editing %s via %s, Ctrl-C to finish\n", s.Scope(), file)
				return watchFile(sigCtx, s, file, poll, out)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Local file to edit")
	cmd.Flags().DurationVar(&poll, "poll", time.Second, "How often to check the file for changes")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// watchFile copies file changes into the session until ctx ends or the
// session stops editing.
func watchFile(ctx context.Context, s *editsession.Session, file string, poll time.Duration, out io.Writer) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastErr error
	for {
		content, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if err := s.SetContent(string(content)); err != nil {
			if errors.Is(err, editsession.ErrReadOnly) {
				return fmt.Errorf("lost the lease to %s", lockedLabel(s.Holder()))
			}
			return err
		}

		if saveErr := s.SaveError(); saveErr != nil && saveErr != lastErr {
			fmt.Fprintf(out, "Autosave failed, will retry: %v\n", saveErr)
		}
		lastErr = s.SaveError()

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runSession(ctx context.Context, c *commandContext, fn func(*editsession.Session) error) error {
	scope, err := c.scope()
	if err != nil {
		return err
	}
	user, err := c.user()
	if err != nil {
		return err
	}
	opts, err := c.sessionOptions()
	if err != nil {
		return err
	}

	return editsession.Edit(ctx, c.client(), scope, user, opts, func(s *editsession.Session) error {
		if h := s.Holder(); c.reclaim && h != nil && h.HeldBySelf {
			if err := s.Reclaim(ctx); err != nil {
				return err
			}
		}
		if s.State() != editsession.Editing {
			h := s.Holder()
			if h != nil && h.HeldBySelf {
				return errors.New("script is open in another of your sessions, close it or pass --reclaim")
			}
			return fmt.Errorf("script is locked by %s", lockedLabel(h))
		}
		return fn(s)
	})
}

func lockedLabel(h *domain.LockedError) string {
	if h == nil || h.Holder == "" {
		return "someone else (lease unavailable)"
	}
	label := holderLabel(h.HolderName, h.Holder)
	if !h.ExpiresAt.IsZero() {
		label += " until " + h.ExpiresAt.Local().Format("15:04")
	}
	return strings.TrimSpace(label)
}
