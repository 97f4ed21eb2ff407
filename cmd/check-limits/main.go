// check-limits prints the remaining API quota of the configured GitHub
// tokens, one row per token.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/strudelkit/stscraper/pkg/github"
	"github.com/strudelkit/stscraper/pkg/logging"
	"github.com/strudelkit/stscraper/pkg/ratelimit"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		tokens  string
		timeout time.Duration
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "check-limits",
		Short: "Check remaining quota of registered GitHub API tokens",
		Long: "check-limits queries /rate_limit with every configured GitHub token\n" +
			"and prints per-token usage: authenticated user, limit, remaining\n" +
			"requests and time until the quota window renews.\n\n" +
			"Tokens come from --tokens, the stscraper settings file,\n" +
			"GITHUB_API_TOKENS, GITHUB_TOKEN or the hub CLI config.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if verbose {
				level = logging.LevelDebug
			}
			logging.Setup(logging.Config{Level: level, Pretty: true})

			var explicit []string
			if tokens != "" {
				explicit = strings.Split(tokens, ",")
			}
			api, err := github.New(github.Config{Tokens: explicit, Timeout: timeout})
			if err != nil {
				return err
			}
			return printLimits(cmd.Context(), cmd.OutOrStdout(), api)
		},
	}

	cmd.Flags().StringVar(&tokens, "tokens", "", "comma-separated GitHub tokens (default: settings chain)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	return cmd
}

func printLimits(ctx context.Context, out io.Writer, api *github.API) error {
	report, err := api.Limits(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "user\tcore_limit\tcore_remaining\tcore_renews_in\tsearch_limit\tsearch_remaining\tsearch_renews_in\tkey")
	for _, tl := range report {
		core := tl.Classes[ratelimit.ClassCore]
		search := tl.Classes[ratelimit.ClassSearch]
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%d\t%d\t%s\t%s\n",
			tl.User,
			core.Limit, core.Remaining, renewsIn(core.ResetAt),
			search.Limit, search.Remaining, renewsIn(search.ResetAt),
			tl.Token,
		)
	}
	return w.Flush()
}

// renewsIn formats the time until a quota reset as "MmSSs".
func renewsIn(resetAt time.Time) string {
	if resetAt.IsZero() {
		return "never"
	}
	d := time.Until(resetAt)
	if d < 0 {
		return "0m0s"
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
