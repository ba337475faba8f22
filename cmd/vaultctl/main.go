package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/AuditVault/internal/canonical"
	"github.com/jmerrifield20/AuditVault/internal/event"
	"github.com/jmerrifield20/AuditVault/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	format    string
	timeout   time.Duration
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "AuditVault CLI",
	Long: `vaultctl submits audit events to an AuditVault server and inspects
anchored records.

Events are JSON objects read from a file argument or from stdin:

  echo '{"user":"alice","action":"login","ts":1690000000}' | vaultctl anchor`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.auditvault")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("auditvault")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8000"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.auditvault/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "AuditVault server URL (default http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "Output format: text or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(anchorCmd, getCmd, listCmd, verifyCmd, hashCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	return client.New(serverURL, client.WithTimeout(timeout))
}

// readEvent reads a JSON document from the named file, or stdin for "" or "-".
func readEvent(cmd *cobra.Command, args []string) ([]byte, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── anchor ───────────────────────────────────────────────────────────────────

var anchorCmd = &cobra.Command{
	Use:   "anchor [file|-]",
	Short: "Anchor an audit event",
	Long: `Anchor hashes the event, submits the hash to the ledger and stores the
record. The event is sent byte-for-byte, so number literals are kept as
written.

If the ledger accepted the event but the vault failed to store it, the
ledger reference is printed and the command exits non-zero. Do not resubmit
such an event; reconcile it instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnchor,
}

func runAnchor(cmd *cobra.Command, args []string) error {
	data, err := readEvent(cmd, args)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}

	res, err := c.AnchorJSON(cmd.Context(), data)
	if err != nil {
		var apiErr *client.APIError
		if errors.Is(err, client.ErrNotPersisted) && errors.As(err, &apiErr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "ledger accepted hash %s as %s but the record was not stored\n",
				apiErr.Hash, apiErr.FabricTxID)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		return printJSON(out, res)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "EVENT ID\t%d\n", res.EventID)
	fmt.Fprintf(w, "HASH\t%s\n", res.Hash)
	fmt.Fprintf(w, "FABRIC TX\t%s\n", res.FabricTxID)
	return w.Flush()
}

// ── get ──────────────────────────────────────────────────────────────────────

var getCmd = &cobra.Command{
	Use:   "get <event-id>",
	Short: "Show a stored audit event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), rec)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "EVENT ID\t%d\n", rec.EventID)
		fmt.Fprintf(w, "HASH\t%s\n", rec.Hash)
		fmt.Fprintf(w, "FABRIC TX\t%s\n", rec.FabricTxID)
		fmt.Fprintf(w, "CREATED\t%s\n", rec.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "EVENT\t%s\n", rec.Event)
		return w.Flush()
	},
}

// ── list ─────────────────────────────────────────────────────────────────────

var (
	listLimit  int
	listOffset int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored audit events, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		recs, err := c.List(cmd.Context(), listLimit, listOffset)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), recs)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tHASH\tFABRIC TX\tCREATED")
		for _, r := range recs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.EventID, r.Hash, r.FabricTxID, r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of events")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Number of events to skip")
}

// ── verify ───────────────────────────────────────────────────────────────────

var errVerificationFailed = errors.New("verification failed")

var verifyCmd = &cobra.Command{
	Use:   "verify <event-id>",
	Short: "Recompute a stored event's hash and check it against the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.Verify(cmd.Context(), id)
		if err != nil {
			return err
		}
		if format == "json" {
			if err := printJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
		} else {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "STORED HASH\t%s\n", v.StoredHash)
			fmt.Fprintf(w, "COMPUTED HASH\t%s\n", v.ComputedHash)
			if v.LedgerChecked {
				fmt.Fprintf(w, "LEDGER HASH\t%s\n", v.LedgerHash)
			} else {
				fmt.Fprintln(w, "LEDGER HASH\t(not checked)")
			}
			fmt.Fprintf(w, "VALID\t%t\n", v.Valid)
			if err := w.Flush(); err != nil {
				return err
			}
		}
		if !v.Valid {
			return errVerificationFailed
		}
		return nil
	},
}

// ── hash ─────────────────────────────────────────────────────────────────────

var hashCanonical bool

var hashCmd = &cobra.Command{
	Use:   "hash [file|-]",
	Short: "Compute an event's content hash locally",
	Long: `Hash prints the content hash the vault would compute for the event,
without contacting the server. Use --canonical to also print the canonical
form that is hashed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readEvent(cmd, args)
		if err != nil {
			return err
		}
		ev, err := event.Parse(data)
		if err != nil {
			return err
		}
		h := canonical.NewHasher()
		form, err := h.Canonicalize(ev)
		if err != nil {
			return err
		}
		hash, err := h.Hash(ev)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if hashCanonical {
			fmt.Fprintln(out, string(form))
		}
		fmt.Fprintln(out, hash)
		return nil
	},
}

func init() {
	hashCmd.Flags().BoolVar(&hashCanonical, "canonical", false, "Also print the canonical form")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vaultctl version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "vaultctl", version)
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid event ID %q", s)
	}
	return id, nil
}
