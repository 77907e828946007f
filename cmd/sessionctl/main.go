package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/org/sessionguard/internal/auth"
	"github.com/org/sessionguard/pkg/models"
)

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "sessionguard CLI",
	Long:  "A CLI for managing session grants and gas policies in sessionguard.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with --format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(authorizeCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(keyCmd())
}

// run executes fn and prints its result; failures are printed, not returned,
// so cobra does not repeat usage text.
func run(fn func(c *Client) (map[string]any, error)) error {
	client, err := newClient()
	if err != nil {
		printError(err.Error())
		return nil
	}
	result, err := fn(client)
	if err != nil {
		printError(err.Error())
		return nil
	}
	printResult(result)
	return nil
}

// runAction runs fn and prints success on completion.
func runAction(fn func(c *Client) error, success string) error {
	client, err := newClient()
	if err == nil {
		err = fn(client)
	}
	if err != nil {
		printError(err.Error())
		return nil
	}
	printSuccess(success)
	return nil
}

// --- login ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the server address and API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("address"); addr != "" {
				cfg.Address = addr
			}
			if key, _ := cmd.Flags().GetString("api-key"); key != "" {
				cfg.APIKey = key
			}
			if ca, _ := cmd.Flags().GetString("ca-cert"); ca != "" {
				cfg.TLSCACert = ca
			}
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Config saved to " + configPath())
			return nil
		},
	}
	cmd.Flags().String("address", "", "Server address, e.g. https://sessionguard:8300")
	cmd.Flags().String("api-key", "", "Operator API key")
	cmd.Flags().String("ca-cert", "", "CA certificate for TLS")
	return cmd
}

// --- session ---

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Manage session grants"}

	openCmd := &cobra.Command{
		Use:   "open",
		Short: "Open a session grant for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			in := models.OpenSessionInput{}
			in.Owner, _ = f.GetString("owner")
			in.SessionKeyRef, _ = f.GetString("key-ref")
			in.Contracts, _ = f.GetStringSlice("contract")
			in.Methods, _ = f.GetStringSlice("method")
			in.AllowAllContracts, _ = f.GetBool("allow-all-contracts")
			in.AllowAllMethods, _ = f.GetBool("allow-all-methods")
			in.PerTxCap, _ = f.GetUint64("per-tx")
			in.DailyCap, _ = f.GetUint64("daily")
			ttl, _ := f.GetDuration("ttl")
			in.TTLSeconds = int64(ttl / time.Second)
			return run(func(c *Client) (map[string]any, error) {
				return c.post("/v1/sessions", in)
			})
		},
	}
	openCmd.Flags().String("owner", "", "Owner account address")
	openCmd.Flags().String("key-ref", "", "Public reference of the session key")
	openCmd.Flags().StringSlice("contract", nil, "Allowed contract address (repeatable)")
	openCmd.Flags().StringSlice("method", nil, "Allowed selector or function signature (repeatable)")
	openCmd.Flags().Bool("allow-all-contracts", false, "Allow any contract when no --contract is given")
	openCmd.Flags().Bool("allow-all-methods", false, "Allow any method when no --method is given")
	openCmd.Flags().Uint64("per-tx", 0, "Per-transaction spend cap")
	openCmd.Flags().Uint64("daily", 0, "Daily spend cap")
	openCmd.Flags().Duration("ttl", time.Hour, "Session lifetime (60s to 24h)")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get("/v1/sessions/" + url.PathEscape(args[0]))
			})
		},
	}

	currentCmd := &cobra.Command{
		Use:   "current <owner>",
		Short: "Show the owner's active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get("/v1/owners/" + url.PathEscape(args[0]) + "/session")
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <owner>",
		Short: "List every session grant opened for the owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get("/v1/owners/" + url.PathEscape(args[0]) + "/sessions")
			})
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a session grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(func(c *Client) error {
				_, err := c.post("/v1/sessions/"+url.PathEscape(args[0])+"/revoke", nil)
				return err
			}, "Success! Revoked session: "+args[0])
		},
	}

	useCmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Check and record a spend against a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			in := models.UseInput{}
			in.Target, _ = f.GetString("target")
			in.Method, _ = f.GetString("method")
			in.Amount, _ = f.GetUint64("amount")
			return run(func(c *Client) (map[string]any, error) {
				return c.post("/v1/sessions/"+url.PathEscape(args[0])+"/use", in)
			})
		},
	}
	useCmd.Flags().String("target", "", "Target contract address")
	useCmd.Flags().String("method", "", "Selector or function signature")
	useCmd.Flags().Uint64("amount", 0, "Spend amount")

	cmd.AddCommand(openCmd, showCmd, currentCmd, listCmd, revokeCmd, useCmd)
	return cmd
}

// --- authorize ---

func authorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authorize <project>",
		Short: "Ask whether a call is permitted and sponsored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			in := models.AuthorizeInput{}
			in.Owner, _ = f.GetString("owner")
			in.Target, _ = f.GetString("target")
			in.Method, _ = f.GetString("method")
			in.Amount, _ = f.GetUint64("amount")
			if f.Changed("gas") {
				gas, _ := f.GetUint64("gas")
				in.EstimatedGasCost = &gas
			}
			return run(func(c *Client) (map[string]any, error) {
				return c.post("/v1/projects/"+url.PathEscape(args[0])+"/authorize", in)
			})
		},
	}
	cmd.Flags().String("owner", "", "Owner account address")
	cmd.Flags().String("target", "", "Target contract address")
	cmd.Flags().String("method", "", "Selector or function signature")
	cmd.Flags().Uint64("amount", 0, "Spend amount")
	cmd.Flags().Uint64("gas", 0, "Estimated gas cost (server estimates when omitted)")
	return cmd
}

// --- policy ---

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Manage project gas policies"}

	setCmd := &cobra.Command{
		Use:   "set <project> <file>",
		Short: "Replace a project's gas policy from a YAML or JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			var in models.GasPolicyInput
			if err := yaml.Unmarshal(data, &in); err != nil {
				printError(fmt.Sprintf("parsing %s: %v", args[1], err))
				return nil
			}
			return runAction(func(c *Client) error {
				_, err := c.put("/v1/projects/"+url.PathEscape(args[0])+"/gas-policy", in)
				return err
			}, "Success! Updated gas policy for project: "+args[0])
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <project>",
		Short: "Show a project's active gas policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get("/v1/projects/" + url.PathEscape(args[0]) + "/gas-policy")
			})
		},
	}

	sponsoredCmd := &cobra.Command{
		Use:   "sponsored <project>",
		Short: "Show how much gas the project sponsored in the current window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get("/v1/projects/" + url.PathEscape(args[0]) + "/gas-policy/sponsored")
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every project's active gas policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get("/v1/projects")
			})
		},
	}

	cmd.AddCommand(setCmd, getCmd, sponsoredCmd, listCmd)
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			q := url.Values{}
			if p, _ := f.GetString("path"); p != "" {
				q.Set("path", p)
			}
			if l, _ := f.GetInt("limit"); l > 0 {
				q.Set("limit", strconv.Itoa(l))
			}
			if since, _ := f.GetDuration("since"); since > 0 {
				q.Set("since", time.Now().Add(-since).UTC().Format(time.RFC3339))
			}
			return run(func(c *Client) (map[string]any, error) {
				return c.get("/v1/audit?" + q.Encode())
			})
		},
	}
	cmd.Flags().String("path", "", "Only entries whose path starts with this prefix")
	cmd.Flags().Int("limit", 50, "Maximum entries to return")
	cmd.Flags().Duration("since", 0, "Only entries newer than this, e.g. 1h")
	return cmd
}

// --- key ---

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "Operator API key helpers"}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an API key and the hash to put in server config",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := auth.GenerateKey()
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(map[string]any{"api_key": key, "api_key_hash": auth.HashKey(key)})
			return nil
		},
	}

	hashCmd := &cobra.Command{
		Use:   "hash <key>",
		Short: "Print the SHA-256 hash of an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printResult(map[string]any{"api_key_hash": auth.HashKey(args[0])})
			return nil
		},
	}

	cmd.AddCommand(generateCmd, hashCmd)
	return cmd
}
