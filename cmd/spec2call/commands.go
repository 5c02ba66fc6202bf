package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdwit/spec2call/internal/generator"
	"github.com/mdwit/spec2call/internal/invoke"
	"github.com/mdwit/spec2call/internal/model"
	"github.com/mdwit/spec2call/internal/registry"
	"github.com/mdwit/spec2call/internal/secrets"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		src    registry.Source
		format string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file|url>",
		Short: "Parse an API description and register it",
		Long: `Parse an OpenAPI 3, Swagger 2, GraphQL SDL, GraphQL introspection result or Postman
collection and store it for the owner. Remote sources can be refreshed later; with
--introspect the URL is a live GraphQL endpoint.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			src.Format = model.SpecFormat(format)
			if isURL(args[0]) {
				src.URL = args[0]
			} else {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", args[0], err)
				}
				src.Data = data
			}

			var reg *model.Registration
			if dryRun {
				reg, err = svc.Ingest(cmd.Context(), src)
			} else {
				reg, err = svc.Register(cmd.Context(), a.cfg.Owner, src)
			}
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), reg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "source format (openapi3, swagger2, graphql, graphql_sdl, collection); detected when empty")
	cmd.Flags().StringVarP(&src.Name, "name", "n", "", "registration name")
	cmd.Flags().StringVarP(&src.BaseURL, "base-url", "b", "", "override the API base URL")
	cmd.Flags().BoolVar(&src.Introspect, "introspect", false, "treat the URL as a live GraphQL endpoint")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and print without storing")
	return cmd
}

func newDiscoverCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "discover <base-url>",
		Short: "Probe well-known paths for an OpenAPI document and register it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			found, data, err := a.fetcher.Discover(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Found API description at %s\n", found)
			reg, err := svc.Register(cmd.Context(), a.cfg.Owner, registry.Source{
				URL:  found,
				Data: data,
				Name: name,
			})
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), reg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "registration name")
	return cmd
}

func newRefreshCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "refresh [id]",
		Short: "Re-ingest registrations from their source URL",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if !all {
				reg, err := svc.Refresh(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printSummary(cmd.OutOrStdout(), reg)
				return nil
			}

			results, err := svc.RefreshAll(cmd.Context(), a.cfg.Owner)
			if err != nil {
				return err
			}
			failed := 0
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENDPOINTS\tRESULT")
			for _, r := range results {
				status := "ok"
				if r.Err != nil {
					status = r.Err.Error()
					failed++
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", r.ID, r.Endpoints, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d registrations failed to refresh", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "refresh every registration of the owner")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registrations of the owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			regs, err := svc.List(cmd.Context(), a.cfg.Owner)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tFORMAT\tENDPOINTS\tAUTH\tENABLED")
			for _, r := range regs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%t\n",
					r.ID, r.Name, r.Format, len(r.Endpoints), r.Auth.Type(), r.Enabled)
			}
			return w.Flush()
		},
	}
}

func newDescribeCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "describe <id>",
		Short: "Generate llms.txt and endpoint docs for a registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			reg, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			catalog := a.cfg.Catalog
			if output != "" {
				catalog.Output = output
			} else {
				catalog.Output = filepath.Join(catalog.Output, reg.ID)
			}
			if err := generator.New(catalog, reg).Generate(); err != nil {
				return fmt.Errorf("failed to generate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated llms.txt in %s\n", catalog.Output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default <catalog.output>/<id>)")
	return cmd
}

func newCallCmd(a *app) *cobra.Command {
	var showHeaders bool
	cmd := &cobra.Command{
		Use:   "call <id> <operation> [params-json|-]",
		Short: "Invoke an operation with JSON parameters",
		Long: `Invoke an operation of a registration. Parameters are a JSON object keyed by
parameter name; "body" carries an explicit request body. Use "-" to read them from stdin.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			var raw []byte
			switch {
			case len(args) < 3:
			case args[2] == "-":
				if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("failed to read parameters: %w", err)
				}
			default:
				raw = []byte(args[2])
			}
			params, err := invoke.ParseParams(raw)
			if err != nil {
				return err
			}

			resp, err := svc.Call(cmd.Context(), args[0], args[1], params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "HTTP %d (%s)\n", resp.StatusCode, resp.Duration.Round(time.Millisecond))
			if showHeaders {
				for name, values := range resp.Header {
					for _, v := range values {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", name, v)
					}
				}
			}
			if resp.Truncated {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: response body truncated")
			}
			out := cmd.OutOrStdout()
			if _, err := out.Write(resp.Body); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showHeaders, "include", "i", false, "print response headers to stderr")
	return cmd
}

func newAuthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage credentials of a registration",
	}

	var (
		in       secrets.AuthInput
		authType string
		location string
		fromFile string
	)
	set := &cobra.Command{
		Use:   "set <id>",
		Short: "Encrypt and store credentials",
		Long: `Encrypt credentials with the owner's key and attach them to the registration.
Location, parameter name and token URL found in the API description are reused when
omitted. Prefer --from-file (JSON, "-" for stdin) to keep secrets out of shell history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			input := secrets.AuthInput{}
			if fromFile != "" {
				if input, err = readAuthInput(cmd, fromFile); err != nil {
					return err
				}
			}
			mergeAuthInput(&input, in)
			if authType != "" {
				input.Type = model.AuthType(authType)
			}
			if location != "" {
				input.In = model.Location(location)
			}

			reg, err := svc.UpdateAuth(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credentials for %s updated (%s)\n", reg.ID, reg.Auth.Type())
			return nil
		},
	}
	f := set.Flags()
	f.StringVar(&authType, "type", "", "auth type (none, api_key, bearer, basic, oauth2); defaults to the parsed scheme")
	f.StringVar(&location, "in", "", "api key location (header, query, cookie)")
	f.StringVar(&in.Name, "name", "", "api key parameter name")
	f.StringVar(&in.Key, "key", "", "api key value")
	f.StringVar(&in.Prefix, "prefix", "", "bearer prefix (default Bearer)")
	f.StringVar(&in.Token, "token", "", "bearer token")
	f.StringVar(&in.Username, "username", "", "basic auth username")
	f.StringVar(&in.Password, "password", "", "basic auth password")
	f.StringVar(&in.TokenURL, "token-url", "", "oauth2 token endpoint")
	f.StringVar(&in.ClientID, "client-id", "", "oauth2 client id")
	f.StringVar(&in.ClientSecret, "client-secret", "", "oauth2 client secret")
	f.StringSliceVar(&in.Scopes, "scopes", nil, "oauth2 scopes")
	f.BoolVar(&in.VaultRefs, "vault", false, "values are entry names in the external vault")
	f.StringVar(&fromFile, "from-file", "", "read credentials from a JSON file")

	cmd.AddCommand(set)
	return cmd
}

func readAuthInput(cmd *cobra.Command, path string) (secrets.AuthInput, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return secrets.AuthInput{}, fmt.Errorf("failed to read credentials: %w", err)
	}
	var in secrets.AuthInput
	if err := json.Unmarshal(data, &in); err != nil {
		return secrets.AuthInput{}, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return in, nil
}

// mergeAuthInput флаги поверх файла
func mergeAuthInput(dst *secrets.AuthInput, flags secrets.AuthInput) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&dst.Name, flags.Name)
	set(&dst.Key, flags.Key)
	set(&dst.Prefix, flags.Prefix)
	set(&dst.Token, flags.Token)
	set(&dst.Username, flags.Username)
	set(&dst.Password, flags.Password)
	set(&dst.TokenURL, flags.TokenURL)
	set(&dst.ClientID, flags.ClientID)
	set(&dst.ClientSecret, flags.ClientSecret)
	if len(flags.Scopes) > 0 {
		dst.Scopes = flags.Scopes
	}
	if flags.VaultRefs {
		dst.VaultRefs = true
	}
}

func newEndpointCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Enable or disable a registration or one of its operations",
	}
	toggle := func(enabled bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return svc.SetEnabled(cmd.Context(), args[0], enabled)
			}
			return svc.SetEndpointEnabled(cmd.Context(), args[0], args[1], enabled)
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable <id> [operation]",
			Short: "Enable an operation, or the whole registration when no operation is given",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  toggle(true),
		},
		&cobra.Command{
			Use:   "disable <id> [operation]",
			Short: "Disable an operation, or the whole registration when no operation is given",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  toggle(false),
		},
	)
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a registration with its endpoints and cached tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a master key for secrets.master_key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.GenerateMasterKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func printSummary(w io.Writer, reg *model.Registration) {
	fmt.Fprintf(w, "%s  %s (%s)\n", reg.ID, reg.Name, reg.Format)
	fmt.Fprintf(w, "Base URL: %s\n", reg.BaseURL)
	fmt.Fprintf(w, "Auth: %s\n", reg.Auth.Type())
	fmt.Fprintf(w, "Found %d endpoints\n", len(reg.Endpoints))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, ep := range reg.Endpoints {
		state := ""
		if !ep.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(tw, "  %s\t%s %s\t%s\n", ep.OperationID, ep.Method, ep.Path, state)
	}
	_ = tw.Flush()
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
