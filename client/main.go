package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/hiveci/hive/api"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"resty.dev/v3"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var remote *remoteClient
var verbose bool

var hiveCmd = &cobra.Command{
	Use:   "hive",
	Short: "Hive distributes a shell-defined test suite across a worker fleet.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		remote = &remoteClient{
			baseURL: lo.Must(cmd.Flags().GetString("remote")),
			secret:  []byte(lo.Must(cmd.Flags().GetString("secret"))),
			client:  resty.New().SetTimeout(30 * time.Second),
		}
		return nil
	},
}

func init() {
	hiveCmd.AddCommand(artifactCmd)
	hiveCmd.AddCommand(cancelCmd)
	hiveCmd.AddCommand(psCmd)
	hiveCmd.AddCommand(runCmd)
	hiveCmd.AddCommand(showCmd)
	hiveCmd.AddCommand(versionCmd)
	hiveCmd.AddCommand(workersCmd)

	hiveCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	hiveCmd.PersistentFlags().String("remote", lo.Must(lo.Coalesce(os.Getenv("HIVE_REMOTE"), "http://127.0.0.1:43777")), "the server remote address")
	hiveCmd.PersistentFlags().String("secret", os.Getenv("HIVE_SECRET"), "shared secret for authenticated requests")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hiveCmd.SetOut(os.Stdout)
	if err := hiveCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}

// remoteClient wraps the REST surface: GETs are plain, mutating requests
// carry the message authentication digest.
type remoteClient struct {
	baseURL string
	secret  []byte
	client  *resty.Client
}

func (c *remoteClient) get(ctx context.Context, path string, out any) error {
	resp, err := c.client.R().SetContext(ctx).Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	return decodeResponse(resp, out)
}

func (c *remoteClient) send(ctx context.Context, method, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(api.DigestHeader, api.Digest(c.secret, payload)).
		SetBody(payload).
		Execute(method, c.baseURL+path)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	return decodeResponse(resp, out)
}

func (c *remoteClient) download(ctx context.Context, path, target string) error {
	resp, err := c.client.R().SetContext(ctx).SetOutputFileName(target).Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("server replied %s", resp.Status())
	}
	return nil
}

func decodeResponse(resp *resty.Response, out any) error {
	if resp.IsError() {
		var failure api.GenericResponse
		if json.Unmarshal(resp.Bytes(), &failure) == nil && failure.Error != "" {
			return fmt.Errorf("%s (%s)", failure.Error, resp.Status())
		}
		return fmt.Errorf("server replied %s", resp.Status())
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Bytes(), out)
}
