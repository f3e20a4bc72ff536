// Command fs-client runs one file operation against an fs-server.
//
//	fs-client ls /tmp
//	fs-client write /tmp/test.txt tratata --mode wb
//	fs-client hash /tmp/test.txt --algorithm sha256
//	fs-client rm /tmp/test.txt
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"fs-rpc/client"
	"fs-rpc/config"
	"fs-rpc/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withClient opens a client from cfg for the duration of fn.
func withClient(cmd *cobra.Command, cfg *config.ClientConfig, fn func(ctx context.Context, c *client.Client) error) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, err := client.NewFromConfig(*cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	logger.Debug("using server", zap.String("addr", c.Addr()))
	return fn(cmd.Context(), c)
}

func newRootCmd(out io.Writer) *cobra.Command {
	cfg := config.DefaultClientConfig()
	root := &cobra.Command{
		Use:           "fs-client",
		Short:         "Run file operations on a remote fs-server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	f := root.PersistentFlags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "server address host:port")
	f.StringVar(&cfg.Codec, "codec", cfg.Codec, "payload codec: msgpack|json (must match the server)")
	f.DurationVar(&cfg.AttemptTimeout, "attempt-timeout", cfg.AttemptTimeout, "deadline for one connect/write/read")
	f.DurationVar(&cfg.OverallTimeout, "timeout", cfg.OverallTimeout, "deadline for a command across all retries")
	f.StringSliceVar(&cfg.EtcdEndpoints, "etcd", cfg.EtcdEndpoints, "discover the server through etcd instead of --addr")
	f.StringVar(&cfg.ServiceName, "service", cfg.ServiceName, "service name in the registry")
	f.StringVar(&cfg.Balancer, "balancer", cfg.Balancer, "roundrobin|random|hash")
	f.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "debug|info|warn|error")

	ls := &cobra.Command{
		Use:   "ls <dir>",
		Short: "List a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, &cfg, func(ctx context.Context, c *client.Client) error {
				names, err := c.ListDir(ctx, args[0])
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	}

	var mode string
	var fromFile bool
	write := &cobra.Command{
		Use:   "write <path> <data>",
		Short: "Write data to a file",
		Long:  "Write data to a file. With --from-file the second argument names a local file whose content is sent.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := []byte(args[1])
			if fromFile {
				var err error
				if data, err = os.ReadFile(args[1]); err != nil {
					return err
				}
			}
			return withClient(cmd, &cfg, func(ctx context.Context, c *client.Client) error {
				return c.Write(ctx, args[0], mode, data)
			})
		},
	}
	write.Flags().StringVar(&mode, "mode", "wb", "open mode: w|a|x with optional b and +")
	write.Flags().BoolVar(&fromFile, "from-file", false, "read the data from a local file")

	rm := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, &cfg, func(ctx context.Context, c *client.Client) error {
				return c.Delete(ctx, args[0])
			})
		},
	}

	var algorithm string
	hash := &cobra.Command{
		Use:   "hash <path>",
		Short: "Print the hex digest of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, &cfg, func(ctx context.Context, c *client.Client) error {
				sum, err := c.GetHash(ctx, args[0], algorithm)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sum)
				return nil
			})
		},
	}
	hash.Flags().StringVar(&algorithm, "algorithm", "md5", "md5|sha1|sha224|sha256|sha384|sha512")

	root.AddCommand(ls, write, rm, hash)
	return root
}
