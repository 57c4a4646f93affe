package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"contest-rpc/client"
	"contest-rpc/config"
	"contest-rpc/log"
	"contest-rpc/model"
	"contest-rpc/registry"
	"contest-rpc/transport"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "contest-client",
		Short:         "Command-line front end for the contest server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "explicit assign a configuration file")
	flags.BoolP("verbose", "v", false, "log verbose")
	flags.StringP("user", "u", "", "username")
	flags.StringP("password", "P", "", "password")
	flags.String("host", "localhost", "server host")
	flags.IntP("port", "p", 8888, "server port")
	flags.String("codec", "json", "wire codec: json or binary")

	rootCmd.AddCommand(
		racesCmd(),
		capacitiesCmd(),
		teamCmd(),
		addCmd(),
		watchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// printer writes push notifications as they arrive.
type printer struct {
	out      io.Writer
	shutdown chan struct{}
}

func (p *printer) ParticipantAdded(pt *model.Participant) error {
	_, err := fmt.Fprintf(p.out, "+ %s %s (%s, %dcc)\n", pt.FirstName, pt.LastName, pt.Team, pt.EngineCapacity)
	return err
}

func (p *printer) ServerShutdown() {
	fmt.Fprintln(p.out, "server is shutting down")
	close(p.shutdown)
}

// session logs in, runs fn, and logs out.
func session(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client, obs *printer) error) error {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags(), map[string]string{
		"host":  "client.host",
		"port":  "client.port",
		"codec": "client.codec",
	}); err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, path)
	if err != nil {
		return err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	} else {
		cfg.Log.Level = "warn"
	}
	if err := log.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	username, _ := cmd.Flags().GetString("user")
	password, _ := cmd.Flags().GetString("password")
	if username == "" {
		return errors.New("--user is required")
	}

	ct, err := cfg.Client.CodecType()
	if err != nil {
		return err
	}

	var resolver client.Resolver = client.StaticResolver(cfg.Client.Addr())
	if cfg.Etcd.Enabled() {
		reg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout)
		if err != nil {
			return err
		}
		defer reg.Close()
		resolver = client.NewRegistryResolver(reg, cfg.Etcd.ServiceName)
	}

	obs := &printer{out: cmd.OutOrStdout(), shutdown: make(chan struct{})}
	c := client.NewClient(resolver, obs, client.Options{
		Codec:     ct,
		Heartbeat: cfg.Client.Heartbeat,
		Retry: client.RetryPolicy{
			MaxRetries: cfg.Client.DialRetries,
			BaseDelay:  cfg.Client.DialBackoff,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.RequestTimeout)
	_, err = c.Login(ctx, username, password)
	cancel()
	if err != nil {
		return errors.Wrap(err, "login")
	}

	runErr := fn(context.Background(), c, obs)

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Client.RequestTimeout)
	defer cancel()
	// ErrNotConnected: the server already ended the session
	if err := c.Logout(ctx); err != nil && runErr == nil && !errors.Is(err, transport.ErrNotConnected) {
		return errors.Wrap(err, "logout")
	}
	return runErr
}

func racesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "races",
		Short: "List races with their participant counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cmd, func(ctx context.Context, c *client.Client, _ *printer) error {
				races, err := c.FindAllRaces(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCAPACITY\tPARTICIPANTS")
				for _, r := range races {
					fmt.Fprintf(w, "%d\t%d\t%d\n", r.ID, r.EngineCapacity, r.NoParticipants)
				}
				return w.Flush()
			})
		},
	}
}

func capacitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capacities",
		Short: "List the engine capacities that have a race",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cmd, func(ctx context.Context, c *client.Client, _ *printer) error {
				capacities, err := c.FindAllRaceEngineCapacities(ctx)
				if err != nil {
					return err
				}
				for _, cc := range capacities {
					fmt.Fprintln(cmd.OutOrStdout(), cc)
				}
				return nil
			})
		},
	}
}

func teamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "team <name>",
		Short: "List the participants of a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cmd, func(ctx context.Context, c *client.Client, _ *printer) error {
				ps, err := c.FindParticipantsByTeam(ctx, args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "FIRST NAME\tLAST NAME\tCAPACITY")
				for _, p := range ps {
					fmt.Fprintf(w, "%s\t%s\t%d\n", p.FirstName, p.LastName, p.EngineCapacity)
				}
				return w.Flush()
			})
		},
	}
}

func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <first> <last> <team> <capacity>",
		Short: "Register a participant for the race of the given engine capacity",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := strconv.ParseInt(args[3], 10, 32)
			if err != nil {
				return errors.Wrapf(err, "engine capacity %q", args[3])
			}
			return session(cmd, func(ctx context.Context, c *client.Client, _ *printer) error {
				p, err := c.AddParticipant(ctx, args[0], args[1], args[2], int32(cc))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", p.ID)
				return nil
			})
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay logged in and print new participants until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cmd, func(ctx context.Context, c *client.Client, obs *printer) error {
				quit := make(chan os.Signal, 1)
				signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(quit)

				select {
				case <-quit:
				case <-obs.shutdown:
				case <-c.Done():
				}
				return nil
			})
		},
	}
}
