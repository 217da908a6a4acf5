package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shambakey1/vifinode/pkg/audit"
	"github.com/shambakey1/vifinode/pkg/crosssite"
	"github.com/shambakey1/vifinode/pkg/egress"
	"github.com/shambakey1/vifinode/pkg/log"
	"github.com/shambakey1/vifinode/pkg/registry"
	"github.com/shambakey1/vifinode/pkg/runtime"
	"github.com/shambakey1/vifinode/pkg/siteconfig"
	"github.com/shambakey1/vifinode/pkg/supervisor"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vifinode",
	Short: "VIFI Node - federated per-node workload orchestrator",
	Long: `vifinode drives one site's domains through their request lifecycle:
unpacking incoming archives, admitting and launching container
services, iterating them, and delivering results to configured sinks.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vifinode version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(nodeCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run or control this node's supervisor",
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node supervisor",
	Long: `Start loads the site configuration, opens the local registry,
connects to containerd, and runs the unpack and run loops until
stopped with Ctrl+C or a "stop" command on the control socket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
		controlAddr, _ := cmd.Flags().GetString("control-addr")
		enableS3, _ := cmd.Flags().GetBool("enable-s3")

		site, err := siteconfig.Load(configPath)
		if err != nil {
			return fmt.Errorf("load site config: %w", err)
		}

		reg, err := registry.Open(site.RootPath)
		if err != nil {
			return fmt.Errorf("open registry: %w", err)
		}
		defer reg.Close()

		engine, err := runtime.NewContainerdEngine(containerdSocket)
		if err != nil {
			return fmt.Errorf("connect to containerd: %w", err)
		}

		auditLogger := audit.NewLogger(site, reg)

		cfg := supervisor.Config{
			Site:           site,
			Engine:         engine,
			Registry:       reg,
			Audit:          auditLogger,
			PutSFTP:        egress.NewSFTPPutter(),
			CrossSite:      crossSiteFactory(site),
			ControlNetwork: "tcp",
			ControlAddr:    controlAddr,
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if enableS3 {
			putS3, err := egress.NewS3Putter(ctx)
			if err != nil {
				return fmt.Errorf("configure object store delivery: %w", err)
			}
			cfg.PutS3 = putS3
		}

		sup := supervisor.New(cfg)
		if err := sup.Start(ctx); err != nil {
			return fmt.Errorf("start supervisor: %w", err)
		}

		fmt.Printf("vifinode started for site %s\n", filepath.Clean(site.RootPath))
		if controlAddr != "" {
			fmt.Printf("control socket listening on %s (send \"stop\\n\" to shut down)\n", controlAddr)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("shutting down...")
		sup.Stop()
		fmt.Println("shutdown complete")
		return nil
	},
}

// crossSiteFactory builds the per-domain cross-site transport client
// supervisor.Config.CrossSite needs for C10's nifi sinks. Domains
// without a nifi block in the site file get a nil client, which
// egress.Run turns into a SinkError for any nifi sink declared there.
func crossSiteFactory(site *siteconfig.Site) func(domain string) crosssite.Client {
	return func(domain string) crosssite.Client {
		d, ok := site.Domain(domain)
		if !ok || d.Nifi == nil {
			return nil
		}
		return crosssite.NewHTTPClient(crosssite.Config{
			Host:           d.Nifi.Host,
			ProcessGroupID: d.Nifi.ProcessGroupID,
			TemplateID:     d.Nifi.TemplateID,
			PollInterval:   time.Duration(d.Nifi.PollIntervalMS) * time.Millisecond,
			PollTimeout:    time.Duration(d.Nifi.PollTimeoutMS) * time.Millisecond,
		})
	}
}

var nodeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Send a stop command to a running node's control socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		controlAddr, _ := cmd.Flags().GetString("control-addr")

		conn, err := net.DialTimeout("tcp", controlAddr, 5*time.Second)
		if err != nil {
			return fmt.Errorf("dial control socket %s: %w", controlAddr, err)
		}
		defer conn.Close()

		if _, err := conn.Write([]byte("stop\n")); err != nil {
			return fmt.Errorf("send stop command: %w", err)
		}
		fmt.Println("stop command sent")
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeStartCmd)
	nodeCmd.AddCommand(nodeStopCmd)

	nodeStartCmd.Flags().String("config", "./site.yaml", "Path to the site configuration file")
	nodeStartCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
	nodeStartCmd.Flags().String("control-addr", "127.0.0.1:9191", "Control socket address (empty disables it)")
	nodeStartCmd.Flags().Bool("enable-s3", false, "Configure object-store delivery using the default AWS credential chain")

	nodeStopCmd.Flags().String("control-addr", "127.0.0.1:9191", "Control socket address of the running node")
}
