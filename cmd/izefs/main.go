// Command izefs is the minimal CLI driver for Ize: a "mount" subcommand that
// assembles a mount.Instance and binds it to a FUSE mountpoint via
// jacobsa/fuse, and a "status" subcommand that fetches the running mount's
// Prometheus endpoint and prints the HTTP status of that fetch; it does not
// print the individual counters. Project-directory
// discovery, project.toml, and on-disk config-file parsing are external
// collaborators (spec.md §1) and are deliberately not implemented here;
// every flag below is accepted directly on the command line, mirroring the
// small persistent-flag surface of gcsfuse's cmd/root.go without its
// viper-backed config file.
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluid-notion-systems/ize/internal/config"
	"github.com/fluid-notion-systems/ize/internal/logger"
	"github.com/fluid-notion-systems/ize/internal/mount"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "izefs",
	Short: "A patch-versioning pass-through filesystem",
	Long: `Ize mounts a source directory and transparently versions every
mutation into a patch-based, content-addressed history store while
preserving ordinary filesystem semantics on reads and writes.`,
}

func main() {
	rootCmd.AddCommand(newMountCmd())
	rootCmd.AddCommand(newStatusCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newMountCmd() *cobra.Command {
	var (
		bareDir     string
		channel     string
		metricsAddr string
		logFormat   string
		logLevel    string
		readOnly    bool
	)

	cmd := &cobra.Command{
		Use:   "mount <source-dir> <mountpoint>",
		Short: "Mount a source directory, versioning every mutation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.SetLogFormat(logFormat)
			logger.SetLoggingLevel(logLevel)

			sourceDir, mountPoint := args[0], args[1]
			if bareDir == "" {
				bareDir = sourceDir + "/.ize/pijul"
			}

			inst, err := mount.New(cmd.Context(), mount.Config{
				SourceDir: sourceDir,
				BareDir:   bareDir,
				Channel:   channel,
				Uid:       uint32(os.Getuid()),
				Gid:       uint32(os.Getgid()),
				FileMode:  0644,
				DirMode:   0755,
				Queue:     config.DefaultQueueConfig(),
				Applier:   config.DefaultApplierConfig(),
			})
			if err != nil {
				return fmt.Errorf("izefs: assembling mount: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			inst.Run(ctx)

			if metricsAddr != "" {
				inst.Metrics.MustRegister(prometheus.DefaultRegisterer)
				go serveMetrics(metricsAddr)
			}

			server := fuseutil.NewFileSystemServer(newFuseFS(inst))
			mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{
				FSName:      "ize",
				VolumeName:  "ize",
				ReadOnly:    readOnly,
				ErrorLogger: stdlog.New(os.Stderr, "izefs: ", stdlog.LstdFlags),
				Options: map[string]string{
					"allow_other":  "",
					"auto_unmount": "",
				},
			})
			if err != nil {
				return fmt.Errorf("izefs: mount: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logger.Infof("izefs: received shutdown signal, unmounting %q", mountPoint)
				if err := fuse.Unmount(mountPoint); err != nil {
					logger.Errorf("izefs: unmount: %v", err)
				}
			}()

			if err := mfs.Join(context.Background()); err != nil {
				return fmt.Errorf("izefs: serving: %w", err)
			}

			cancel()
			if err := inst.Shutdown(); err != nil {
				return fmt.Errorf("izefs: applier shutdown: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bareDir, "bare-dir", "", "bare patch-repository directory (default <source-dir>/.ize/pijul)")
	cmd.Flags().StringVar(&channel, "channel", "main", "patch-store channel to record onto")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9190)")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "text or json")
	cmd.Flags().StringVar(&logLevel, "log-level", config.INFO, "TRACE, DEBUG, INFO, WARNING, ERROR, or OFF")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "mount read-only (disables the pass-through write path)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check that a running mount's metrics endpoint answers",
		Long: `Status is an external collaborator over the mount's Prometheus
endpoint: it cannot see the dropped-opcode counter or dead-letter list
except through whatever a mount was started with --metrics-addr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr == "" {
				return fmt.Errorf("izefs status: --metrics-addr is required (start the mount with the same flag)")
			}
			resp, err := http.Get(fmt.Sprintf("http://%s/metrics", metricsAddr))
			if err != nil {
				return fmt.Errorf("izefs status: fetching metrics: %w", err)
			}
			defer resp.Body.Close()
			_, err = fmt.Println("fetched metrics from", metricsAddr, "- status:", resp.Status)
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address of a running mount's --metrics-addr")
	return cmd
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("izefs: metrics server: %v", err)
	}
}
