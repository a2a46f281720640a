// Package agentcli is the command line interface of reflexd.
package agentcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neurotask/reflex/components/devices"
	"github.com/neurotask/reflex/internal/respsvc"
	"github.com/neurotask/reflex/pkg/agent"
	"github.com/neurotask/reflex/pkg/keymap"
	"github.com/neurotask/reflex/pkg/respclock"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "reflex"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type agentProvider func() *agent.Agent

func NewRootCmd(configDir string) *cobra.Command {
	cfg := agent.Config{
		DataDir:       filepath.Join(configDir, "data"),
		DevicesConfig: filepath.Join(configDir, "devices.yml"),
	}
	rootCmd := &cobra.Command{
		Use:   "reflexd",
		Short: "Response capture daemon",
		Long:  `reflexd captures timing-accurate responses from keyboards, button boxes and voice keys for experiment sessions.`,
	}
	var a *agent.Agent
	provider := func() *agent.Agent {
		return a
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.DevicesConfig, "devices-config", cfg.DevicesConfig, "devices config file")
	rootCmd.PersistentFlags().StringVar(&cfg.CaptureServer, "capture-server", cfg.CaptureServer, "capture server address (host:port)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		a, err = agent.NewAgent(cfg)
		return err
	}
	rootCmd.AddCommand(NewRun(provider))
	rootCmd.AddCommand(NewListDevices(provider))
	rootCmd.AddCommand(NewMonitor(provider))
	rootCmd.AddCommand(NewSimulate())
	return rootCmd
}

func NewRun(a agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the response capture daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a().Close()
			return a().Run(cmd.Context())
		},
	}
}

func NewListDevices(a agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List known response devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a().Close()
			records, err := a().Resp().ListDevices()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

// NewMonitor runs the daemon and prints every lifecycle and threshold
// event as a JSON line.
func NewMonitor(a agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the daemon and print device events",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a().Close()
			group, ctx := errgroup.WithContext(cmd.Context())
			group.Go(func() error {
				return a().Run(ctx)
			})
			group.Go(func() error {
				select {
				case <-ctx.Done():
					return nil
				case <-a().Resp().Ready():
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				lifecycle := a().Resp().SubscribeLifecycle(ctx)
				thresholds := a().Resp().SubscribeThresholds(ctx)
				for {
					select {
					case <-ctx.Done():
						return nil
					case msg := <-lifecycle:
						enc.Encode(msg.Message)
					case msg := <-thresholds:
						enc.Encode(msg.Message)
					}
				}
			})
			return group.Wait()
		},
	}
}

// NewSimulate replays a scripted sequence of key presses through the
// response pipeline without hardware and prints the resulting records.
// Script entries are key:onset:duration, e.g. "a:0.100:0.050".
func NewSimulate() *cobra.Command {
	var script string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay scripted input through the response pipeline",
		// No agent needed: the pipeline runs without hardware or a data
		// directory.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			dev := respsvc.NewDevice(respsvc.DeviceParams{
				Class:  "keyboard",
				Key:    "keyboard/simulated",
				Decode: devices.DecodeKey,
				Policy: respsvc.ReleaseSynthesize,
				Clock:  respclock.New(),
				Log:    zap.NewNop(),
			})
			if err := replayScript(dev, script); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, r := range dev.Get(respsvc.WaitRelease(true)) {
				if err := enc.Encode(r.Telemetry("keyboard")); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&script, "script", "a:0.100:0.050", "comma-separated key:onset:duration entries")
	return cmd
}

func replayScript(dev *respsvc.Device, script string) error {
	for _, entry := range strings.Split(script, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return fmt.Errorf("malformed script entry %q", entry)
		}
		code := keymap.KeyCode(parts[0])
		if code == 0 {
			return fmt.Errorf("unknown key %q", parts[0])
		}
		onset, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return fmt.Errorf("malformed onset in %q: %w", entry, err)
		}
		duration, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return fmt.Errorf("malformed duration in %q: %w", entry, err)
		}
		dev.ParseMessage(respsvc.RawEvent{Code: code, Down: true, Time: onset})
		dev.ParseMessage(respsvc.RawEvent{Code: code, Down: false, Time: onset + duration})
	}
	return nil
}
