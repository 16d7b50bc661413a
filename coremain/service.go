package coremain

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/mlog"
	"github.com/pmkol/ichika-x/pkg/safe_close"
)

var (
	svcCfg = &service.Config{
		Name:        "ichika",
		DisplayName: "ichika",
		Description: "A multi account instant messaging bot runtime.",
	}
	svc service.Service
)

type serverService struct {
	f  *serverFlags
	sc *safe_close.SafeClose
}

func (ss *serverService) Start(s service.Service) error {
	ss.sc = safe_close.NewSafeClose()
	go func() {
		if err := StartServer(ss.f, ss.sc); err != nil {
			mlog.L().Error("server exited", zap.Error(err))
			os.Exit(1)
		}
		os.Exit(0)
	}()
	return nil
}

func (ss *serverService) Stop(s service.Service) error {
	ss.sc.CloseWait()
	return nil
}

func initService(_ *cobra.Command, _ []string) error {
	s, err := service.New(&serverService{}, svcCfg)
	if err != nil {
		return fmt.Errorf("failed to init service, %w", err)
	}
	svc = s
	return nil
}

func newSvcInstallCmd() *cobra.Command {
	var (
		dir string
		cfg string
	)
	c := &cobra.Command{
		Use:   "install [-d working_dir] [-c config_file]",
		Short: "Install ichika as a system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(dir) == 0 {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get current working directory, %w", err)
				}
				dir = wd
			} else if !filepath.IsAbs(dir) {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return fmt.Errorf("failed to resolve working directory, %w", err)
				}
				dir = abs
			}
			svcCfg.Arguments = []string{"start", "--as-service", "-d", dir}
			if len(cfg) > 0 {
				svcCfg.Arguments = append(svcCfg.Arguments, "-c", cfg)
			}
			s, err := service.New(&serverService{}, svcCfg)
			if err != nil {
				return fmt.Errorf("failed to init service, %w", err)
			}
			return s.Install()
		},
		SilenceUsage: true,
	}
	c.Flags().StringVarP(&dir, "dir", "d", "", "working dir")
	c.Flags().StringVarP(&cfg, "config", "c", "", "config file")
	return c
}

func newSvcUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall ichika from system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Uninstall()
		},
		SilenceUsage: true,
	}
}

func newSvcStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start ichika system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Start()
		},
		SilenceUsage: true,
	}
}

func newSvcStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop ichika system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Stop()
		},
		SilenceUsage: true,
	}
}

func newSvcRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart ichika system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Restart()
		},
		SilenceUsage: true,
	}
}

func newSvcStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Status of ichika system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := svc.Status()
			if err != nil {
				return fmt.Errorf("failed to get service status, %w", err)
			}
			var out string
			switch s {
			case service.StatusRunning:
				out = "running"
			case service.StatusStopped:
				out = "stopped"
			default:
				out = "unknown"
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
		SilenceUsage: true,
	}
}
