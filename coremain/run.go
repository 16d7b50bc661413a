package coremain

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pmkol/ichika-x/mlog"
	"github.com/pmkol/ichika-x/pkg/bot"
	"github.com/pmkol/ichika-x/pkg/device"
	"github.com/pmkol/ichika-x/pkg/retry"
	"github.com/pmkol/ichika-x/pkg/safe_close"
)

type serverFlags struct {
	c         string
	dir       string
	cpu       int
	asService bool
}

var rootCmd = &cobra.Command{
	Use: "ichika",
}

func init() {
	sf := new(serverFlags)
	startCmd := &cobra.Command{
		Use:   "start [-c config_file] [-d working_dir]",
		Short: "Start ichika main program.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sf.asService {
				svc, err := service.New(&serverService{f: sf}, svcCfg)
				if err != nil {
					return fmt.Errorf("failed to init service, %w", err)
				}
				return svc.Run()
			}

			sc := safe_close.NewSafeClose()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGTERM)
				sig := <-c
				mlog.L().Info("signal received", zap.Stringer("signal", sig))
				sc.SendCloseSignal(nil)
			}()
			return StartServer(sf, sc)
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	rootCmd.AddCommand(startCmd)
	fs := startCmd.Flags()
	fs.StringVarP(&sf.c, "config", "c", "", "config file")
	fs.StringVarP(&sf.dir, "dir", "d", "", "working dir")
	fs.IntVar(&sf.cpu, "cpu", 0, "set runtime.GOMAXPROCS")
	fs.BoolVar(&sf.asService, "as-service", false, "start as a service")
	fs.MarkHidden("as-service")

	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage ichika as a system service.",
	}
	serviceCmd.PersistentPreRunE = initService
	serviceCmd.AddCommand(
		newSvcInstallCmd(),
		newSvcUninstallCmd(),
		newSvcStartCmd(),
		newSvcStopCmd(),
		newSvcRestartCmd(),
		newSvcStatusCmd(),
	)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(newGenConfigCmd(), newGenDeviceCmd())
}

func AddSubCmd(c *cobra.Command) {
	rootCmd.AddCommand(c)
}

func Run() error {
	return rootCmd.Execute()
}

// StartServer runs until sc is closed. sc.Done is always called.
func StartServer(sf *serverFlags, sc *safe_close.SafeClose) error {
	if sf.cpu > 0 {
		runtime.GOMAXPROCS(sf.cpu)
	}

	if len(sf.dir) > 0 {
		err := os.Chdir(sf.dir)
		if err != nil {
			sc.Done()
			return fmt.Errorf("failed to change the current working directory, %w", err)
		}
		mlog.L().Info("working directory changed", zap.String("path", sf.dir))
	}

	cfg, fileUsed, err := loadConfig(sf.c)
	if err != nil {
		sc.Done()
		return fmt.Errorf("fail to load config, %w", err)
	}

	if err := mergeInclude(cfg, 0, []string{fileUsed}); err != nil {
		sc.Done()
		return fmt.Errorf("failed to load sub config file, %w", err)
	}

	if err := RunIchika(cfg, sc); err != nil {
		return fmt.Errorf("ichika exited, %w", err)
	}
	return nil
}

// loadConfig load a config from a file. If filePath is empty, it will
// automatically search and load a file which name start with "config".
func loadConfig(filePath string) (*Config, string, error) {
	v := viper.New()

	if len(filePath) > 0 {
		v.SetConfigFile(filePath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	decoderOpt := func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
		cfg.TagName = "yaml"
		cfg.WeaklyTypedInput = true
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, v.ConfigFileUsed(), nil
}

// mergeInclude prepends the accounts of included files. Only accounts are
// taken from sub configs.
func mergeInclude(cfg *Config, depth int, paths []string) error {
	depth++
	if depth > 8 {
		return fmt.Errorf("maximum include depth reached, include path is %s", strings.Join(paths, " -> "))
	}

	var included []AccountConfig
	for _, subCfgFile := range cfg.Include {
		subPaths := append(paths, subCfgFile)
		mlog.L().Info("reading sub config", zap.String("file", subCfgFile))
		subCfg, _, err := loadConfig(subCfgFile)
		if err != nil {
			return fmt.Errorf("failed to load sub config, %w", err)
		}
		if err := mergeInclude(subCfg, depth, subPaths); err != nil {
			return err
		}
		included = append(included, subCfg.Accounts...)
	}

	cfg.Accounts = append(included, cfg.Accounts...)
	return nil
}

// defaultConfig is the template written by gen-config.
func defaultConfig() *Config {
	return &Config{
		Log:   mlog.LogConfig{Level: "info"},
		API:   APIConfig{HTTP: "127.0.0.1:9091"},
		Store: StoreConfig{Type: "path", Dir: defaultStoreDir},
		Cache: CacheConfig{
			TTL:        600,
			MaxGroups:  1024,
			MaxMembers: 16384,
			Retry:      retry.FetchPolicy,
		},
		Redis:   RedisConfig{Timeout: 1000},
		Publish: PublishConfig{Log: true},
		Accounts: []AccountConfig{{
			Uin:            10001,
			Protocol:       "ipad",
			Engine:         "ricq",
			Login:          bot.MethodQRCode,
			QRCodeInterval: 5,
			Reconnect:      retry.ReconnectPolicy,
		}},
	}
}

func newGenConfigCmd() *cobra.Command {
	var out string
	c := &cobra.Command{
		Use:   "gen-config [-o config.yaml]",
		Short: "Write a config template.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := yaml.Marshal(defaultConfig())
			if err != nil {
				return err
			}
			if len(out) == 0 {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			return os.WriteFile(out, b, 0o600)
		},
		SilenceUsage: true,
	}
	c.Flags().StringVarP(&out, "out", "o", "", "output file, default is stdout")
	return c
}

func newGenDeviceCmd() *cobra.Command {
	var (
		uin      int64
		protocol string
	)
	c := &cobra.Command{
		Use:   "gen-device -u uin [-p protocol]",
		Short: "Print the device descriptor generated for an account.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if uin <= 0 {
				return fmt.Errorf("invalid uin %d", uin)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(device.ForAccount(uin, protocol))
		},
		SilenceUsage: true,
	}
	c.Flags().Int64VarP(&uin, "uin", "u", 0, "account uin")
	c.Flags().StringVarP(&protocol, "protocol", "p", "ipad", "login protocol")
	return c
}
