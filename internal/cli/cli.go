// Package cli は myfirstclap のコマンドライン定義を担う
//
// 設定値は config.Load で環境変数から読み込み、
// ユーザーが明示的に指定したフラグだけで上書きする。
// 検証はフラグの適用後に、実行するサブコマンドが使うセクションだけを対象にする。
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"myfirstclap/internal/config"
	"myfirstclap/internal/logging"
	"myfirstclap/internal/server"
	"myfirstclap/internal/version"
)

const appName = "myfirstclap"

// app はコマンド間で共有する状態
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand はルートコマンドを作成する
func NewRootCommand(cfg *config.Config, stdout, stderr io.Writer) *cobra.Command {
	a := &app{cfg: cfg, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           appName,
		Short:         "A tutorial CLI with a collection of trivial servers",
		Version:       version.GetDescribe(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// ログ設定はすべてのサブコマンドで使う
			a.cfg.Log.Level = strings.ToLower(a.cfg.Log.Level)
			if err := a.cfg.Log.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(a.cfg.Log, logging.WithOutput(a.stderr))
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.cfg.Log.Level, "log-level", a.cfg.Log.Level,
		fmt.Sprintf("Set the log verbosity level (%s) [env: %s]", strings.Join(config.LogLevels, ", "), config.EnvLogLevel))
	_ = root.RegisterFlagCompletionFunc("log-level", fixedCompletion(config.LogLevels))

	root.AddCommand(
		a.newVersionCommand(),
		a.newServeCommand(),
		a.newCompletionCommand(root),
		a.newManCommand(),
	)
	// cobra 既定の completion コマンドは独自のものに置き換える
	root.CompletionOptions.DisableDefaultCmd = true

	return root
}

// Execute はコマンドを実行する
func Execute(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	root := NewRootCommand(cfg, stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) newVersionCommand() *cobra.Command {
	var noPretty bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "A more detailed version command with information from the build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("no-pretty") {
				a.cfg.Version.Pretty = !noPretty
			}
			a.cfg.Version.Output = strings.ToLower(a.cfg.Version.Output)
			if err := a.cfg.Version.Validate(); err != nil {
				return err
			}
			return version.Run(a.stdout, a.cfg.Version.Output, a.cfg.Version.Pretty)
		},
	}

	cmd.Flags().StringVarP(&a.cfg.Version.Output, "output", "o", a.cfg.Version.Output,
		fmt.Sprintf("Output format in STDOUT (%s) [env: %s]", strings.Join(config.OutputFormats, ", "), config.EnvVersionOutput))
	cmd.Flags().BoolVar(&noPretty, "no-pretty", !a.cfg.Version.Pretty,
		fmt.Sprintf("Do not pretty print JSON [env: %s]", config.EnvVersionPretty))
	_ = cmd.RegisterFlagCompletionFunc("output", fixedCompletion(config.OutputFormats))

	return cmd
}

func (a *app) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "A collection of several trivial servers",
	}

	var port uint16

	hello := &cobra.Command{
		Use:   "hello",
		Short: "Start the Hello server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Serve.SetPort(port)
			}
			if err := a.cfg.Serve.Validate(); err != nil {
				return err
			}

			srv := server.New(a.cfg, a.logger, server.WithNotice(a.stdout))
			a.logger.Infof("hello サーバーを起動します: %s", a.cfg.ServerAddress())
			return srv.Start(cmd.Context())
		},
	}
	hello.Flags().StringVarP(&a.cfg.Serve.Hostname, "hostname", "H", a.cfg.Serve.Hostname,
		fmt.Sprintf("The hostname to bind to [env: %s]", config.EnvServeHostname))
	hello.Flags().Uint16VarP(&port, "port", "p", a.cfg.Serve.Port,
		fmt.Sprintf("The port to listen on [env: %s]", config.EnvServePort))

	cmd.AddCommand(hello)
	return cmd
}

func (a *app) newCompletionCommand(root *cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion",
		Short: "Completion scripts for various terminals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.Completion.Shell = strings.ToLower(a.cfg.Completion.Shell)
			if err := a.cfg.Completion.Validate(); err != nil {
				return err
			}

			switch a.cfg.Completion.Shell {
			case "bash":
				return root.GenBashCompletionV2(a.stdout, true)
			case "zsh":
				return root.GenZshCompletion(a.stdout)
			case "fish":
				return root.GenFishCompletion(a.stdout, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(a.stdout)
			}
			return fmt.Errorf("未対応のシェル: %q", a.cfg.Completion.Shell)
		},
	}
	cmd.Flags().StringVarP(&a.cfg.Completion.Shell, "shell", "s", a.cfg.Completion.Shell,
		fmt.Sprintf("Target shell (%s) [env: %s]", strings.Join(config.Shells, ", "), config.EnvCompletionShell))
	_ = cmd.RegisterFlagCompletionFunc("shell", fixedCompletion(config.Shells))

	return cmd
}

func (a *app) newManCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "man",
		Short: "NOT WORKING YET Generate a man page for this application",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a.logger.Infof("Man page feature is not ready yet. The man page file %s was not generated.", output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", appName+".1", "Man page output file")

	return cmd
}

func fixedCompletion(values []string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return values, cobra.ShellCompDirectiveNoFileComp
	}
}
