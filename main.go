// Completion: 100% - Entry point complete
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/golang/glog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const versionString = "bfc 1.0.0"

// InitLogging configures glog, which only reads its settings from the standard flag set
func InitLogging(logToStderr bool, verbose int) {
	_ = flag.CommandLine.Parse(nil)
	if logToStderr || verbose > 0 {
		_ = flag.Lookup("logtostderr").Value.Set("true")
	}
	if verbose > 0 {
		_ = flag.Lookup("v").Value.Set(strconv.Itoa(verbose))
	}
}

// NewBfcCmd creates the root command. Commands read and write through cc,
// whose Config is filled in before any subcommand runs.
func NewBfcCmd(cc *CommandContext) *cobra.Command {
	var (
		flags       Flags
		verbose     int
		logToStderr bool
		colorMode   string
	)

	cmd := &cobra.Command{
		Use:           "bfc [file.bf]",
		Short:         "Ahead-of-time brainfuck compiler",
		SilenceErrors: true,
		SilenceUsage:  true,
		Long: "bfc compiles brainfuck programs to native code through LLVM.\n" +
			"\n" +
			"The most common commands are:\n" +
			"\n" +
			"    bfc build hello.bf   : compile to an executable\n" +
			"    bfc run hello.bf     : run without producing native code\n" +
			"    bfc ir hello.bf      : print the generated LLVM IR\n" +
			"\n" +
			"\"bfc hello.bf\" is shorthand for \"bfc build hello.bf\".",
		Args: cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			InitLogging(logToStderr, verbose)

			switch colorMode {
			case "auto", "always", "never":
			default:
				return ConfigError(fmt.Sprintf("invalid --color %q", colorMode), "use auto, always or never")
			}
			if f, ok := cc.Stderr.(*os.File); ok {
				cc.Color = UseColor(colorMode, f)
			} else {
				cc.Color = colorMode == "always"
			}

			cfg, err := LoadConfig(cc.Fs, flags.Config)
			if err != nil {
				return ConfigError(err.Error(), "")
			}
			flags.Apply(&cfg, cmd.Flags())
			cc.Config = cfg
			glog.V(2).Infof("config: %s, -O%d, target %q", cfg.Machine(), cfg.OptLevel, cfg.Target)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case len(args) == 0:
				return cmd.Help()
			case len(args) == 1 && isSourceArg(cc.Fs, args[0]):
				return cmdBuild(cmd.Context(), cc, args[0], "", StageExecutable)
			}
			return ConfigError(fmt.Sprintf("unknown command %q", args[0]), "run 'bfc --help' for usage information")
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			glog.Flush()
		},
	}

	pf := cmd.PersistentFlags()
	flags.Bind(pf)
	pf.CountVarP(&verbose, "verbose", "v", "log verbosity (repeat for more detail)")
	pf.BoolVar(&logToStderr, "logtostderr", false, "log to stderr instead of to files")
	pf.StringVar(&colorMode, "color", "auto", "colorize diagnostics: auto, always or never")

	cmd.AddCommand(
		newBuildCmd(cc),
		newObjCmd(cc),
		newRunCmd(cc),
		newIRCmd(cc),
		newTokensCmd(cc),
		newWatchCmd(cc),
		newConfigCmd(cc),
		newVersionCmd(cc),
	)
	cmd.SetIn(cc.Stdin)
	cmd.SetOut(cc.Stdout)
	cmd.SetErr(cc.Stderr)
	return cmd
}

// execute runs the command line args and returns the process exit code
func execute(ctx context.Context, cc *CommandContext, args []string) int {
	cmd := NewBfcCmd(cc)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	glog.Flush()

	var ee *exitError
	if err != nil && !errors.As(err, &ee) {
		cc.Report(err)
	}
	return ExitCode(err)
}

func newStdContext(stdin io.Reader, stdout, stderr io.Writer) *CommandContext {
	return &CommandContext{
		Config: DefaultConfig(),
		Fs:     afero.NewOsFs(),
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, newStdContext(os.Stdin, os.Stdout, os.Stderr), os.Args[1:])
	stop()
	os.Exit(code)
}
