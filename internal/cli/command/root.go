package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/codeaudit/cougaar-core-sub004/internal/cli/output"
	"github.com/codeaudit/cougaar-core-sub004/internal/config"
	"github.com/codeaudit/cougaar-core-sub004/internal/infra/buildinfo"
	"github.com/codeaudit/cougaar-core-sub004/internal/infra/confloader"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/backends"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "ckptctl",
		Usage:   "Inspect and verify agent checkpoints",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			SetsCommand(),
			InspectCommand(),
			VerifyCommand(),
			ConfigCommand(),
		},
	}
}

// globalFlags returns the global CLI flags. Environment variables use the
// CKPTCTL_ prefix so they never collide with the agent's CKPT_ settings.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Agent configuration file",
			EnvVars: []string{"CKPTCTL_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "agent",
			Aliases: []string{"a"},
			Usage:   "Agent name (overrides agent.name)",
			EnvVars: []string{"CKPTCTL_AGENT"},
		},
		&cli.StringFlag{
			Name:    "backend",
			Aliases: []string{"b"},
			Usage:   "Only use the named backend",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Config  string
	Agent   string
	Backend string
	Output  string
	Wide    bool
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Config:  c.String("config"),
		Agent:   c.String("agent"),
		Backend: c.String("backend"),
		Output:  c.String("output"),
		Wide:    c.Bool("wide"),
	}
}

// loadConfig loads the agent configuration named by the global flags.
func loadConfig(c *cli.Context) (*config.AgentConfig, error) {
	flags := ParseGlobalFlags(c)
	overrides := make(map[string]any)
	if flags.Agent != "" {
		overrides["agent.name"] = flags.Agent
	}
	cfg, err := confloader.LoadAgentConfig(flags.Config, overrides)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openBackends opens the configured backends, or only the one selected by
// --backend. The caller closes them.
func openBackends(ctx context.Context, c *cli.Context, cfg *config.AgentConfig) ([]storage.Backend, error) {
	want := ParseGlobalFlags(c).Backend
	opts := storage.Options{
		Agent:   cfg.Agent.Name,
		DisableArchive: cfg.Persistence.DisableArchive,
		Logger:  slog.New(slog.DiscardHandler),
	}

	var out []storage.Backend
	for _, bc := range cfg.Persistence.Backends {
		if want != "" && bc.DisplayName() != want {
			continue
		}
		b, err := backends.Open(ctx, bc, opts, nil)
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("backend %s: %w", bc.DisplayName(), err)
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		if want != "" {
			return nil, fmt.Errorf("no backend named %q", want)
		}
		return nil, fmt.Errorf("no backends configured")
	}
	return out, nil
}

func closeAll(bs []storage.Backend) {
	for _, b := range bs {
		b.Close()
	}
}

// render writes data in the format chosen by --output.
func render(c *cli.Context, data any) error {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}
	return output.NewFormatter(format, flags.Wide).Format(writer(c), data)
}

func writer(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
