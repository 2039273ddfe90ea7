package command

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/codeaudit/cougaar-core-sub004/internal/cli/output"
	"github.com/codeaudit/cougaar-core-sub004/internal/config"
	"github.com/codeaudit/cougaar-core-sub004/internal/infra/confloader"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:    "config",
		Aliases: []string{"cfg"},
		Usage:   "Agent configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the effective configuration with secrets masked",
				Action: configShow,
			},
			{
				Name:      "validate",
				Usage:     "Validate a configuration file",
				ArgsUsage: "FILE",
				Action:    configValidate,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	tree := configTree(reflect.ValueOf(config.Sanitize(cfg)))

	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return render(c, tree)
	}
	t := &output.Table{Headers: []string{"KEY", "VALUE"}}
	flatten("", tree, t)
	return render(c, t)
}

func configValidate(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("configuration file path required")
	}
	cfg, err := confloader.LoadAgentConfig(path, nil)
	if err != nil {
		return err
	}
	if _, err := config.FrameOptions(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	fmt.Fprintf(writer(c), "%s: configuration is valid (agent %s, %d backends)\n",
		path, cfg.Agent.Name, len(cfg.Persistence.Backends))
	return nil
}

// configTree converts a config struct into nested maps keyed by koanf tags,
// the same keys the configuration file uses.
func configTree(v reflect.Value) any {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Type() == reflect.TypeOf(time.Duration(0)) {
		return time.Duration(v.Int()).String()
	}
	switch v.Kind() {
	case reflect.Struct:
		m := make(map[string]any, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			f := v.Type().Field(i)
			key := f.Tag.Get("koanf")
			if key == "" || !f.IsExported() {
				continue
			}
			m[key] = configTree(v.Field(i))
		}
		return m
	case reflect.Slice:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = configTree(v.Index(i))
		}
		return out
	default:
		return v.Interface()
	}
}

// flatten adds one row per leaf of tree, keyed by its dotted path.
func flatten(prefix string, tree any, t *output.Table) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch v := tree.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			flatten(join(k), v[k], t)
		}
	case []any:
		if len(v) == 0 {
			t.AddRow(prefix, "[]")
		}
		for i, e := range v {
			flatten(join(strconv.Itoa(i)), e, t)
		}
	default:
		s := fmt.Sprint(v)
		if s == "" {
			s = `""`
		}
		t.AddRow(prefix, s)
	}
}
