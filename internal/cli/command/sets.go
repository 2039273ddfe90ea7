package command

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

// SetRow is one sequence set in the sets listing.
type SetRow struct {
	Backend   string    `json:"backend" yaml:"backend"`
	Suffix    string    `json:"suffix" yaml:"suffix"`
	First     int       `json:"first" yaml:"first"`
	Current   int       `json:"current" yaml:"current"`
	Deltas    int       `json:"deltas" yaml:"deltas"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Archived  bool      `json:"archived" yaml:"archived" table:"wide"`
}

// SetsCommand returns the sets command.
func SetsCommand() *cli.Command {
	return &cli.Command{
		Name:    "sets",
		Aliases: []string{"ls"},
		Usage:   "List sequence sets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "suffix",
				Usage: "Only list sets whose suffix starts with this",
			},
		},
		Action: listSets,
	}
}

func listSets(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	bs, err := openBackends(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer closeAll(bs)

	rows := []SetRow{}
	for _, b := range bs {
		sets, err := b.ReadSequenceNumbers(ctx, c.String("suffix"))
		if err != nil {
			return err
		}
		for _, s := range sets {
			rows = append(rows, setRow(b.Name(), s))
		}
	}
	sortSets(rows)
	return render(c, rows)
}

func setRow(backend string, s storage.SequenceNumbers) SetRow {
	r := SetRow{
		Backend:  backend,
		Suffix:   s.Suffix,
		First:    s.First,
		Current:  s.Current,
		Deltas:   s.Len(),
		Archived: s.Archived(),
	}
	if s.Timestamp > 0 {
		r.Timestamp = time.UnixMilli(s.Timestamp).UTC()
	}
	return r
}

// sortSets orders rows by backend, current set first, then archives by
// first delta.
func sortSets(rows []SetRow) {
	slices.SortStableFunc(rows, func(a, b SetRow) int {
		if c := strings.Compare(a.Backend, b.Backend); c != 0 {
			return c
		}
		if a.Archived != b.Archived {
			if a.Archived {
				return 1
			}
			return -1
		}
		return a.First - b.First
	})
}
