package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/codeaudit/cougaar-core-sub004/internal/cli/output"
	"github.com/codeaudit/cougaar-core-sub004/internal/config"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

// ErrVerifyFailed is returned when at least one delta fails verification.
var ErrVerifyFailed = errors.New("verification failed")

// VerifyResult is the outcome for one delta.
type VerifyResult struct {
	Backend string `json:"backend" yaml:"backend"`
	Set     string `json:"set" yaml:"set"`
	Delta   int    `json:"delta" yaml:"delta"`
	Full    bool   `json:"full" yaml:"full"`
	Size    int    `json:"size" yaml:"size" table:"wide"`
	Status  string `json:"status" yaml:"status"`
}

// OK reports whether the delta passed.
func (r VerifyResult) OK() bool { return r.Status == statusOK }

const statusOK = "ok"

// VerifyCommand returns the verify command.
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Decode every delta of the selected sets and check their metadata",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "suffix",
				Usage: "Only verify sets whose suffix starts with this",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "Show a progress bar on stderr",
			},
			&cli.BoolFlag{
				Name:  "failures",
				Usage: "Only list deltas that failed",
			},
		},
		Action: verifySets,
	}
}

func verifySets(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	frame, err := config.FrameOptions(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, 10*time.Minute)
	defer cancel()

	bs, err := openBackends(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer closeAll(bs)

	type work struct {
		b   storage.Backend
		set storage.SequenceNumbers
	}
	var todo []work
	total := 0
	for _, b := range bs {
		sets, err := b.ReadSequenceNumbers(ctx, c.String("suffix"))
		if err != nil {
			return err
		}
		for _, s := range sets {
			todo = append(todo, work{b, s})
			total += s.Len()
		}
	}

	var bar *output.ProgressBar
	if c.Bool("progress") {
		bar = output.NewProgressBar(errWriter(c), "verify", total)
	}

	results := []VerifyResult{}
	failed := 0
	for _, w := range todo {
		for _, r := range verifySet(ctx, w.b, w.set, cfg.Agent.Name, frame, bar) {
			if !r.OK() {
				failed++
			} else if c.Bool("failures") {
				continue
			}
			results = append(results, r)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	if err := render(c, results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d deltas", ErrVerifyFailed, failed, total)
	}
	return nil
}

// verifySet checks every delta of set s. The first delta must be full and
// each delta must carry its own number and the agent's name.
func verifySet(ctx context.Context, b storage.Backend, s storage.SequenceNumbers, agent string, frame delta.FrameOptions, bar *output.ProgressBar) []VerifyResult {
	out := make([]VerifyResult, 0, s.Len())
	for n := s.First; n < s.Current; n++ {
		r := VerifyResult{Backend: b.Name(), Set: setName(s), Delta: n, Status: statusOK}
		data, err := readDelta(ctx, b, n)
		r.Size = len(data)
		if err == nil {
			var d *delta.Delta
			d, err = delta.Unmarshal(data, frame)
			if err == nil {
				r.Full = d.Meta.Full
				err = checkMeta(d.Meta, n, agent, n == s.First)
			}
		}
		if err != nil {
			r.Status = err.Error()
		}
		if bar != nil {
			bar.Add(int64(len(data)))
		}
		out = append(out, r)
	}
	return out
}

func checkMeta(m delta.Meta, n int, agent string, first bool) error {
	switch {
	case m.Number != n:
		return fmt.Errorf("delta records number %d", m.Number)
	case m.Agent != agent:
		return fmt.Errorf("delta belongs to agent %q", m.Agent)
	case first && !m.Full:
		return fmt.Errorf("first delta of set is not full")
	}
	return nil
}

// setName renders s as [first,current) followed by its suffix.
func setName(s storage.SequenceNumbers) string {
	return fmt.Sprintf("[%d,%d)%s", s.First, s.Current, s.Suffix)
}
