package command

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/codeaudit/cougaar-core-sub004/internal/config"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

// DeltaInfo describes one stored delta.
type DeltaInfo struct {
	Backend      string    `json:"backend" yaml:"backend"`
	Delta        int       `json:"delta" yaml:"delta"`
	Size         int       `json:"size" yaml:"size"`
	Version      uint8     `json:"version" yaml:"version"`
	Compression  string    `json:"compression" yaml:"compression"`
	Encrypted    bool      `json:"encrypted" yaml:"encrypted"`
	Cipher       string    `json:"cipher,omitempty" yaml:"cipher,omitempty"`
	Agent        string    `json:"agent" yaml:"agent"`
	Full         bool      `json:"full" yaml:"full"`
	Written      time.Time `json:"written" yaml:"written"`
	NextID       int32     `json:"next_id" yaml:"next_id"`
	Associations int       `json:"associations" yaml:"associations"`
	Payload      int       `json:"payload" yaml:"payload"`
	ClientData   []string  `json:"client_data" yaml:"client_data"`
}

// InspectCommand returns the inspect command.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the header and contents summary of a delta",
		ArgsUsage: "DELTA",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "header-only",
				Usage: "Only check the frame, do not decode the delta",
			},
		},
		Action: inspectDelta,
	}
}

func inspectDelta(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("inspect takes exactly one delta number")
	}
	n, err := strconv.Atoi(c.Args().First())
	if err != nil || n < 0 {
		return fmt.Errorf("invalid delta number %q", c.Args().First())
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	frame, err := config.FrameOptions(cfg)
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

	var infos []DeltaInfo
	for _, b := range bs {
		data, err := readDelta(ctx, b, n)
		if err != nil {
			if len(bs) > 1 {
				continue
			}
			return err
		}
		info, err := describe(b.Name(), n, data, frame, c.Bool("header-only"))
		if err != nil {
			return fmt.Errorf("%s: delta %d: %w", b.Name(), n, err)
		}
		infos = append(infos, info)
	}
	if len(infos) == 0 {
		return fmt.Errorf("delta %d not found", n)
	}
	if len(infos) == 1 {
		return render(c, infos[0])
	}
	return render(c, infos)
}

// describe validates the frame and, unless headerOnly, decodes the delta.
func describe(backend string, n int, data []byte, frame delta.FrameOptions, headerOnly bool) (DeltaInfo, error) {
	fi, err := delta.ReadFrameInfo(data)
	if err != nil {
		return DeltaInfo{}, err
	}
	info := DeltaInfo{
		Backend:     backend,
		Delta:       n,
		Size:        len(data),
		Version:     fi.Version,
		Compression: fi.Compression.String(),
		Encrypted:   fi.Encrypted,
		Cipher:      string(fi.Cipher),
	}
	if headerOnly {
		return info, nil
	}

	d, err := delta.Unmarshal(data, frame)
	if err != nil {
		return info, err
	}
	info.Agent = d.Meta.Agent
	info.Full = d.Meta.Full
	if d.Meta.Timestamp > 0 {
		info.Written = time.UnixMilli(d.Meta.Timestamp).UTC()
	}
	info.NextID = d.NextID
	info.Associations = len(d.Refs)
	info.Payload = len(d.Payload)
	for k := range d.ClientData {
		info.ClientData = append(info.ClientData, k)
	}
	slices.Sort(info.ClientData)
	return info, nil
}

func readDelta(ctx context.Context, b storage.Backend, n int) ([]byte, error) {
	r, err := b.OpenInput(ctx, n)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
