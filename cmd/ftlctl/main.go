// Command ftlctl drives a goftl-backed NAND image from the command
// line: format a fresh image file, mount and inspect one, run a small
// read/write benchmark against it, or serve its live stats over a
// websocket for a dashboard to poll.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/k0kubun/pp"

	"github.com/goftl/goftl/conf"
	"github.com/goftl/goftl/device"
	"github.com/goftl/goftl/ftl"
	"github.com/goftl/goftl/internal/flog"
	"github.com/goftl/goftl/lld"
)

const help = `ftlctl - inspect and exercise a goftl-managed NAND image

Usage:
  ftlctl format  -image PATH -profile NAME [-catalog PATH] [-config PATH]
  ftlctl inspect -image PATH -profile NAME [-catalog PATH] [-config PATH]
  ftlctl bench   -image PATH -profile NAME [-config PATH] [-pages N]
  ftlctl serve   -image PATH -profile NAME [-config PATH] [-addr :8090]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(help)
		os.Exit(1)
	}
	sub := os.Args[1]
	args := os.Args[2:]

	var err error
	switch sub {
	case "format":
		err = runFormat(args)
	case "inspect":
		err = runInspect(args)
	case "bench":
		err = runBench(args)
	case "serve":
		err = runServe(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(help)
		return
	default:
		fmt.Fprintf(os.Stderr, "ftlctl: unknown subcommand %q\n\n%s", sub, help)
		os.Exit(1)
	}
	if err != nil {
		flog.Errorf("ftlctl: %s: %v", sub, err)
		os.Exit(1)
	}
}

// commonFlags is the flag set shared by every subcommand.
type commonFlags struct {
	image      string
	profile    string
	catalog    string
	configPath string
}

func bindCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.image, "image", "", "path to the backing image file")
	fs.StringVar(&c.profile, "profile", "", "device profile name from the catalog")
	fs.StringVar(&c.catalog, "catalog", "", "path to a device catalog YAML file (defaults built in)")
	fs.StringVar(&c.configPath, "config", "", "path to an ftl.ini tunables file (defaults built in)")
	return c
}

func (c *commonFlags) resolve() (device.Info, conf.Tunables, error) {
	if c.image == "" {
		return device.Info{}, conf.Tunables{}, fmt.Errorf("-image is required")
	}
	cat, err := conf.LoadCatalog(c.catalog)
	if err != nil {
		return device.Info{}, conf.Tunables{}, err
	}
	profileName := c.profile
	if profileName == "" && len(cat.Devices) > 0 {
		profileName = cat.Devices[0].Name
	}
	p, ok := cat.Find(profileName)
	if !ok {
		return device.Info{}, conf.Tunables{}, fmt.Errorf("unknown device profile %q", profileName)
	}
	tun, err := conf.Load(c.configPath)
	if err != nil {
		return device.Info{}, conf.Tunables{}, err
	}
	flog.Init(flog.Config{InfoLogPath: tun.InfoLogPath, ErrorLogPath: tun.ErrorLogPath, Level: tun.LogLevel})
	dev := device.Info{
		TotalBlocks:          p.TotalBlocks,
		PagesPerBlock:        p.PagesPerBlock,
		PageDataSize:         p.PageDataSize,
		PageSpareSize:        p.PageSpareSize,
		ECCBytesPerSector:    p.ECCBytesPerSector,
		SpareSkipBytes:       p.SpareSkipBytes,
		MLC:                  p.MLC,
		SpectraStartBlock:    0,
		SpectraEndBlock:      p.TotalBlocks - 1,
		SupportLargeBlockNum: tun.SupportLargeBlockNum,
	}
	return dev, tun, nil
}

func openFtl(c *commonFlags, direct bool) (*ftl.Ftl, lld.Port, device.Info, error) {
	dev, tun, err := c.resolve()
	if err != nil {
		return nil, nil, device.Info{}, err
	}
	port, err := lld.OpenSimFile(c.image, dev, direct)
	if err != nil {
		return nil, nil, device.Info{}, err
	}
	f, err := ftl.New(port, dev, tun)
	if err != nil {
		port.Close()
		return nil, nil, device.Info{}, err
	}
	return f, port, dev, nil
}

func runFormat(args []string) error {
	fs := flag.NewFlagSet("format", flag.ExitOnError)
	c := bindCommon(fs)
	fs.Parse(args)

	f, port, _, err := openFtl(c, false)
	if err != nil {
		return err
	}
	defer port.(*lld.SimFile).Close()

	ctx := context.Background()
	if err := f.FlashFormat(ctx); err != nil {
		return err
	}
	if err := f.FlashRelease(ctx); err != nil {
		return err
	}
	fmt.Printf("formatted %s\n", c.image)
	return nil
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	c := bindCommon(fs)
	fs.Parse(args)

	f, port, _, err := openFtl(c, false)
	if err != nil {
		return err
	}
	defer port.(*lld.SimFile).Close()

	ctx := context.Background()
	if err := f.Init(ctx); err != nil {
		return err
	}
	pp.Println(f.IdentifyDevice())
	pp.Println(f.Stats())
	fmt.Printf("block table: %d bytes, wear table: %d bytes\n", f.BlockTableBytes(), f.WearTableBytes())
	return nil
}

func runBench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	c := bindCommon(fs)
	pages := fs.Int("pages", 256, "number of pages to write then read back")
	fs.Parse(args)

	f, port, dev, err := openFtl(c, false)
	if err != nil {
		return err
	}
	defer port.(*lld.SimFile).Close()

	ctx := context.Background()
	if err := f.Init(ctx); err != nil {
		return err
	}

	beforeCPU, beforeMem := hostSnapshot()

	page := make([]byte, dev.PageDataSize)
	for i := range page {
		page[i] = byte(i)
	}

	// Logical block 0 (BlockTableIndex) is reserved for the block table
	// itself, so the benchmark starts one block in.
	base := uint64(dev.BlockSize())

	start := time.Now()
	for i := 0; i < *pages; i++ {
		addr := base + uint64(i)*uint64(dev.PageDataSize)
		if err := f.PageWrite(ctx, addr, page); err != nil {
			return err
		}
	}
	if err := f.FlushCache(ctx); err != nil {
		return err
	}
	writeElapsed := time.Since(start)

	start = time.Now()
	for i := 0; i < *pages; i++ {
		addr := base + uint64(i)*uint64(dev.PageDataSize)
		if _, err := f.PageRead(ctx, addr); err != nil {
			return err
		}
	}
	readElapsed := time.Since(start)

	afterCPU, afterMem := hostSnapshot()

	fmt.Printf("wrote %d pages in %s, read back in %s\n", *pages, writeElapsed, readElapsed)
	fmt.Printf("host CPU%%: %.1f -> %.1f, used mem: %d -> %d bytes\n", beforeCPU, afterCPU, beforeMem, afterMem)
	pp.Println(f.Stats())
	return nil
}
