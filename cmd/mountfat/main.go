// Command mountfat mounts a FAT12/FAT16/FAT32 image file and keeps it open
// under the scheme boundary until interrupted:
// `mountfat IMAGE_FILE [--uid N] [--gid N] [--mode OCTAL] [--readonly]`.
// The single positional argument is the image file; no mountpoint argument
// is taken.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/go-fatfs/fatfs/scheme"
	"github.com/go-fatfs/fatfs/volume"
)

func main() {
	app := &cli.App{
		Name:      "mountfat",
		Usage:     "Mount a FAT12/FAT16/FAT32 image file as a scheme-backed namespace",
		ArgsUsage: "IMAGE_FILE",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "uid", Value: 0, Usage: "owning uid reported by fstat"},
			&cli.UintFlag{Name: "gid", Value: 0, Usage: "owning gid reported by fstat"},
			&cli.StringFlag{Name: "mode", Value: "777", Usage: "mode bits reported by fstat, octal"},
			&cli.BoolFlag{Name: "readonly", Value: false, Usage: "mount without write permission"},
		},
		Action: runMount,
	}

	if err := app.Run(os.Args); err != nil {
		log.Printf("mountfat: %s", err.Error())
		os.Exit(1)
	}
}

func runMount(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("expected IMAGE_FILE argument", 1)
	}
	imagePath := c.Args().Get(0)

	mode, err := strconv.ParseUint(c.String("mode"), 8, 32)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --mode %q: %s", c.String("mode"), err), 1)
	}

	flag := os.O_RDWR
	if c.Bool("readonly") {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(imagePath, flag, 0)
	if err != nil {
		return cli.Exit(fmt.Sprintf("can't open %q: %s", imagePath, err), 1)
	}
	defer f.Close()

	v, err := volume.Mount(f, volume.Options{
		ReadOnly: c.Bool("readonly"),
		UID:      uint32(c.Uint("uid")),
		GID:      uint32(c.Uint("gid")),
		Mode:     uint32(mode),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("mount failed: %s", err), 1)
	}

	// sch is the handle-table boundary a kernel scheme transport would drive;
	// wiring that transport is outside the core's scope (spec §6). Opening
	// the root here is just a sanity check that the mount is usable before
	// this command blocks waiting to be told to unmount.
	sch := scheme.New("fat", v)
	rootID, err := sch.Open("/", scheme.Directory, uint32(c.Uint("uid")), uint32(c.Uint("gid")))
	if err != nil {
		return cli.Exit(fmt.Sprintf("root sanity check failed: %s", err), 1)
	}
	_ = sch.Close(rootID)

	log.Printf("mountfat: mounted %q (uid=%d gid=%d mode=%o)", imagePath, c.Uint("uid"), c.Uint("gid"), mode)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Printf("mountfat: unmounting %q", imagePath)
	if err := v.Unmount(); err != nil {
		return cli.Exit(fmt.Sprintf("unmount failed: %s", err), 1)
	}
	return nil
}
