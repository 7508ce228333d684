// Command fatutil is a thin inspector CLI over the FAT core: it is glue,
// not the hard part (specification §1), built the same way
// dargueta-disko/cmd's image-management CLI is: a urfave/cli/v2 app
// dispatching to one function per subcommand.
package main

import (
	"bytes"
	"fmt"
	"log"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"github.com/gofat/fatfs/blockdev"
	"github.com/gofat/fatfs/fat"
)

func main() {
	app := &cli.App{
		Name:  "fatutil",
		Usage: "inspect and manipulate FAT16/FAT32 disk images",
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "print volume geometry",
				ArgsUsage: "IMAGE",
				Action:    infoCmd,
			},
			{
				Name:      "ls",
				Usage:     "list a directory",
				ArgsUsage: "IMAGE PATH",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Value: "table", Usage: "table or csv"},
				},
				Action: lsCmd,
			},
			{
				Name:      "cat",
				Usage:     "print a file's contents to stdout",
				ArgsUsage: "IMAGE PATH",
				Action:    catCmd,
			},
			{
				Name:      "fsck",
				Usage:     "scan the volume for lost clusters and checksum mismatches",
				ArgsUsage: "IMAGE",
				Action:    fsckCmd,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatutil: %s", err)
	}
}

func openVolume(path string) (*fat.FS, func(), error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		f, err = os.Open(path)
		if err != nil {
			return nil, nil, err
		}
	}
	dev := blockdev.NewStreamDevice(f)
	fs, err := fat.Attach(dev, nil, 0)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return fs, func() {
		fs.Shutdown()
		f.Close()
	}, nil
}

func infoCmd(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return cli.Exit("usage: fatutil info IMAGE", 1)
	}
	fs, closeFn, err := openVolume(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer closeFn()

	v := fs.Volume()
	fmt.Printf("type:                %s\n", v.FATType)
	fmt.Printf("bytes per sector:    %d\n", v.BytesPerSector)
	fmt.Printf("sectors per cluster: %d\n", v.SectorsPerCluster)
	fmt.Printf("total data clusters: %d\n", v.TotalDataClusters)
	fmt.Printf("FAT begin LBA:       %d\n", v.FATBeginLBA)
	fmt.Printf("cluster begin LBA:   %d\n", v.ClusterBeginLBA)
	return nil
}

// csvDirEntry is the gocsv-tagged row shape for `ls --format=csv`, the
// same csv-struct-tag pattern dargueta-disko's disks.DiskGeometry uses
// with gocsv.
type csvDirEntry struct {
	LongName  string `csv:"long_name"`
	ShortName string `csv:"short_name"`
	IsDir     bool   `csv:"is_dir"`
	Size      uint32 `csv:"size"`
}

func lsCmd(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: fatutil ls IMAGE PATH", 1)
	}
	fs, closeFn, err := openVolume(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer closeFn()

	dir, err := fs.OpenDir(c.Args().Get(1))
	if err != nil {
		return err
	}
	defer fs.CloseDir(dir)

	var entries []DirEntryLike
	for {
		e, ok := dir.ReadDir()
		if !ok {
			break
		}
		entries = append(entries, DirEntryLike(e))
	}

	if c.String("format") == "csv" {
		rows := make([]*csvDirEntry, len(entries))
		for i, e := range entries {
			rows[i] = &csvDirEntry{
				LongName:  e.LongName,
				ShortName: e.ShortName,
				IsDir:     e.IsDir(),
				Size:      e.Size,
			}
		}
		out, err := gocsv.MarshalString(rows)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	for _, e := range entries {
		kind := "-"
		if e.IsDir() {
			kind = "d"
		}
		fmt.Printf("%s %10d  %-12s %s\n", kind, e.Size, e.ShortName, e.LongName)
	}
	return nil
}

// DirEntryLike avoids importing fat.DirEntry twice under two names; it is
// a type alias for readability at call sites in this file.
type DirEntryLike = fat.DirEntry

func catCmd(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: fatutil cat IMAGE PATH", 1)
	}
	fs, closeFn, err := openVolume(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer closeFn()

	f, err := fs.Open(c.Args().Get(1), "r")
	if err != nil {
		return err
	}
	defer fs.Close(f)

	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, err := fs.Read(f, chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}
	os.Stdout.Write(buf.Bytes())
	return nil
}

func fsckCmd(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return cli.Exit("usage: fatutil fsck IMAGE", 1)
	}
	fs, closeFn, err := openVolume(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := fs.Volume().Check()
	fmt.Printf("reachable clusters: %d\n", len(report.ReachableClusters))
	if len(report.LostClusters) > 0 {
		fmt.Printf("lost clusters (%d): %v\n", len(report.LostClusters), report.LostClusters)
	}
	if err != nil {
		fmt.Printf("inconsistencies found:\n%s\n", err)
		return cli.Exit("fsck found inconsistencies", 1)
	}
	fmt.Println("no inconsistencies found")
	return nil
}
