// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Command retroimgctl is the command-line front end spec.md explicitly
// places outside the core library as an external collaborator: probing,
// listing, reading, extracting, scanning, formatting, and serving a
// vintage disk image over WebDAV.
package main

import (
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/goldenapple/retroimg"
	"github.com/goldenapple/retroimg/internal/rofsview"
	"github.com/goldenapple/retroimg/internal/webdavfs"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "probe":
		err = cmdProbe(os.Args[2:])
	case "ls":
		err = cmdLs(os.Args[2:])
	case "cat":
		err = cmdCat(os.Args[2:])
	case "extract":
		err = cmdExtract(os.Args[2:])
	case "scan":
		err = cmdScan(os.Args[2:])
	case "format":
		err = cmdFormat(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "retroimgctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: retroimgctl <command> [args]

commands:
  probe   <image>                       identify a disk image's format
  ls      <image> [path]                list a directory
  cat     <image> <path>                write a file's data fork to stdout
  extract <image> <dest-dir> [--glob g] extract matching files to dest-dir
  scan    <image>                       walk every entry, reporting damage
  format  <image> <hfs|prodos|cpm|pascal> <volname>  lay down an empty volume
  serve   [--cache dir] <image> <addr>  serve the image read-only over WebDAV`)
}

func openImage(imagePath string) (*retroimg.Filesystem, retroimg.Format, func() error, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, 0, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, nil, err
	}
	dev := retroimg.NewBlockImage(f, nil, st.Size())
	vol, format, err := retroimg.Probe(dev)
	if err != nil {
		f.Close()
		return nil, 0, nil, err
	}
	return vol, format, f.Close, nil
}

func cmdProbe(args []string) error {
	flagSet := flag.NewFlagSet("probe", flag.ExitOnError)
	flagSet.Parse(args)
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: retroimgctl probe <image>")
	}
	vol, format, closeFn, err := openImage(flagSet.Arg(0))
	if err != nil {
		return err
	}
	defer closeFn()
	name, err := vol.VolumeName()
	if err != nil {
		return err
	}
	fmt.Printf("format=%v volume=%q\n", formatName(format), name)
	for _, n := range vol.Notes().All() {
		fmt.Printf("note: %s: %s\n", n.Severity, n.Message)
	}
	return nil
}

func cmdLs(args []string) error {
	flagSet := flag.NewFlagSet("ls", flag.ExitOnError)
	flagSet.Parse(args)
	if flagSet.NArg() < 1 {
		return fmt.Errorf("usage: retroimgctl ls <image> [path]")
	}
	dir := "."
	if flagSet.NArg() >= 2 {
		dir = flagSet.Arg(1)
	}

	vol, _, closeFn, err := openImage(flagSet.Arg(0))
	if err != nil {
		return err
	}
	defer closeFn()

	view, err := rofsview.New(vol)
	if err != nil {
		return err
	}
	entries, err := iofsReadDir(view, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		info, _ := e.Info()
		size := int64(0)
		if info != nil {
			size = info.Size()
		}
		kind := "-"
		if e.IsDir() {
			kind = "d"
		}
		fmt.Printf("%s %10d  %s\n", kind, size, e.Name())
	}
	return nil
}

func iofsReadDir(fsys fs.FS, dir string) ([]fs.DirEntry, error) {
	return fs.ReadDir(fsys, dir)
}

func cmdCat(args []string) error {
	flagSet := flag.NewFlagSet("cat", flag.ExitOnError)
	flagSet.Parse(args)
	if flagSet.NArg() != 2 {
		return fmt.Errorf("usage: retroimgctl cat <image> <path>")
	}

	vol, _, closeFn, err := openImage(flagSet.Arg(0))
	if err != nil {
		return err
	}
	defer closeFn()

	view, err := rofsview.New(vol)
	if err != nil {
		return err
	}
	f, err := view.Open(flagSet.Arg(1))
	if err != nil {
		return err
	}
	defer f.Close()
	if info, ierr := f.Stat(); ierr == nil && info.IsDir() {
		return fmt.Errorf("retroimgctl: cat: %s is a directory", flagSet.Arg(1))
	}
	_, err = io.Copy(os.Stdout, f.(io.Reader))
	return err
}

func cmdExtract(args []string) error {
	flagSet := flag.NewFlagSet("extract", flag.ExitOnError)
	glob := flagSet.String("glob", "**", "doublestar glob of paths to extract")
	flagSet.Parse(args)
	if flagSet.NArg() != 2 {
		return fmt.Errorf("usage: retroimgctl extract <image> <dest-dir> [--glob g]")
	}

	vol, _, closeFn, err := openImage(flagSet.Arg(0))
	if err != nil {
		return err
	}
	defer closeFn()

	view, err := rofsview.New(vol)
	if err != nil {
		return err
	}
	dest := flagSet.Arg(1)

	return fs.WalkDir(view, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		if !doublestar.MatchUnvalidated(*glob, p) {
			return nil
		}
		out := path.Join(dest, p)
		if d.IsDir() {
			return os.MkdirAll(out, 0o755)
		}
		if err := os.MkdirAll(path.Dir(out), 0o755); err != nil {
			return err
		}
		src, err := view.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		dst, err := os.Create(out)
		if err != nil {
			return err
		}
		defer dst.Close()
		_, err = io.Copy(dst, src.(io.Reader))
		return err
	})
}

func cmdScan(args []string) error {
	flagSet := flag.NewFlagSet("scan", flag.ExitOnError)
	flagSet.Parse(args)
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: retroimgctl scan <image>")
	}
	vol, _, closeFn, err := openImage(flagSet.Arg(0))
	if err != nil {
		return err
	}
	defer closeFn()

	view, err := rofsview.New(vol)
	if err != nil {
		return err
	}
	count := 0
	walkErr := fsWalkDir(view, func(p string, derr error) {
		count++
		if derr != nil {
			fmt.Printf("damaged: %s: %v\n", p, derr)
		}
	})
	if walkErr != nil {
		return walkErr
	}
	fmt.Printf("scanned %d entries, dubious=%v\n", count, vol.IsDubious())
	for _, n := range vol.Notes().All() {
		fmt.Printf("note: %s: %s\n", n.Severity, n.Message)
	}
	return nil
}

func fsWalkDir(fsys fs.FS, report func(path string, err error)) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		report(p, err)
		return nil // keep walking past a damaged entry (spec §7: "keep what we have")
	})
}

func cmdFormat(args []string) error {
	flagSet := flag.NewFlagSet("format", flag.ExitOnError)
	flagSet.Parse(args)
	if flagSet.NArg() != 3 {
		return fmt.Errorf("usage: retroimgctl format <image> <hfs|prodos|cpm|pascal> <volname>")
	}

	format, err := parseFormat(flagSet.Arg(1))
	if err != nil {
		return err
	}

	f, err := os.OpenFile(flagSet.Arg(0), os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	dev := retroimg.NewBlockImage(f, f, st.Size())
	return retroimg.FormatVolume(dev, format, flagSet.Arg(2))
}

func cmdServe(args []string) error {
	flagSet := flag.NewFlagSet("serve", flag.ExitOnError)
	cacheDir := flagSet.String("cache", "", "directory for a persistent HFS B*-tree node cache (pebble), shared across restarts")
	flagSet.Parse(args)
	if flagSet.NArg() != 2 {
		return fmt.Errorf("usage: retroimgctl serve [--cache dir] <image> <addr>")
	}

	if *cacheDir != "" {
		cache, err := retroimg.OpenNodeCache(*cacheDir)
		if err != nil {
			return fmt.Errorf("opening node cache: %w", err)
		}
		defer cache.Close()
		retroimg.SetHFSNodeCache(cache)
		defer retroimg.SetHFSNodeCache(nil)
	}

	vol, _, closeFn, err := openImage(flagSet.Arg(0))
	if err != nil {
		return err
	}
	defer closeFn()

	view, err := rofsview.New(vol)
	if err != nil {
		return err
	}

	h := &webdavfs.Handler{
		FS: view,
		Logger: func(r *http.Request, err error) {
			if err != nil {
				slog.Error("webdav request failed", "method", r.Method, "path", r.URL.Path, "error", err)
			}
		},
	}
	slog.Info("serving", "addr", flagSet.Arg(1))
	return http.ListenAndServe(flagSet.Arg(1), h)
}

func formatName(f retroimg.Format) string {
	switch f {
	case retroimg.HFS:
		return "hfs"
	case retroimg.ProDOS:
		return "prodos"
	case retroimg.CPM:
		return "cpm"
	case retroimg.Pascal:
		return "pascal"
	default:
		return "unknown"
	}
}

func parseFormat(s string) (retroimg.Format, error) {
	switch strings.ToLower(s) {
	case "hfs":
		return retroimg.HFS, nil
	case "prodos":
		return retroimg.ProDOS, nil
	case "cpm":
		return retroimg.CPM, nil
	case "pascal":
		return retroimg.Pascal, nil
	default:
		return 0, fmt.Errorf("unknown format %q", s)
	}
}
