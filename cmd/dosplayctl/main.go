// dosplayctl manages dosplay save files outside a running game.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"dosplay/internal/cloudsync"
	"dosplay/internal/config"
	"dosplay/internal/store"
)

var (
	configPath = flag.String("config", "", "path to config file")
	modName    = flag.String("mod", "", "game whose save file is managed (overrides game.mod)")
	assumeYes  = flag.Bool("y", false, "answer yes to every confirmation")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage(os.Stderr)
		os.Exit(1)
	}

	c := &ctl{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr, yes: *assumeYes}
	if err := c.run(context.Background(), flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "dosplayctl: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `dosplayctl - Save file utility for dosplay

Usage: dosplayctl [options] <command> [args]

Commands:
  init [path]       Write a default config file
  status            Show the stored files of the game
  export [file]     Write the stored save file to file or stdout
  import <file>     Replace the stored save file
  reset             Delete the stored save file
  push              Upload the stored save file to the cloud folder
  pull              Replace the stored save file with the cloud copy
  help              Show this help message

Options:
  -config <path>  Path to config file
  -mod <name>     Game to manage
  -y              Do not ask before overwriting`)
}

type ctl struct {
	stdin          io.Reader
	stdout, stderr io.Writer
	yes            bool
	cfg            *config.Config
	ask            cloudsync.ConfirmFunc
}

func (c *ctl) run(ctx context.Context, args []string) error {
	cmd := args[0]
	switch cmd {
	case "help":
		usage(c.stdout)
		return nil
	case "init":
		path := config.ConfigPath()
		if *configPath != "" {
			path = *configPath
		}
		if len(args) > 1 {
			path = args[1]
		}
		return c.init(path)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *modName != "" {
		cfg.Game.Mod = *modName
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	switch cmd {
	case "status":
		return c.status(ctx)
	case "export":
		out := ""
		if len(args) > 1 {
			out = args[1]
		}
		return c.export(ctx, out)
	case "import":
		if len(args) < 2 {
			return errors.New("usage: dosplayctl import <file>")
		}
		return c.importSave(ctx, args[1])
	case "reset":
		return c.reset(ctx)
	case "push", "pull":
		return c.sync(ctx, cmd)
	default:
		usage(c.stderr)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (c *ctl) init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Wrote %s\n", path)
	return nil
}

func (c *ctl) open(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, c.cfg.Storage.Dir, c.cfg.Game.Mod, c.cfg.Storage.Version)
}

// confirm returns the ConfirmFunc shared by every question, so answers
// buffered from stdin are not lost between them.
func (c *ctl) confirm() cloudsync.ConfirmFunc {
	if c.ask == nil {
		if c.yes {
			c.ask = cloudsync.Always()
		} else {
			c.ask = cloudsync.Prompt(c.stdin, c.stderr)
		}
	}
	return c.ask
}

func (c *ctl) status(ctx context.Context) error {
	st, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Fprintf(c.stdout, "Game:      %s\n", c.cfg.Game.Mod)
	fmt.Fprintf(c.stdout, "Store:     %s (version %d)\n", st.Path(), st.Version())
	fmt.Fprintf(c.stdout, "Save file: %s\n", c.cfg.Game.SaveFile)
	if c.cfg.Sync.Enabled {
		fmt.Fprintf(c.stdout, "Cloud:     %s\n", c.cfg.Sync.Folder)
	}

	files, err := st.List(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout)
	if len(files) == 0 {
		fmt.Fprintln(c.stdout, "No stored files")
		return nil
	}
	for _, f := range files {
		fmt.Fprintf(c.stdout, "  %-16s %8s  %s  %s\n",
			f.Key, formatBytes(f.Size), f.UpdatedAt.Local().Format(time.DateTime), f.DigestHex()[:16])
	}
	return nil
}

func (c *ctl) export(ctx context.Context, out string) error {
	st, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	data, err := st.Load(ctx, c.cfg.Game.SaveFile)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("no stored save file for %s", c.cfg.Game.Mod)
	}
	if out == "" || out == "-" {
		_, err = c.stdout.Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(c.stderr, "Exported %s to %s\n", c.cfg.Game.SaveFile, out)
	return nil
}

func (c *ctl) importSave(ctx context.Context, in string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("read import: %w", err)
	}
	st, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	existing, err := st.Load(ctx, c.cfg.Game.SaveFile)
	if err != nil {
		return err
	}
	if existing != nil && store.Digest(existing) != store.Digest(data) &&
		!c.confirm()(ctx, "Replace the stored save file?") {
		return cloudsync.ErrDeclined
	}
	if err := st.Save(ctx, c.cfg.Game.SaveFile, data); err != nil {
		return err
	}
	fmt.Fprintf(c.stderr, "Imported %s (%s)\n", in, formatBytes(int64(len(data))))
	return nil
}

func (c *ctl) reset(ctx context.Context) error {
	st, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if !c.confirm()(ctx, "Delete the stored save file?") {
		return cloudsync.ErrDeclined
	}
	if err := st.Delete(ctx, c.cfg.Game.SaveFile); err != nil {
		return err
	}
	fmt.Fprintln(c.stderr, "Stored save file deleted")
	return nil
}

func (c *ctl) sync(ctx context.Context, dir string) error {
	if c.cfg.Sync.Folder == "" {
		return errors.New("no cloud folder configured (sync.folder)")
	}
	remote, err := cloudsync.NewFolder(c.cfg.Sync.Folder)
	if err != nil {
		return err
	}
	st, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	s := &cloudsync.Syncer{
		Remote:   remote,
		Local:    st,
		Mod:      c.cfg.Game.Mod,
		SaveFile: c.cfg.Game.SaveFile,
		Confirm:  c.confirm(),
	}
	if dir == "push" {
		err = s.Push(ctx)
	} else {
		err = s.Pull(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stderr, "%s %s done\n", s.Path(), dir)
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
