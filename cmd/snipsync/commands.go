package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/catalog"
	"github.com/solwind/snipsync/internal/editor"
	"github.com/solwind/snipsync/internal/mount"
	"github.com/solwind/snipsync/internal/seed"
)

func (a *app) tree(ctx context.Context) error {
	if _, err := a.session.Refresh(ctx); err != nil {
		return err
	}
	printTree(a.stdout, a.session.Tree)
	return nil
}

type navigator interface {
	RootNodes() []catalog.Node
	Children(key string) []catalog.Node
}

func printTree(w io.Writer, nav navigator) {
	var walk func(nodes []catalog.Node, depth int)
	walk = func(nodes []catalog.Node, depth int) {
		indent := strings.Repeat("  ", depth)
		for _, n := range nodes {
			if n.Expandable() {
				fmt.Fprintf(w, "%s%s/ (%d)\n", indent, n.Label, n.SnippetCount)
				walk(nav.Children(n.Key), depth+1)
				continue
			}
			fmt.Fprintf(w, "%s%s  %s  [%s]\n", indent, n.Label, n.Name, n.ID)
		}
	}
	walk(nav.RootNodes(), 0)
}

func (a *app) show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return a.usageError("usage: snipsync show <id>")
	}
	if _, err := a.session.Refresh(ctx); err != nil {
		return err
	}
	s, err := a.session.Tree.Open(ctx, catalog.Key(catalog.KindSnippet, args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "id:          %s\n", s.ID)
	fmt.Fprintf(a.stdout, "label:       %s\n", s.Label)
	fmt.Fprintf(a.stdout, "name:        %s\n", s.Name)
	fmt.Fprintf(a.stdout, "description: %s\n", s.Description)
	fmt.Fprintf(a.stdout, "category:    %s\n", s.CategoryID)
	if s.SubcategoryID != "" {
		fmt.Fprintf(a.stdout, "subcategory: %s\n", s.SubcategoryID)
	}
	fmt.Fprintf(a.stdout, "\n%s\n", s.InsertText)
	return nil
}

func (a *app) search(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.usageError("usage: snipsync search <term>")
	}
	completions, err := a.session.Matcher.Match(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if len(completions) == 0 {
		fmt.Fprintln(a.stdout, "no matches")
		return nil
	}
	for _, c := range completions {
		fmt.Fprintf(a.stdout, "%s\t%s\n", c.Label, c.Detail)
	}
	return nil
}

// draftFlags binds the snippet form fields to a flag set.
type draftFlags struct {
	name, label, description, category, subcategory, text, file *string
}

func newDraftFlags(fs *flag.FlagSet) draftFlags {
	return draftFlags{
		name:        fs.String("name", "", "display name"),
		label:       fs.String("label", "", "completion label"),
		description: fs.String("description", "", "description"),
		category:    fs.String("category", "", "category id"),
		subcategory: fs.String("subcategory", "", `subcategory id, or "none"`),
		text:        fs.String("text", "", "insert text"),
		file:        fs.String("file", "", `read insert text from a file ("-" for stdin)`),
	}
}

// apply copies every flag that was set onto d.
func (f draftFlags) apply(fs *flag.FlagSet, d *editor.Draft, stdin io.Reader) error {
	var err error
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "name":
			d.Name = *f.name
		case "label":
			d.Label = *f.label
		case "description":
			d.Description = *f.description
		case "category":
			d.CategoryID = *f.category
		case "subcategory":
			d.Subcategory = subcategoryChoice(*f.subcategory)
		case "text":
			d.InsertText = *f.text
		case "file":
			var data []byte
			if *f.file == "-" {
				data, err = io.ReadAll(stdin)
			} else {
				data, err = os.ReadFile(*f.file)
			}
			d.InsertText = string(data)
		}
	})
	return err
}

func subcategoryChoice(raw string) editor.SubcategoryChoice {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "none") {
		return editor.NoSubcategory()
	}
	return editor.InSubcategory(raw)
}

func (a *app) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fields := newDraftFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.session.Refresh(ctx); err != nil {
		return err
	}
	draft := editor.Draft{Subcategory: editor.NoSubcategory()}
	if err := fields.apply(fs, &draft, a.stdin); err != nil {
		return err
	}
	res, err := a.session.Editor.CreateSnippet(ctx, draft)
	if err != nil {
		return err
	}
	a.reportRefresh(res.RefreshErr)
	fmt.Fprintf(a.stdout, "created %s %s\n", res.Snippet.ID, res.Snippet.Label)
	return nil
}

// printView shows the reloaded snippet once a write lands.
type printView struct {
	w io.Writer
}

func (v printView) Render(ec editor.EditContext) {
	fmt.Fprintf(v.w, "saved %s %s\n", ec.Snippet.ID, ec.Snippet.Label)
}

func (v printView) ShowDraft(d editor.Draft, err error) {
	fmt.Fprintf(v.w, "not saved (%v); draft label %q\n", err, d.Label)
}

func (a *app) edit(ctx context.Context, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return a.usageError("usage: snipsync edit <id> [flags]")
	}
	id := args[0]
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fields := newDraftFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	ec, err := a.session.Editor.Load(ctx, id)
	if err != nil {
		return err
	}
	draft := editor.DraftFromSnippet(ec.Snippet)
	if err := fields.apply(fs, &draft, a.stdin); err != nil {
		return err
	}
	a.session.Editor.Open(id, printView{w: a.stdout})
	defer a.session.Editor.Cancel(id)
	res, err := a.session.Editor.UpdateSnippet(ctx, id, draft)
	if err != nil {
		return err
	}
	a.reportRefresh(res.RefreshErr)
	return nil
}

func (a *app) deleteSnippet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return a.usageError("usage: snipsync delete <id>")
	}
	res, err := a.session.Editor.DeleteSnippet(ctx, args[0])
	if err != nil {
		return err
	}
	a.reportRefresh(res.RefreshErr)
	fmt.Fprintf(a.stdout, "deleted %s\n", args[0])
	return nil
}

func (a *app) category(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.usageError("usage: snipsync category add <name> | rename <id> <name> | delete <id>")
	}
	ed := a.session.Editor
	switch op, rest := args[0], args[1:]; {
	case op == "add" && len(rest) >= 1:
		created, res, err := ed.CreateCategory(ctx, strings.Join(rest, " "))
		if err != nil {
			return err
		}
		a.reportRefresh(res.RefreshErr)
		fmt.Fprintf(a.stdout, "created category %s %s\n", created.ID, created.Name)
	case op == "rename" && len(rest) >= 2:
		res, err := ed.RenameCategory(ctx, rest[0], strings.Join(rest[1:], " "))
		if err != nil {
			return err
		}
		a.reportRefresh(res.RefreshErr)
		fmt.Fprintf(a.stdout, "renamed category %s\n", rest[0])
	case op == "delete" && len(rest) == 1:
		res, err := ed.DeleteCategory(ctx, rest[0])
		if err != nil {
			return err
		}
		a.reportRefresh(res.RefreshErr)
		fmt.Fprintf(a.stdout, "deleted category %s\n", rest[0])
	default:
		return a.usageError("usage: snipsync category add <name> | rename <id> <name> | delete <id>")
	}
	return nil
}

func (a *app) subcategory(ctx context.Context, args []string) error {
	const help = "usage: snipsync subcategory add <category-id> <name> | rename <id> <name> | delete <id>"
	if len(args) == 0 {
		return a.usageError(help)
	}
	ed := a.session.Editor
	switch op, rest := args[0], args[1:]; {
	case op == "add" && len(rest) >= 2:
		created, res, err := ed.CreateSubcategory(ctx, rest[0], strings.Join(rest[1:], " "))
		if err != nil {
			return err
		}
		a.reportRefresh(res.RefreshErr)
		fmt.Fprintf(a.stdout, "created subcategory %s %s\n", created.ID, created.Name)
	case op == "rename" && len(rest) >= 2:
		res, err := ed.RenameSubcategory(ctx, rest[0], strings.Join(rest[1:], " "))
		if err != nil {
			return err
		}
		a.reportRefresh(res.RefreshErr)
		fmt.Fprintf(a.stdout, "renamed subcategory %s\n", rest[0])
	case op == "delete" && len(rest) == 1:
		res, err := ed.DeleteSubcategory(ctx, rest[0])
		if err != nil {
			return err
		}
		a.reportRefresh(res.RefreshErr)
		fmt.Fprintf(a.stdout, "deleted subcategory %s\n", rest[0])
	default:
		return a.usageError(help)
	}
	return nil
}

func (a *app) seed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	watchDir := fs.Bool("watch", false, "re-import when component files change")
	debounce := fs.Duration("debounce", 200*time.Millisecond, "delay before re-importing after a change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return a.usageError("usage: snipsync seed [-watch] <dir>")
	}
	root := fs.Arg(0)
	seeder := a.session.Seeder()
	if !*watchDir {
		report, err := seeder.ImportDir(ctx, root)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "seeded %s: %s\n", root, report)
		return nil
	}
	return seeder.Watch(ctx, root, *debounce, func(report seed.Report, err error) {
		if err != nil {
			fmt.Fprintf(a.stderr, "import failed: %v\n", err)
			return
		}
		fmt.Fprintf(a.stdout, "seeded %s: %s\n", root, report)
	})
}

func (a *app) mount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mount", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	debug := fs.Bool("debug", false, "log every FUSE request")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return a.usageError("usage: snipsync mount <dir>")
	}
	dir := fs.Arg(0)
	if _, err := a.session.Refresh(ctx); err != nil {
		return err
	}
	watcher, err := a.session.Watcher(nil)
	if err != nil {
		return err
	}
	server, err := mount.Mount(dir, a.session.Tree, mount.Options{Debug: *debug, Logger: a.logger.Named("mount")})
	if err != nil {
		return err
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan error, 1)
	go func() { watchDone <- watcher.Run(watchCtx) }()

	served := make(chan struct{})
	go func() {
		server.Wait()
		close(served)
	}()
	fmt.Fprintf(a.stdout, "mounted at %s\n", dir)
	select {
	case <-ctx.Done():
		if err := server.Unmount(); err != nil {
			a.logger.Warn("unmount failed", zap.String("dir", dir), zap.Error(err))
		}
		<-served
	case <-served:
	}
	stopWatch()
	return <-watchDone
}

func (a *app) watch(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return a.usageError("usage: snipsync watch")
	}
	watcher, err := a.session.Watcher(func(reason string, cat *catalog.Catalog, err error) {
		if err != nil {
			fmt.Fprintf(a.stderr, "%s refresh failed: %v\n", reason, err)
			return
		}
		fmt.Fprintf(a.stdout, "%s refresh: %d snippets\n", reason, cat.SnippetCount())
	})
	if err != nil {
		return err
	}
	return watcher.Run(ctx)
}

func (a *app) reportRefresh(err error) {
	if err != nil {
		fmt.Fprintf(a.stderr, "warning: saved, but the catalog could not be refreshed: %v\n", err)
	}
}
