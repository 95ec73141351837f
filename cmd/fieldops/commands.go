package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fieldops.org/internal/task"
)

func (a *app) run(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.cmdLogin(ctx, rest)
	case "logout":
		return a.auth.Logout()
	case "create":
		return a.cmdCreate(ctx, rest)
	case "list":
		return a.cmdList(ctx, rest)
	case "show":
		return a.cmdShow(ctx, rest)
	case "publish":
		return a.cmdTransition(ctx, rest, a.engine.Publish)
	case "progress":
		return a.cmdProgress(ctx, rest)
	case "submit":
		return a.cmdTransition(ctx, rest, a.engine.SubmitForReview)
	case "review":
		return a.cmdReview(ctx, rest)
	case "approve":
		return a.cmdTransition(ctx, rest, a.review.Approve)
	case "deny":
		return a.cmdDeny(ctx, rest)
	case "delete":
		return a.cmdDelete(ctx, rest)
	case "restore":
		return a.cmdRestore(ctx, rest)
	case "notes":
		return a.cmdNotes(ctx, rest)
	case "note":
		return a.cmdAddNote(ctx, rest)
	default:
		usage()
		return nil
	}
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	user := fs.String("u", "", "username")
	pass := fs.String("p", "", "password")
	fs.Parse(args)
	if *user == "" || *pass == "" {
		return fmt.Errorf("login: -u and -p are required")
	}
	if err := a.auth.Login(ctx, *user, *pass); err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%s)\n", a.store.Subject(), a.store.Role())
	return nil
}

func (a *app) cmdCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "task name")
	desc := fs.String("desc", "", "description")
	assignee := fs.String("assignee", "", "assignee user id")
	priority := fs.Int("priority", int(task.PriorityMedium), "priority (1=low 2=medium 3=high)")
	end := fs.String("end", "", "deadline, RFC 3339 or YYYY-MM-DD")
	var goals goalFlags
	fs.Var(&goals, "goal", "goal as type:point:detail, repeatable")
	fs.Parse(args)

	d := task.Draft{
		Name:        *name,
		Description: *desc,
		AssigneeID:  *assignee,
		Priority:    task.Priority(*priority),
		StartAt:     time.Now().UTC(),
		Goals:       goals,
	}
	if *end != "" {
		at, err := parseWhen(*end)
		if err != nil {
			return err
		}
		d.EndAt = &at
	}
	t, err := a.engine.Create(ctx, d)
	if err != nil {
		return err
	}
	printTask(t)
	return nil
}

func (a *app) cmdList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	state := fs.Int("state", 0, "filter by state (1..6)")
	priority := fs.Int("priority", 0, "filter by priority (1..3)")
	assignee := fs.String("assignee", "", "filter by assignee id")
	page := fs.Int("page", 1, "page number")
	size := fs.Int("size", 20, "page size")
	fs.Parse(args)

	f := task.Filter{AssigneeID: *assignee, Page: *page, Size: *size}
	if *state != 0 {
		s := task.State(*state)
		f.State = &s
	}
	if *priority != 0 {
		p := task.Priority(*priority)
		f.Priority = &p
	}
	pg, err := a.engine.List(ctx, f)
	if err != nil {
		return err
	}
	now := time.Now()
	for i := range pg.Items {
		t := &pg.Items[i]
		fmt.Printf("%s  %-10s %-8s %s\n", t.ID, t.Effective(now), t.Priority, t.Name)
	}
	fmt.Printf("page %d/%d (%d total)\n", pg.Page, (pg.Total+pg.Size-1)/max(pg.Size, 1), pg.Total)
	return nil
}

func (a *app) cmdShow(ctx context.Context, args []string) error {
	id, err := oneID(args, "show")
	if err != nil {
		return err
	}
	t, err := a.engine.Get(ctx, id)
	if err != nil {
		return err
	}
	printTask(t)
	return nil
}

func (a *app) cmdTransition(ctx context.Context, args []string, fn func(context.Context, *task.Task) (*task.Task, error)) error {
	id, err := oneID(args, "transition")
	if err != nil {
		return err
	}
	t, err := a.engine.Get(ctx, id)
	if err != nil {
		return err
	}
	t, err = fn(ctx, t)
	if err != nil {
		return err
	}
	printTask(t)
	return nil
}

func (a *app) cmdProgress(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("progress: want <id> <goal#> <value>")
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil || idx < 1 {
		return fmt.Errorf("progress: goal number must be a positive integer")
	}
	t, err := a.engine.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if idx > len(t.Goals) {
		return fmt.Errorf("progress: task has %d goals", len(t.Goals))
	}
	progress := make([]string, len(t.Goals))
	progress[idx-1] = args[2]
	t, err = a.engine.SaveProgress(ctx, t, progress)
	if err != nil {
		return err
	}
	printTask(t)
	return nil
}

func (a *app) cmdReview(ctx context.Context, args []string) error {
	id, err := oneID(args, "review")
	if err != nil {
		return err
	}
	d, err := a.review.Detail(ctx, id)
	if err != nil {
		return err
	}
	printTask(&d.Task)
	for _, ev := range d.Evaluations {
		fmt.Printf("  evaluation[goal %d]: %s\n", ev.GoalIndex+1, ev.Summary)
	}
	for _, n := range d.Notes {
		fmt.Printf("  note %s by %s: %s\n", n.CreatedAt.Format(time.RFC3339), n.AuthorID, n.Text)
	}
	return nil
}

func (a *app) cmdDeny(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deny", flag.ExitOnError)
	reason := fs.String("reason", "", "denial reason recorded as a note")
	fs.Parse(args)
	id, err := oneID(fs.Args(), "deny")
	if err != nil {
		return err
	}
	t, err := a.engine.Get(ctx, id)
	if err != nil {
		return err
	}
	t, err = a.review.Deny(ctx, t, *reason)
	if err != nil {
		return err
	}
	printTask(t)
	return nil
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	id, err := oneID(args, "delete")
	if err != nil {
		return err
	}
	t, err := a.engine.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := a.engine.Delete(ctx, t); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", id)
	return nil
}

func (a *app) cmdRestore(ctx context.Context, args []string) error {
	id, err := oneID(args, "restore")
	if err != nil {
		return err
	}
	t, err := a.engine.Restore(ctx, id)
	if err != nil {
		return err
	}
	printTask(t)
	return nil
}

func (a *app) cmdNotes(ctx context.Context, args []string) error {
	id, err := oneID(args, "notes")
	if err != nil {
		return err
	}
	notes, err := a.review.ListNotes(ctx, id)
	if err != nil {
		return err
	}
	for _, n := range notes {
		fmt.Printf("%s  %s: %s\n", n.CreatedAt.Format(time.RFC3339), n.AuthorID, n.Text)
	}
	return nil
}

func (a *app) cmdAddNote(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("note: want <id> <text>")
	}
	n, err := a.review.AddNote(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("note %s added\n", n.ID)
	return nil
}

func oneID(args []string, cmd string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: want exactly one task id", cmd)
	}
	return args[0], nil
}

func parseWhen(s string) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339, s); err == nil {
		return at, nil
	}
	at, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q as a time", s)
	}
	// a date-only deadline means end of that day
	return at.Add(24*time.Hour - time.Second), nil
}

func printTask(t *task.Task) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(t)
	fmt.Printf("display status: %s\n", t.Effective(time.Now()))
}

// goalFlags parses repeated -goal type:point:detail values.
type goalFlags []task.Goal

func (g *goalFlags) String() string { return fmt.Sprintf("%d goals", len(*g)) }

func (g *goalFlags) Set(v string) error {
	parts := strings.SplitN(v, ":", 3)
	if len(parts) != 3 {
		return fmt.Errorf("goal %q: want type:point:detail", v)
	}
	typ, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("goal %q: bad type", v)
	}
	point, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("goal %q: bad point", v)
	}
	*g = append(*g, task.Goal{Type: task.GoalType(typ), Point: point, Detail: parts[2]})
	return nil
}
