// Command focus is the focus CLI client.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GoCodeAlone/focus/internal/version"
)

const defaultServer = "http://localhost:9191"

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	tiedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func main() {
	var (
		serverURL = flag.String("server", defaultServer, "focus server URL")
		token     = flag.String("token", os.Getenv("FOCUS_TOKEN"), "JWT auth token")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		Token:      *token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Out:        os.Stdout,
	}

	if err := cli.Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `focus: command-line client for focusd

Usage:
  focus [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:9191)
  --token   <token>  JWT auth token (or $FOCUS_TOKEN)

Commands:
  version                             print version
  status                              show server and scheduler status
  login <user> <password>             print a token
  now                                 show the task to work on next
  tasks [state]                       list tasks
  ranked                              list actionable tasks by importance
  add <tier> <title> [--due DATE]     create a task (tier: low|medium|high)
  done <id>                           complete a task
  defer <id> <DATE> [reason]          defer until DATE (reason: too_big|blocked|waiting_on_other|other)
  delegate <id> <who> <DATE>          delegate with a follow-up date
  someday <id>                        shelve a task
  reclaim <id>                        bring a delegated or someday task back
  trash <id>                          discard a task
  tier <id> <tier>                    change a task's tier
  prefer <winner> <loser>             resolve a tie
  block <blocked> <blocking>          add a dependency
  unblock <blocked> <blocking>        remove a dependency
  blockers <id>                       list a task's blockers
  history <id>                        show a task's lifecycle history
  reviewed                            acknowledge the someday review
  events                              show recent events

Dates are YYYY-MM-DD.
`)
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Out        io.Writer
}

// Run dispatches one command.
func (c *Client) Run(args []string) error {
	cmd, rest := args[0], args[1:]
	need := func(n int, form string) error {
		if len(rest) < n {
			return fmt.Errorf("usage: focus %s", form)
		}
		return nil
	}

	switch cmd {
	case "version":
		fmt.Fprintln(c.Out, version.String("focus"))
		return nil
	case "status":
		return c.cmdStatus()
	case "login":
		if err := need(2, "login <user> <password>"); err != nil {
			return err
		}
		return c.cmdLogin(rest[0], rest[1])
	case "now":
		return c.cmdNow()
	case "tasks":
		state := ""
		if len(rest) > 0 {
			state = rest[0]
		}
		return c.cmdTasks(state)
	case "ranked":
		return c.cmdRanked()
	case "add":
		if err := need(2, "add <tier> <title> [--due DATE]"); err != nil {
			return err
		}
		return c.cmdAdd(rest[0], rest[1:])
	case "done":
		if err := need(1, "done <id>"); err != nil {
			return err
		}
		return c.transition(rest[0], map[string]string{"to": "completed"})
	case "defer":
		if err := need(2, "defer <id> <DATE> [reason]"); err != nil {
			return err
		}
		body := map[string]string{"to": "deferred", "start_date": rest[1]}
		if len(rest) > 2 {
			body["reason"] = rest[2]
		}
		return c.transition(rest[0], body)
	case "delegate":
		if err := need(3, "delegate <id> <who> <DATE>"); err != nil {
			return err
		}
		return c.transition(rest[0], map[string]string{"to": "delegated", "delegated_to": rest[1], "follow_up_date": rest[2]})
	case "someday":
		if err := need(1, "someday <id>"); err != nil {
			return err
		}
		return c.transition(rest[0], map[string]string{"to": "someday"})
	case "reclaim":
		if err := need(1, "reclaim <id>"); err != nil {
			return err
		}
		return c.transition(rest[0], map[string]string{"to": "active"})
	case "trash":
		if err := need(1, "trash <id>"); err != nil {
			return err
		}
		return c.transition(rest[0], map[string]string{"to": "trash"})
	case "tier":
		if err := need(2, "tier <id> <tier>"); err != nil {
			return err
		}
		var t taskView
		if err := c.send(http.MethodPut, "/api/tasks/"+rest[0]+"/tier", map[string]string{"tier": rest[1]}, &t); err != nil {
			return err
		}
		fmt.Fprintf(c.Out, "%s is now %s\n", t.ID, display(t.tierName()))
		return nil
	case "prefer":
		if err := need(2, "prefer <winner> <loser>"); err != nil {
			return err
		}
		var rec map[string]any
		if err := c.send(http.MethodPost, "/api/comparisons", map[string]string{"winner_id": rest[0], "loser_id": rest[1]}, &rec); err != nil {
			return err
		}
		fmt.Fprintf(c.Out, "recorded: %s (%.1f) over %s (%.1f)\n",
			rest[0], rec["winner_rating_after"], rest[1], rec["loser_rating_after"])
		return nil
	case "block", "unblock":
		if err := need(2, cmd+" <blocked> <blocking>"); err != nil {
			return err
		}
		method := http.MethodPost
		if cmd == "unblock" {
			method = http.MethodDelete
		}
		if err := c.send(method, "/api/dependencies", map[string]string{"blocked": rest[0], "blocking": rest[1]}, nil); err != nil {
			return err
		}
		fmt.Fprintln(c.Out, "ok")
		return nil
	case "blockers":
		if err := need(1, "blockers <id>"); err != nil {
			return err
		}
		var tasks []taskView
		if err := c.get("/api/tasks/"+rest[0]+"/blockers", &tasks); err != nil {
			return err
		}
		c.printTasks(tasks)
		return nil
	case "history":
		if err := need(1, "history <id>"); err != nil {
			return err
		}
		return c.cmdHistory(rest[0])
	case "reviewed":
		if err := c.send(http.MethodPost, "/api/reviews/someday/ack", nil, nil); err != nil {
			return err
		}
		fmt.Fprintln(c.Out, "someday review acknowledged")
		return nil
	case "events":
		return c.cmdEvents()
	case "serve":
		return fmt.Errorf("use focusd to run the server")
	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// taskView is the subset of a task the CLI prints.
type taskView struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Tier    int    `json:"tier"`
	State   string `json:"state"`
	DueDate string `json:"due_date"`
}

func (t taskView) tierName() string {
	switch t.Tier {
	case 1:
		return "low"
	case 2:
		return "medium"
	case 3:
		return "high"
	default:
		return "?"
	}
}

func (t taskView) due() string {
	if len(t.DueDate) >= 10 {
		return t.DueDate[:10]
	}
	return "-"
}

// overdue reports whether the task is open and due before today.
func (t taskView) overdue(today string) bool {
	open := t.State != "completed" && t.State != "trash"
	return open && t.due() != "-" && t.due() < today
}

// display title-cases an enum value for output.
func display(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}

// --- HTTP helpers ---

// get performs a GET and decodes JSON into v.
func (c *Client) get(path string, v any) error {
	return c.send(http.MethodGet, path, nil, v)
}

// send performs a request with an optional JSON body and decodes the JSON
// response into v (may be nil).
func (c *Client) send(method, path string, body, v any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// --- commands ---

func (c *Client) cmdStatus() error {
	var result struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Uptime  string `json:"uptime"`
		Jobs    map[string]struct {
			LastRun   time.Time `json:"last_run"`
			LastError string    `json:"last_error"`
			Runs      int       `json:"runs"`
			Failures  int       `json:"failures"`
		} `json:"jobs"`
	}
	if err := c.get("/api/status", &result); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "status:  %s\n", result.Status)
	fmt.Fprintf(c.Out, "version: %s\n", result.Version)
	if result.Uptime != "" {
		fmt.Fprintf(c.Out, "uptime:  %s\n", result.Uptime)
	}
	for name, j := range result.Jobs {
		fmt.Fprintf(c.Out, "job %-22s runs=%d failures=%d last=%s %s\n",
			name, j.Runs, j.Failures, j.LastRun.Format(time.RFC3339), j.LastError)
	}
	return nil
}

func (c *Client) cmdLogin(user, pass string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.send(http.MethodPost, "/api/auth/login", map[string]string{"username": user, "password": pass}, &resp); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, resp.Token)
	return nil
}

type scoredView struct {
	Task       taskView `json:"task"`
	Importance struct {
		Score float64 `json:"score"`
	} `json:"importance"`
}

func (c *Client) cmdNow() error {
	var res struct {
		Kind string       `json:"kind"`
		Task *scoredView  `json:"task"`
		Tied []scoredView `json:"tied"`
	}
	if err := c.get("/api/focus", &res); err != nil {
		return err
	}
	switch res.Kind {
	case "single":
		t := res.Task.Task
		fmt.Fprintf(c.Out, "%s %s  [%s, due %s, score %.2f]\n  %s\n",
			labelStyle.Render("Now:"), titleStyle.Render(t.Title),
			display(t.tierName()), t.due(), res.Task.Importance.Score, labelStyle.Render("id "+t.ID))
	case "tied":
		fmt.Fprintln(c.Out, tiedStyle.Render("These tasks are equally important; pick one with `focus prefer <winner> <loser>`:"))
		for _, s := range res.Tied {
			fmt.Fprintf(c.Out, "  %s  %s\n", s.Task.ID, s.Task.Title)
		}
	default:
		fmt.Fprintln(c.Out, "Nothing to do.")
	}
	return nil
}

func (c *Client) cmdTasks(state string) error {
	path := "/api/tasks"
	if state != "" {
		path += "?state=" + state
	}
	var tasks []taskView
	if err := c.get(path, &tasks); err != nil {
		return err
	}
	c.printTasks(tasks)
	return nil
}

func (c *Client) cmdRanked() error {
	var ranked []scoredView
	if err := c.get("/api/tasks?ranked=true", &ranked); err != nil {
		return err
	}
	if len(ranked) == 0 {
		fmt.Fprintln(c.Out, "no actionable tasks")
		return nil
	}
	fmt.Fprintf(c.Out, "%-6s %-36s %-30s %-8s\n", "SCORE", "ID", "TITLE", "TIER")
	fmt.Fprintln(c.Out, strings.Repeat("-", 83))
	for _, s := range ranked {
		fmt.Fprintf(c.Out, "%-6.2f %-36s %-30s %-8s\n",
			s.Importance.Score, s.Task.ID, truncate(s.Task.Title, 29), display(s.Task.tierName()))
	}
	return nil
}

func (c *Client) printTasks(tasks []taskView) {
	if len(tasks) == 0 {
		fmt.Fprintln(c.Out, "no tasks")
		return
	}
	fmt.Fprintf(c.Out, "%-36s %-30s %-8s %-10s %-10s\n", "ID", "TITLE", "TIER", "STATE", "DUE")
	fmt.Fprintln(c.Out, strings.Repeat("-", 98))
	today := time.Now().Format("2006-01-02")
	for _, t := range tasks {
		due := fmt.Sprintf("%-10s", t.due())
		if t.overdue(today) {
			due = overdueStyle.Render(due)
		}
		fmt.Fprintf(c.Out, "%-36s %-30s %-8s %-10s %s\n",
			t.ID, truncate(t.Title, 29), display(t.tierName()), display(t.State), due)
	}
}

func (c *Client) cmdAdd(tier string, args []string) error {
	var due string
	var words []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--due" && i+1 < len(args) {
			due = args[i+1]
			i++
			continue
		}
		words = append(words, args[i])
	}
	if len(words) == 0 {
		return fmt.Errorf("usage: focus add <tier> <title> [--due DATE]")
	}
	body := map[string]string{"tier": tier, "title": strings.Join(words, " ")}
	if due != "" {
		body["due_date"] = due
	}
	var t taskView
	if err := c.send(http.MethodPost, "/api/tasks", body, &t); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "created task %s\n", t.ID)
	return nil
}

func (c *Client) transition(id string, body map[string]string) error {
	var t taskView
	if err := c.send(http.MethodPost, "/api/tasks/"+id+"/transition", body, &t); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "%s is now %s\n", t.ID, display(t.State))
	return nil
}

func (c *Client) cmdHistory(id string) error {
	var hist []struct {
		From      string    `json:"from"`
		To        string    `json:"to"`
		Origin    string    `json:"origin"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := c.get("/api/tasks/"+id+"/history", &hist); err != nil {
		return err
	}
	if len(hist) == 0 {
		fmt.Fprintln(c.Out, "no history")
		return nil
	}
	for _, h := range hist {
		fmt.Fprintf(c.Out, "%s  %s -> %s  (%s)\n",
			h.CreatedAt.Local().Format("2006-01-02 15:04"), display(h.From), display(h.To), h.Origin)
	}
	return nil
}

func (c *Client) cmdEvents() error {
	var evs []struct {
		Kind      string    `json:"kind"`
		TaskIDs   []string  `json:"task_ids"`
		Error     string    `json:"error"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := c.get("/api/events?limit=20", &evs); err != nil {
		return err
	}
	if len(evs) == 0 {
		fmt.Fprintln(c.Out, "no events")
		return nil
	}
	for _, ev := range evs {
		line := fmt.Sprintf("%s  %-24s %s", ev.Timestamp.Local().Format("2006-01-02 15:04"),
			display(ev.Kind), strings.Join(ev.TaskIDs, ","))
		if ev.Error != "" {
			line += "  " + ev.Error
		}
		fmt.Fprintln(c.Out, line)
	}
	return nil
}

// --- helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
