package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/tilechat/internal/api"
	"github.com/matheus3301/tilechat/internal/lock"
	"github.com/matheus3301/tilechat/internal/profile"
	"github.com/matheus3301/tilechat/internal/tui/client"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Commands that never touch the daemon.
	if args[0] == "profiles" {
		if len(args) >= 2 && args[1] == "list" {
			cmdProfilesList(*jsonFlag)
			return
		}
		fmt.Fprintln(os.Stderr, "usage: chatctl profiles list")
		os.Exit(1)
	}

	socketPath := profile.SocketPath(profileName)
	c, err := client.New(socketPath)
	if err != nil {
		fatalf("cannot connect to daemon for profile %q: %v", profileName, err)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	out := printer{json: *jsonFlag}
	switch args[0] {
	case "status":
		cmdStatus(ctx, c, out)
	case "login":
		cmdLogin(ctx, c, args[1:], out)
	case "logout":
		check(c.Logout(ctx))
		fmt.Println("Logged out.")
	case "conversations":
		cmdConversations(ctx, c, args[1:], out)
	case "use":
		if len(args) < 2 {
			fatalf("usage: chatctl use <conversation-id>")
		}
		check(c.SetActiveConversation(ctx, parseID(args[1])))
		fmt.Printf("Active conversation: %s\n", args[1])
	case "messages":
		cmdMessages(ctx, c, args[1:], out)
	case "send":
		cmdSend(ctx, c, args[1:])
	case "contact-admin":
		cmdContactAdmin(ctx, c, args[1:])
	case "read":
		if len(args) < 2 {
			fatalf("usage: chatctl read <message-id>...")
		}
		ids := make([]int64, 0, len(args)-1)
		for _, a := range args[1:] {
			ids = append(ids, parseID(a))
		}
		check(c.MarkRead(ctx, ids))
		fmt.Printf("Marked %d message(s) as read.\n", len(ids))
	case "search":
		cmdSearch(ctx, c, args[1:], out)
	case "clear-error":
		check(c.ClearError(ctx))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon and session status")
	fmt.Fprintln(os.Stderr, "  login <username>                Log in (password read from stdin)")
	fmt.Fprintln(os.Stderr, "  logout                          Clear stored credentials")
	fmt.Fprintln(os.Stderr, "  conversations [--refresh]       List conversations")
	fmt.Fprintln(os.Stderr, "  use <id>                        Make a conversation active")
	fmt.Fprintln(os.Stderr, "  messages [--refresh] [id]       List messages of a conversation")
	fmt.Fprintln(os.Stderr, "  send [--to id] [--attach f] t   Send a message")
	fmt.Fprintln(os.Stderr, "  contact-admin [--attach f] t    Message the shop admins")
	fmt.Fprintln(os.Stderr, "  read <id>...                    Mark messages as read")
	fmt.Fprintln(os.Stderr, "  search [--conversation id] q    Search cached messages")
	fmt.Fprintln(os.Stderr, "  clear-error                     Dismiss the last error")
	fmt.Fprintln(os.Stderr, "  watch [namespace...]            Stream daemon events")
	fmt.Fprintln(os.Stderr, "  profiles list                   List local profiles")
}

type printer struct {
	json bool
}

// emit prints v as JSON when --json is set and reports whether it did.
func (p printer) emit(v any) bool {
	if !p.json {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
	return true
}

func cmdStatus(ctx context.Context, c *client.Client, out printer) {
	st, err := c.GetStatus(ctx)
	check(err)
	if out.emit(st) {
		return
	}
	fmt.Printf("Profile: %s\n", st.Profile)
	fmt.Printf("Status:  %s\n", st.Status)
	fmt.Printf("Backend: %s\n", st.BaseURL)
	if st.User != nil {
		fmt.Printf("User:    %s (#%d)\n", st.User.DisplayName(), st.User.ID)
	} else {
		fmt.Println("User:    not logged in")
	}
	fmt.Printf("Unread:  %d\n", st.UnreadCount)
	fmt.Printf("Conversations: %d (active %d)\n", st.ConversationCount, st.ActiveConversationID)
	fmt.Printf("Cached messages: %d\n", st.CachedMessages)
	fmt.Printf("Uptime:  %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
	if st.Error != "" {
		fmt.Printf("Error:   %s\n", st.Error)
	}
}

func cmdLogin(ctx context.Context, c *client.Client, args []string, out printer) {
	if len(args) < 1 {
		fatalf("usage: chatctl login <username>")
	}
	password := os.Getenv("TILECHAT_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fatalf("read password: %v", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	user, err := c.Login(ctx, args[0], password)
	check(err)
	if out.emit(user) {
		return
	}
	fmt.Printf("Logged in as %s.\n", user.DisplayName())
}

func cmdConversations(ctx context.Context, c *client.Client, args []string, out printer) {
	fs := flag.NewFlagSet("conversations", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "poll the backend first")
	_ = fs.Parse(args)

	list, err := c.ListConversations(ctx, *refresh)
	check(err)
	if out.emit(list) {
		return
	}
	if len(list.Conversations) == 0 {
		fmt.Println("No conversations.")
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, conv := range list.Conversations {
		marker := " "
		if conv.Active {
			marker = "*"
		}
		preview := ""
		if conv.LastMessage != nil {
			preview = oneLine(conv.LastMessage.Content, 40)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d unread\t%s\n", marker, conv.ID, conv.PeerName, conv.UnreadCount, preview)
	}
	_ = w.Flush()
	fmt.Printf("Total unread: %d\n", list.UnreadCount)
	if list.Error != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", list.Error)
	}
}

func cmdMessages(ctx context.Context, c *client.Client, args []string, out printer) {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "poll the backend first")
	limit := fs.Int("limit", 50, "show at most this many recent messages")
	_ = fs.Parse(args)

	req := api.ListMessagesRequest{Refresh: *refresh, Limit: *limit}
	if fs.NArg() > 0 {
		req.ConversationID = parseID(fs.Arg(0))
	}
	list, err := c.ListMessages(ctx, req)
	check(err)
	if out.emit(list) {
		return
	}
	if !list.Live {
		fmt.Println("(cached)")
	}
	for _, m := range list.Messages {
		who := m.SenderUsername
		if who == "" {
			who = "#" + strconv.FormatInt(m.Sender, 10)
		}
		fmt.Printf("[%s] %s: %s (%s)\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), who, m.Content, m.Status)
		if m.AttachmentURL != "" {
			fmt.Printf("    attachment: %s\n", m.AttachmentURL)
		}
	}
}

func cmdSend(ctx context.Context, c *client.Client, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.Int64("to", 0, "receiver user id (default: peer of the active conversation)")
	attach := fs.String("attach", "", "file to attach")
	_ = fs.Parse(args)

	req := api.SendRequest{ReceiverID: *to, Content: strings.Join(fs.Args(), " ")}
	req.AttachmentName, req.AttachmentData = readAttachment(*attach)
	check(c.SendMessage(ctx, req))
	fmt.Println("Sent.")
}

func cmdContactAdmin(ctx context.Context, c *client.Client, args []string) {
	fs := flag.NewFlagSet("contact-admin", flag.ExitOnError)
	attach := fs.String("attach", "", "file to attach")
	_ = fs.Parse(args)

	req := api.ContactAdminRequest{Message: strings.Join(fs.Args(), " ")}
	req.AttachmentName, req.AttachmentData = readAttachment(*attach)
	check(c.ContactAdmin(ctx, req))
	fmt.Println("Message sent to the shop admins.")
}

func cmdSearch(ctx context.Context, c *client.Client, args []string, out printer) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	conv := fs.Int64("conversation", 0, "restrict to one conversation")
	limit := fs.Int("limit", 20, "maximum results")
	_ = fs.Parse(args)

	hits, err := c.SearchMessages(ctx, api.SearchRequest{
		Query:          strings.Join(fs.Args(), " "),
		ConversationID: *conv,
		Limit:          *limit,
	})
	check(err)
	if out.emit(hits) {
		return
	}
	if len(hits) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, h := range hits {
		fmt.Printf("conv %d  msg %d  %s\n", h.ConversationID, h.Message.ID, h.Snippet)
	}
}

func cmdWatch(c *client.Client, namespaces []string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	events, errs, err := c.WatchEvents(ctx, namespaces...)
	check(err)
	out := printer{json: jsonOut}
	for evt := range events {
		if out.emit(evt) {
			continue
		}
		payload, _ := json.Marshal(evt.Payload)
		ts := time.UnixMilli(evt.OccurredAtUnixMs).Format("15:04:05")
		fmt.Printf("%s %-28s %s\n", ts, evt.Kind, payload)
	}
	select {
	case err := <-errs:
		check(err)
	default:
	}
}

func cmdProfilesList(jsonOut bool) {
	names, err := profile.List()
	check(err)

	type row struct {
		Name          string `json:"name"`
		Path          string `json:"path"`
		DaemonRunning bool   `json:"daemon_running"`
		PID           int    `json:"pid,omitempty"`
	}
	rows := make([]row, 0, len(names))
	for _, name := range names {
		dir := profile.Dir(name)
		r := row{Name: name, Path: dir}
		if _, err := os.Stat(profile.SocketPath(name)); err == nil {
			r.PID = lock.HolderPID(dir)
			r.DaemonRunning = r.PID > 0
		}
		rows = append(rows, r)
	}
	if (printer{json: jsonOut}).emit(rows) {
		return
	}
	if len(rows) == 0 {
		fmt.Println("No profiles found.")
		return
	}
	for _, r := range rows {
		running := "stopped"
		if r.DaemonRunning {
			running = fmt.Sprintf("running, pid %d", r.PID)
		}
		fmt.Printf("%-20s %s (%s)\n", r.Name, r.Path, running)
	}
}

func readAttachment(path string) (string, []byte) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fatalf("read attachment: %v", err)
	}
	return filepath.Base(path), data
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fatalf("invalid id %q", s)
	}
	return id
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func check(err error) {
	if err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
