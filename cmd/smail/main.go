package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/smailhq/smail/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL string `json:"api_base_url"`
	Token      string `json:"token"`
	Email      string `json:"email"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "register":
		err = commandRegister(args)
	case "login":
		err = commandLogin(args)
	case "send":
		err = commandSend(args)
	case "list":
		err = commandList(args)
	case "show":
		err = commandShow(args)
	case "rm":
		err = commandDelete(args)
	case "counts":
		err = commandCounts(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	name := fs.String("name", "", "Display name (defaults to the email local part)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:5001)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := resolvePassword(*password)
	if err != nil {
		return err
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := client.Register(ctx, *email, secret, *name)
	if err != nil {
		return err
	}
	cfg.Token = resp.Token
	cfg.Email = resp.User.Email
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("registered as %s\n", resp.User.Email)
	return nil
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:5001)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := resolvePassword(*password)
	if err != nil {
		return err
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := client.Login(ctx, *email, secret)
	if err != nil {
		return err
	}
	cfg.Token = resp.Token
	cfg.Email = resp.User.Email
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "Recipient address")
	subject := fs.String("subject", "", "Subject line")
	body := fs.String("body", "", "Message body")
	fs.Parse(args)

	if strings.TrimSpace(*to) == "" {
		return errors.New("--to is required")
	}
	if strings.TrimSpace(*subject) == "" {
		return errors.New("--subject is required")
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sent, err := client.SendEmail(ctx, token, apiclient.SendEmailInput{
		To:      *to,
		Subject: *subject,
		Body:    *body,
	})
	if err != nil {
		return err
	}
	fmt.Printf("sent %s to %s\n", sent.ID, sent.To)
	return nil
}

func commandList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	folder := fs.String("folder", "inbox", "Folder to list")
	search := fs.String("search", "", "Filter by subject, body, or sender")
	limit := fs.Int("limit", 0, "Maximum number of emails to display")
	fs.Parse(args)

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	emails, err := client.ListEmails(ctx, token, *folder, *search)
	if err != nil {
		return err
	}
	count := len(emails)
	if *limit > 0 && *limit < count {
		count = *limit
	}
	for i := 0; i < count; i++ {
		e := emails[i]
		marker := " "
		if !e.Read {
			marker = "*"
		}
		fmt.Printf("%s %s\t%s\t%s\t%s\n", marker, e.ID, e.From, e.Subject, e.Date.Format(time.RFC3339))
	}
	return nil
}

func commandShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	keepUnread := fs.Bool("keep-unread", false, "Do not mark the email as read")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: smail show <email-id>")
	}
	id := fs.Arg(0)

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	email, err := client.GetEmail(ctx, token, id)
	if err != nil {
		return err
	}
	if !email.Read && !*keepUnread {
		read := true
		if _, err := client.UpdateEmail(ctx, token, id, apiclient.UpdateEmailInput{Read: &read}); err != nil {
			return err
		}
	}
	fmt.Printf("From: %s\nTo: %s\nDate: %s\nSubject: %s\n\n%s\n",
		email.From, email.To, email.Date.Format(time.RFC1123), email.Subject, email.Body)

	attachments, err := client.ListAttachments(ctx, token, id)
	if err != nil {
		return err
	}
	for _, a := range attachments {
		fmt.Printf("attachment: %s (%d bytes, %s)\n", a.Filename, a.Size, a.MimeType)
	}
	return nil
}

func commandDelete(args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: smail rm <email-id>")
	}
	id := fs.Arg(0)

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	purged, err := client.DeleteEmail(ctx, token, id)
	if err != nil {
		return err
	}
	if purged {
		fmt.Println("email permanently deleted")
	} else {
		fmt.Println("email moved to trash")
	}
	return nil
}

func commandCounts(args []string) error {
	fs := flag.NewFlagSet("counts", flag.ExitOnError)
	fs.Parse(args)

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	counts, err := client.GetFolderCounts(ctx, token)
	if err != nil {
		return err
	}
	fmt.Printf("inbox: %d (%d unread)\nsent: %d\narchive: %d\ntrash: %d\n",
		counts.Inbox, counts.Unread, counts.Sent, counts.Archive, counts.Trash)
	return nil
}

func resolvePassword(provided string) (string, error) {
	secret := strings.TrimSpace(provided)
	if secret != "" {
		return secret, nil
	}
	fmt.Print("Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

func authedClient() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, "", errors.New("please login first using 'smail login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:5001"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:5001"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "smail", "config.json"), nil
}

func printUsage() {
	fmt.Printf("smail CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	smail register --email user@smail.com [--password secret] [--name Name] [--api http://localhost:5001]
	smail login --email user@smail.com [--password secret] [--api http://localhost:5001]
	smail send --to user@smail.com --subject "Hi" [--body "text"]
	smail list [--folder inbox|sent|archive|trash] [--search text] [--limit N]
	smail show <email-id> [--keep-unread]
	smail rm <email-id>
	smail counts
	smail version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
