package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"gorelay/client"
	"gorelay/config"
	"gorelay/util"
)

// runConnect joins a relay as a protocol peer: rosters and chat lines
// print to stdout, incoming files land in the download directory, and
// stdin lines drive outbound traffic.
func runConnect(ctx context.Context, cfg *config.Config, logger *util.Logger) error {
	addr := util.FormatAddr(cfg.ConnectHost, cfg.Port)
	c, err := client.DialRetry(ctx, addr, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	stdin := bufio.NewReader(os.Stdin)

	username := cfg.Username
	if username == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("username: ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading username: %w", err)
		}
		username = strings.TrimSpace(line)
	}

	prompt, err := c.Login(username)
	if err != nil {
		return err
	}
	logger.Debug("server prompt: %q", prompt)
	logger.Info("connected to %s", addr)

	go printEvents(c, cfg.DownloadDir, logger)

	for {
		line, err := stdin.ReadString('\n')
		if err != nil {
			return nil // stdin closed, done
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/send "):
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 3 {
				fmt.Println("usage: /send <name> <path>")
				continue
			}
			if err := sendFile(c, parts[1], parts[2]); err != nil {
				logger.Error("send file: %v", err)
			}
		case strings.HasPrefix(line, "@"):
			to, text, ok := strings.Cut(line[1:], " ")
			if !ok || to == "" {
				fmt.Println("usage: @<name> <message>")
				continue
			}
			if err := c.SendMessage(to, text); err != nil {
				return err
			}
		default:
			fmt.Println("commands: @<name> <msg>, /send <name> <path>, /quit")
		}
	}
}

// printEvents drains server events until the connection dies.
func printEvents(c *client.Client, downloadDir string, logger *util.Logger) {
	for {
		ev, err := c.Next()
		if err != nil {
			logger.Verbose("connection closed: %v", err)
			return
		}

		switch ev.Kind {
		case client.EventRoster:
			fmt.Printf("online: %s\n", strings.Join(ev.Roster, ", "))
		case client.EventChat:
			fmt.Println(ev.Text)
		case client.EventFileOffer:
			saveFile(c, ev, downloadDir, logger)
		}
	}
}

func saveFile(c *client.Client, ev client.Event, downloadDir string, logger *util.Logger) {
	// Base strips any path the sender smuggled into the filename.
	path := filepath.Join(downloadDir, filepath.Base(ev.Filename))
	f, err := os.Create(path)
	if err != nil {
		logger.Error("saving %s: %v", ev.Filename, err)
		if derr := c.DiscardFile(); derr != nil {
			logger.Error("discarding payload: %v", derr)
		}
		return
	}
	defer f.Close()

	n, err := c.ReadFile(f)
	if err != nil {
		logger.Error("receiving %s after %d bytes: %v", ev.Filename, n, err)
		return
	}
	fmt.Printf("received %s from %s (%d bytes) -> %s\n", ev.Filename, ev.Sender, n, path)
}

func sendFile(c *client.Client, to, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	if err := c.SendFile(to, filepath.Base(path), st.Size(), f); err != nil {
		return err
	}
	fmt.Printf("sent %s to %s (%d bytes)\n", filepath.Base(path), to, st.Size())
	return nil
}
